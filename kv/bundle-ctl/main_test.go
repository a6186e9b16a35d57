package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/transaction"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/bundle"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestApply(t *testing.T) {
	coord := transaction.NewCoordinator(storage.NewMemStorage(), config.NewTestConfig())
	in := strings.NewReader(`{"operations":[{"operation":"create","resourceType":"Patient","resource":{"resourceType":"Patient"}}]}`)
	var out bytes.Buffer
	require.NoError(t, apply(newTestCommand(), coord, in, &out, false))

	var resp bundle.BundleResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Responses, 1)
	assert.Equal(t, "1", resp.Responses[0].VersionID)
	assert.Equal(t, bundle.OperationCreate, resp.Responses[0].Operation)
}

func TestApplyFailure(t *testing.T) {
	coord := transaction.NewCoordinator(storage.NewMemStorage(), config.NewTestConfig())
	in := strings.NewReader(`{"operations":[{"operation":"delete","resourceType":"Patient","id":"y"}]}`)
	var out bytes.Buffer
	err := apply(newTestCommand(), coord, in, &out, false)
	assert.Equal(t, errBundleFailed, err)

	var resp bundle.BundleResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, bundle.UserError, resp.ErrorKind)
	assert.Equal(t, "Failed to find resources: Patient/y", resp.Message)
}

func TestApplyBatch(t *testing.T) {
	coord := transaction.NewCoordinator(storage.NewMemStorage(), config.NewTestConfig())
	var out bytes.Buffer
	err := apply(newTestCommand(), coord, strings.NewReader(`{"operations":[]}`), &out, true)
	assert.Equal(t, errBundleFailed, err)
	assert.Contains(t, out.String(), "Batch is not supported")

	assert.Error(t, apply(newTestCommand(), coord, strings.NewReader(`not json`), &out, false))
}

func TestNewStorage(t *testing.T) {
	conf := config.NewTestConfig()
	for _, name := range []string{config.StoreMemory, config.StoreBadger, config.StoreDynamoDB} {
		conf.Store = name
		store, err := newStorage(conf, zap.NewNop())
		require.NoError(t, err, name)
		assert.NotNil(t, store)
	}
	conf.Store = "cassandra"
	_, err := newStorage(conf, zap.NewNop())
	assert.Error(t, err)
}

// TestRootCommand runs a create then a get against one badger directory.
func TestRootCommand(t *testing.T) {
	dir := t.TempDir()
	bundlePath := dir + "/bundle.json"
	require.NoError(t, os.WriteFile(bundlePath, []byte(`{"operations":[{"operation":"create","resourceType":"Patient","id":"p1","resource":{"resourceType":"Patient"}}]}`), 0o644))

	run := func(args ...string) (string, error) {
		cmd := newRootCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--store", "badger", "--db-path", dir + "/db"}, args...))
		err := cmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	out, err := run("apply", "-f", bundlePath)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"success": true`)

	out, err = run("get", "Patient", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, `"documentStatus": "AVAILABLE"`)

	out, err = run("release", "Patient", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, `"Released": null`)

	_, err = run("get", "Patient", "p2")
	assert.Error(t, err)
}
