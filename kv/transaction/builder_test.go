package transaction

// This file contains utility code for testing the coordinator.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/bundle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultStore wraps a Storage, records every call and injects failures.
type faultStore struct {
	storage.Storage

	mu       sync.Mutex
	lookups  int
	reads    int
	writes   [][]storage.Request
	failures map[int]error
	// applyThenFail makes the write with that index reach the store before reporting its failure.
	applyThenFail map[int]bool
	beforeWrite   map[int]func()
	lookupErr     error
	readDrop      int
}

func newFaultStore(inner storage.Storage) *faultStore {
	return &faultStore{
		Storage:       inner,
		failures:      make(map[int]error),
		applyThenFail: make(map[int]bool),
		beforeWrite:   make(map[int]func()),
	}
}

func (fs *faultStore) MostRecent(ctx context.Context, resourceType, id string) (storage.Lookup, error) {
	fs.mu.Lock()
	fs.lookups++
	err := fs.lookupErr
	fs.mu.Unlock()
	if err != nil {
		return storage.Lookup{}, err
	}
	return fs.Storage.MostRecent(ctx, resourceType, id)
}

func (fs *faultStore) Write(ctx context.Context, batch []storage.Request) error {
	fs.mu.Lock()
	n := len(fs.writes)
	fs.writes = append(fs.writes, batch)
	hook := fs.beforeWrite[n]
	failure := fs.failures[n]
	apply := fs.applyThenFail[n]
	fs.mu.Unlock()

	if hook != nil {
		hook()
	}
	if failure != nil {
		if apply {
			if err := fs.Storage.Write(ctx, batch); err != nil {
				return err
			}
		}
		return failure
	}
	return fs.Storage.Write(ctx, batch)
}

func (fs *faultStore) Read(ctx context.Context, batch []storage.Get) ([]document.Item, error) {
	fs.mu.Lock()
	fs.reads++
	drop := fs.readDrop
	fs.mu.Unlock()
	items, err := fs.Storage.Read(ctx, batch)
	if err != nil || drop == 0 {
		return items, err
	}
	if drop > len(items) {
		drop = len(items)
	}
	return items[:len(items)-drop], nil
}

func (fs *faultStore) calls() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.lookups + fs.reads + len(fs.writes)
}

func (fs *faultStore) writeCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.writes)
}

func (fs *faultStore) write(n int) []storage.Request {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writes[n]
}

// testBuilder is a helper type for running coordinator tests.
type testBuilder struct {
	t     *testing.T
	mem   *storage.MemStorage
	store *faultStore
	clock *testClock
	coord *Coordinator
	ids   int
}

func newBuilder(t *testing.T, opts ...Option) *testBuilder {
	builder := &testBuilder{
		t:     t,
		mem:   storage.NewMemStorage(),
		clock: &testClock{now: baseTime},
	}
	builder.store = newFaultStore(builder.mem)
	opts = append([]Option{
		WithClock(builder.clock.Now),
		WithIDGenerator(func() string {
			builder.ids++
			return fmt.Sprintf("minted-%d", builder.ids)
		}),
	}, opts...)
	builder.coord = NewCoordinator(builder.store, config.NewTestConfig(), opts...)
	return builder
}

// init seeds rows directly into the backing store.
func (builder *testBuilder) init(items ...document.Item) {
	for _, item := range items {
		builder.mem.Set(item)
	}
}

func (builder *testBuilder) run(ops ...bundle.OperationRequest) bundle.BundleResponse {
	return builder.coord.Transaction(context.Background(), bundle.BundleRequest{Operations: ops, StartTime: builder.clock.Now()})
}

func (builder *testBuilder) assertStatus(id, vid string, status document.Status) {
	item := builder.mem.Get(document.Key{ID: id, VersionID: vid})
	if assert.NotNil(builder.t, item, "%s@%s missing", id, vid) {
		assert.Equal(builder.t, status, item.DocumentStatus, "%s@%s", id, vid)
	}
}

func (builder *testBuilder) assertAbsent(id, vid string) {
	assert.Nil(builder.t, builder.mem.Get(document.Key{ID: id, VersionID: vid}), "%s@%s should not exist", id, vid)
}

func (builder *testBuilder) assertNoTransient() {
	for _, id := range builder.allIDs() {
		for _, item := range builder.mem.Versions(id) {
			assert.NotEqual(builder.t, document.StatusPending, item.DocumentStatus, "%s", item.Key())
			assert.NotEqual(builder.t, document.StatusLocked, item.DocumentStatus, "%s", item.Key())
			assert.NotEqual(builder.t, document.StatusPendingDelete, item.DocumentStatus, "%s", item.Key())
		}
	}
}

func (builder *testBuilder) allIDs() []string {
	ids := []string{"x", "y", "a", "b", "c", "r", "u", "d"}
	for i := 1; i <= builder.ids; i++ {
		ids = append(ids, fmt.Sprintf("minted-%d", i))
	}
	return ids
}

func row(id, vid string, status document.Status) document.Item {
	return document.Item{
		ID:             id,
		VersionID:      vid,
		ResourceType:   "Patient",
		DocumentStatus: status,
		Resource:       json.RawMessage(fmt.Sprintf(`{"resourceType":"Patient","id":%q}`, id)),
		LastUpdated:    baseTime.Add(-time.Hour),
	}
}

func create() bundle.OperationRequest {
	return bundle.OperationRequest{Operation: bundle.OperationCreate, ResourceType: "Patient", Resource: json.RawMessage(`{"resourceType":"Patient"}`)}
}

func update(id string) bundle.OperationRequest {
	return bundle.OperationRequest{Operation: bundle.OperationUpdate, ResourceType: "Patient", ID: id, Resource: json.RawMessage(`{"resourceType":"Patient","active":true}`)}
}

func remove(id string) bundle.OperationRequest {
	return bundle.OperationRequest{Operation: bundle.OperationDelete, ResourceType: "Patient", ID: id}
}

func read(id string) bundle.OperationRequest {
	return bundle.OperationRequest{Operation: bundle.OperationRead, ResourceType: "Patient", ID: id}
}

func requireFailure(t *testing.T, resp bundle.BundleResponse, kind bundle.ErrorKind) {
	require.False(t, resp.Success, resp.Message)
	require.Equal(t, kind, resp.ErrorKind, resp.Message)
}
