package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

func patient(id, vid string, status document.Status) document.Item {
	return document.Item{
		ID:             id,
		VersionID:      vid,
		ResourceType:   "Patient",
		DocumentStatus: status,
		Resource:       []byte(`{"resourceType":"Patient"}`),
		LastUpdated:    testTime,
	}
}

func TestMemMostRecent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStorage()
	mem.Set(patient("a", "1", document.StatusDeleted))
	mem.Set(patient("a", "2", document.StatusAvailable))
	mem.Set(patient("a", "3", document.StatusPending))
	mem.Set(patient("ab", "9", document.StatusAvailable))

	lookup, err := mem.MostRecent(ctx, "Patient", "a")
	require.NoError(t, err)
	assert.True(t, lookup.Found)
	assert.Equal(t, "2", lookup.Item.VersionID)

	// Ids sharing a prefix do not leak into each other.
	lookup, err = mem.MostRecent(ctx, "Patient", "ab")
	require.NoError(t, err)
	assert.Equal(t, "9", lookup.Item.VersionID)

	lookup, err = mem.MostRecent(ctx, "Observation", "a")
	require.NoError(t, err)
	assert.False(t, lookup.Found)

	lookup, err = mem.MostRecent(ctx, "Patient", "missing")
	require.NoError(t, err)
	assert.False(t, lookup.Found)
}

func TestMemMostRecentDeleted(t *testing.T) {
	mem := NewMemStorage()
	mem.Set(patient("a", "1", document.StatusAvailable))
	mem.Set(patient("a", "2", document.StatusDeleted))

	lookup, err := mem.MostRecent(context.Background(), "Patient", "a")
	require.NoError(t, err)
	assert.False(t, lookup.Found)
}

func TestMemVersionOrder(t *testing.T) {
	mem := NewMemStorage()
	for _, vid := range []string{"2", "10", "1"} {
		mem.Set(patient("a", vid, document.StatusDeleted))
	}
	var vids []string
	for _, item := range mem.Versions("a") {
		vids = append(vids, item.VersionID)
	}
	assert.Equal(t, []string{"10", "2", "1"}, vids)
}

func TestMemWriteConditionFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStorage()
	mem.Set(patient("a", "1", document.StatusAvailable))
	mem.Set(patient("b", "1", document.StatusLocked))

	err := mem.Write(ctx, []Request{
		UpdateStatus{Target: document.Key{ID: "a", VersionID: "1"}, Expected: document.StatusAvailable.Ptr(), Status: document.StatusLocked},
		UpdateStatus{Target: document.Key{ID: "b", VersionID: "1"}, Expected: document.StatusAvailable.Ptr(), Status: document.StatusLocked},
	})
	assert.True(t, IsConditionFailed(err))
	assert.Equal(t, document.StatusAvailable, mem.Get(document.Key{ID: "a", VersionID: "1"}).DocumentStatus)
	assert.Equal(t, document.StatusLocked, mem.Get(document.Key{ID: "b", VersionID: "1"}).DocumentStatus)
}

func TestMemWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStorage()
	mem.Set(patient("a", "1", document.StatusLocked))
	mem.Set(patient("c", "1", document.StatusPending))
	err := mem.Write(ctx, []Request{
		UpdateStatus{Target: document.Key{ID: "a", VersionID: "1"}, Status: document.StatusAvailable},
		Put{Item: patient("b", "1", document.StatusPending), RequireAbsent: true},
		Delete{Target: document.Key{ID: "c", VersionID: "1"}},
		Delete{Target: document.Key{ID: "never", VersionID: "1"}},
	})
	require.NoError(t, err)

	a := mem.Get(document.Key{ID: "a", VersionID: "1"})
	// Only the status changes.
	want := patient("a", "1", document.StatusAvailable)
	assert.Equal(t, &want, a)
	assert.NotNil(t, mem.Get(document.Key{ID: "b", VersionID: "1"}))
	assert.Nil(t, mem.Get(document.Key{ID: "c", VersionID: "1"}))
	assert.Equal(t, 2, mem.Len())

	// A conditional put onto an existing row fails.
	err = mem.Write(ctx, []Request{Put{Item: patient("b", "1", document.StatusPending), RequireAbsent: true}})
	assert.True(t, IsConditionFailed(err))

	// Updating a missing row fails even without an expected status.
	err = mem.Write(ctx, []Request{UpdateStatus{Target: document.Key{ID: "zz", VersionID: "1"}, Status: document.StatusAvailable}})
	assert.True(t, IsConditionFailed(err))
}

func TestMemConditionalDelete(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStorage()
	mem.Set(patient("a", "1", document.StatusAvailable))
	mem.Set(patient("b", "1", document.StatusPending))
	pending := document.StatusPending.Ptr()

	// A committed row in the batch fails it as a whole.
	err := mem.Write(ctx, []Request{
		Delete{Target: document.Key{ID: "b", VersionID: "1"}, Expected: pending},
		Delete{Target: document.Key{ID: "a", VersionID: "1"}, Expected: pending},
	})
	assert.True(t, IsConditionFailed(err))
	assert.NotNil(t, mem.Get(document.Key{ID: "a", VersionID: "1"}))
	assert.NotNil(t, mem.Get(document.Key{ID: "b", VersionID: "1"}))

	// So does a missing row.
	err = mem.Write(ctx, []Request{Delete{Target: document.Key{ID: "never", VersionID: "1"}, Expected: pending}})
	assert.True(t, IsConditionFailed(err))

	require.NoError(t, mem.Write(ctx, []Request{Delete{Target: document.Key{ID: "b", VersionID: "1"}, Expected: pending}}))
	assert.Nil(t, mem.Get(document.Key{ID: "b", VersionID: "1"}))
}

func TestMemWriteBatchLimits(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStorage()

	var batch []Request
	for i := 0; i <= MaxBatchSize; i++ {
		batch = append(batch, Delete{Target: document.Key{ID: string(rune('a' + i)), VersionID: "1"}})
	}
	err := mem.Write(ctx, batch)
	assert.Error(t, err)
	assert.True(t, NotApplied(err))
	assert.NoError(t, mem.Write(ctx, batch[:MaxBatchSize]))

	dup := []Request{
		Delete{Target: document.Key{ID: "a", VersionID: "1"}},
		Delete{Target: document.Key{ID: "a", VersionID: "1"}},
	}
	err = mem.Write(ctx, dup)
	assert.Error(t, err)
	assert.True(t, NotApplied(err))
	assert.False(t, NotApplied(errors.New("throttled")))
	assert.NoError(t, mem.Write(ctx, nil))
}

func TestMemRead(t *testing.T) {
	mem := NewMemStorage()
	mem.Set(patient("a", "1", document.StatusLocked))
	mem.Set(patient("b", "2", document.StatusLocked))

	items, err := mem.Read(context.Background(), []Get{
		{Target: document.Key{ID: "b", VersionID: "2"}},
		{Target: document.Key{ID: "missing", VersionID: "1"}},
		{Target: document.Key{ID: "a", VersionID: "1"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "a", items[1].ID)
}
