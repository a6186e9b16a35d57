package storage

import (
	"context"

	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/util/codec"
	"github.com/pingcap/errors"
)

// MaxBatchSize is the largest number of requests the store accepts in one atomic batch.
const MaxBatchSize = 25

var (
	// ErrConditionFailed is returned by Write when a conditional request in the batch did not hold. None of the
	// batch has been applied.
	ErrConditionFailed = errors.New("storage: condition check failed")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("storage: batch exceeds maximum size")
	// ErrInvalidBatch is returned for a batch containing a Get or naming the same row twice.
	ErrInvalidBatch = errors.New("storage: invalid write batch")
)

// Storage represents the versioned key/value store that bundles are executed against. It offers nothing stronger than
// conditional single row writes grouped into small all-or-nothing batches.
type Storage interface {
	Start() error
	Stop() error
	// MostRecent looks up the newest live version (AVAILABLE, LOCKED or PENDING_DELETE) of a resource. A missing or
	// deleted resource is reported through Lookup, not as an error.
	MostRecent(ctx context.Context, resourceType, id string) (Lookup, error)
	// Write applies every request in batch atomically. Get requests are not allowed.
	Write(ctx context.Context, batch []Request) error
	// Read fetches every requested row atomically. Rows which do not exist are omitted from the result, the rest are
	// returned in request order.
	Read(ctx context.Context, batch []Get) ([]document.Item, error)
}

// Lookup is the result of a most recent version lookup: either Found with Item set, or not found.
type Lookup struct {
	Found bool
	Item  document.Item
}

func Found(item document.Item) Lookup {
	return Lookup{Found: true, Item: item}
}

func NotFound() Lookup {
	return Lookup{}
}

// CheckBatch validates the shape of a write batch before it reaches the backing store. Every backend calls it before
// touching any row.
func CheckBatch(batch []Request) error {
	if len(batch) > MaxBatchSize {
		return errors.Annotatef(ErrBatchTooLarge, "%d requests", len(batch))
	}
	seen := make(map[document.Key]struct{}, len(batch))
	for _, req := range batch {
		if _, ok := req.(Get); ok {
			return errors.Annotate(ErrInvalidBatch, "get request in write batch")
		}
		if _, ok := seen[req.Key()]; ok {
			return errors.Annotatef(ErrInvalidBatch, "row %s written twice", req.Key())
		}
		seen[req.Key()] = struct{}{}
	}
	return nil
}

// IsConditionFailed reports whether err was caused by a failed conditional write.
func IsConditionFailed(err error) bool {
	return errors.Cause(err) == ErrConditionFailed
}

// NotApplied reports whether err guarantees that no request of the failed batch reached the store: a failed condition
// or a batch rejected by CheckBatch.
func NotApplied(err error) bool {
	switch errors.Cause(err) {
	case ErrConditionFailed, ErrBatchTooLarge, ErrInvalidBatch:
		return true
	}
	return false
}

// PickLive walks versions of one id from newest to oldest and decides the result of a MostRecent lookup. Pending
// rows belong to an in-flight transaction and are skipped. The first other row decides: live means found, deleted
// means the resource is gone.
func PickLive(resourceType string, versions []document.Item) Lookup {
	for _, item := range versions {
		if item.DocumentStatus == document.StatusPending {
			continue
		}
		if item.DocumentStatus.Live() && item.ResourceType == resourceType {
			return Found(item)
		}
		return NotFound()
	}
	return NotFound()
}

// RowKey returns the ordered key of a row: id ascending, then version descending. Version ids that are not integers
// sort as version 0, after all valid versions of the same id.
func RowKey(key document.Key) []byte {
	version, _ := document.ParseVersion(key.VersionID)
	if version == 0 {
		return append(codec.EncodeItemKey(key.ID, 0), key.VersionID...)
	}
	return codec.EncodeItemKey(key.ID, version)
}
