// Package staging computes what the stage phase of a bundle sends to the store: the write and read requests, the
// envelopes returned to the caller and the lock records the coordinator has to track. Everything here is pure;
// inputs are never modified.
package staging

import (
	"time"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/bundle"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/params"
	"github.com/pingcap/errors"
)

// ErrIncompleteRead means a read request was issued but the store returned no matching row. The row was locked by
// this transaction, so this is an invariant violation rather than a caller mistake.
var ErrIncompleteRead = errors.New("staging: read result is missing an expected item")

// IDGenerator mints identifiers for created resources.
type IDGenerator func() string

// NewID is the default IDGenerator.
func NewID() string {
	return uuid.NewString()
}

// Result is the output of CreateRequests. Responses has one envelope per input operation, in input order.
type Result struct {
	Writes    []storage.Request
	Reads     []storage.Get
	Responses []bundle.ResponseEnvelope
	Locks     []bundle.LockRecord
}

// CreateRequests builds the stage phase of a bundle. versions maps the id of every read, update and delete target to
// the version locked for it.
func CreateRequests(ops []bundle.OperationRequest, versions map[string]string, now time.Time, newID IDGenerator) (Result, error) {
	var (
		deletes []storage.UpdateStatus
		creates []storage.Put
		updates []storage.Put
		result  Result
	)
	lastModified := document.FormatTime(now)

	for i, op := range ops {
		switch op.Operation {
		case bundle.OperationCreate:
			id := op.ID
			if id == "" {
				id = newID()
			}
			creates = append(creates, params.BuildPut(pendingItem(op, id, "1", now)))
			result.Responses = append(result.Responses, envelope(op, id, "1", lastModified))
			result.Locks = append(result.Locks, bundle.LockRecord{
				ID:           id,
				VersionID:    "1",
				ResourceType: op.ResourceType,
				Operation:    bundle.OperationCreate,
			})

		case bundle.OperationUpdate:
			current, err := lockedVersion(versions, op, i)
			if err != nil {
				return Result{}, err
			}
			next, err := document.NextVersion(current)
			if err != nil {
				return Result{}, errors.Annotatef(err, "operation %d", i)
			}
			updates = append(updates, params.BuildPut(pendingItem(op, op.ID, next, now)))
			result.Responses = append(result.Responses, envelope(op, op.ID, next, lastModified))
			result.Locks = append(result.Locks, bundle.LockRecord{
				ID:           op.ID,
				VersionID:    next,
				ResourceType: op.ResourceType,
				Operation:    bundle.OperationUpdate,
			})

		case bundle.OperationDelete:
			current, err := lockedVersion(versions, op, i)
			if err != nil {
				return Result{}, err
			}
			deletes = append(deletes, params.BuildUpdateDocumentStatus(
				document.StatusLocked.Ptr(), document.StatusPendingDelete, op.ID, current))
			result.Responses = append(result.Responses, envelope(op, op.ID, current, lastModified))

		case bundle.OperationRead:
			current, err := lockedVersion(versions, op, i)
			if err != nil {
				return Result{}, err
			}
			result.Reads = append(result.Reads, params.BuildGet(op.ID, current))
			result.Responses = append(result.Responses, envelope(op, op.ID, current, ""))

		default:
			return Result{}, errors.Errorf("operation %d: unknown operation %q", i, op.Operation)
		}
	}

	result.Writes = OrderWrites(deletes, creates, updates)
	return result, nil
}

// OrderWrites assembles the write batch of the stage phase. Deletes always come first, then creates, then updates,
// whatever the order of the bundle. This is the processing order required for mixed bundles.
func OrderWrites(deletes []storage.UpdateStatus, creates, updates []storage.Put) []storage.Request {
	writes := make([]storage.Request, 0, len(deletes)+len(creates)+len(updates))
	for _, d := range deletes {
		writes = append(writes, d)
	}
	for _, c := range creates {
		writes = append(writes, c)
	}
	for _, u := range updates {
		writes = append(writes, u)
	}
	return writes
}

// RollbackRequests undoes the rows staged for envelopes. Every create and update envelope yields one delete of the
// version it wrote, conditional on that row still being PENDING, and one lock record to drop from the active lock set. Reads and deletes wrote no row; the status
// flip of a delete is reverted by the unlock phase.
func RollbackRequests(envelopes []bundle.ResponseEnvelope) ([]storage.Delete, []bundle.LockRecord) {
	var (
		deletes  []storage.Delete
		released []bundle.LockRecord
	)
	for _, env := range envelopes {
		if !env.Operation.Writes() {
			continue
		}
		deletes = append(deletes, params.BuildDeletePending(env.ID, env.VersionID))
		released = append(released, bundle.LockRecord{
			ID:           env.ID,
			VersionID:    env.VersionID,
			ResourceType: env.ResourceType,
			Operation:    env.Operation,
		})
	}
	return deletes, released
}

// PopulateReadResponses fills read envelopes with the rows returned by the read batch. items must be in the order the
// read requests were submitted; each read envelope consumes the next item.
func PopulateReadResponses(envelopes []bundle.ResponseEnvelope, items []document.Item) ([]bundle.ResponseEnvelope, error) {
	result := make([]bundle.ResponseEnvelope, len(envelopes))
	next := 0
	for i, env := range envelopes {
		result[i] = env
		if env.Operation != bundle.OperationRead {
			continue
		}
		if next >= len(items) {
			return nil, errors.Annotatef(ErrIncompleteRead, "%s", document.Ref(env.ResourceType, env.ID))
		}
		item := items[next]
		next++
		if item.ID != env.ID || item.VersionID != env.VersionID {
			return nil, errors.Annotatef(ErrIncompleteRead, "%s: got %s", document.Ref(env.ResourceType, env.ID), item.Key())
		}
		result[i].Resource = item.Resource
		result[i].LastModified = document.FormatTime(item.LastUpdated)
	}
	return result, nil
}

// RemoveLocks returns the records of active whose (id, version) does not appear in released.
func RemoveLocks(active, released []bundle.LockRecord) []bundle.LockRecord {
	drop := make(map[document.Key]struct{}, len(released))
	for _, l := range released {
		drop[document.Key{ID: l.ID, VersionID: l.VersionID}] = struct{}{}
	}
	result := make([]bundle.LockRecord, 0, len(active))
	for _, l := range active {
		if _, ok := drop[document.Key{ID: l.ID, VersionID: l.VersionID}]; !ok {
			result = append(result, l)
		}
	}
	return result
}

func lockedVersion(versions map[string]string, op bundle.OperationRequest, i int) (string, error) {
	if op.ID == "" {
		return "", errors.Errorf("operation %d: %s requires an id", i, op.Operation)
	}
	vid, ok := versions[op.ID]
	if !ok {
		return "", errors.Errorf("operation %d: no locked version for %s", i, document.Ref(op.ResourceType, op.ID))
	}
	return vid, nil
}

func pendingItem(op bundle.OperationRequest, id, vid string, now time.Time) document.Item {
	return document.Item{
		ID:             id,
		VersionID:      vid,
		ResourceType:   op.ResourceType,
		DocumentStatus: document.StatusPending,
		Resource:       op.Resource,
		LastUpdated:    now,
	}
}

func envelope(op bundle.OperationRequest, id, vid, lastModified string) bundle.ResponseEnvelope {
	return bundle.ResponseEnvelope{
		ID:           id,
		VersionID:    vid,
		Operation:    op.Operation,
		LastModified: lastModified,
		ResourceType: op.ResourceType,
	}
}
