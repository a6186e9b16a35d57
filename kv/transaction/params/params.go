// Package params builds the store level requests the transaction coordinator submits. It is a stateless translation
// layer; every builder returns a new request value.
package params

import (
	"time"

	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
)

// LockDuration is how long callers are told to wait before retrying after a lock conflict. It is informational only:
// nothing expires locks, stuck ones have to be released by an operator.
const LockDuration = 35 * time.Second

// BuildUpdateDocumentStatus moves one version row to newStatus. A non-nil oldStatus makes the write conditional on
// the row currently being in that status, failing the whole enclosing batch otherwise. The rest of the row is not
// touched.
func BuildUpdateDocumentStatus(oldStatus *document.Status, newStatus document.Status, id, versionID string) storage.UpdateStatus {
	req := storage.UpdateStatus{
		Target: document.Key{ID: id, VersionID: versionID},
		Status: newStatus,
	}
	if oldStatus != nil {
		expected := *oldStatus
		req.Expected = &expected
	}
	return req
}

// BuildDelete removes one specific version row unconditionally.
func BuildDelete(id, versionID string) storage.Delete {
	return storage.Delete{Target: document.Key{ID: id, VersionID: versionID}}
}

// BuildDeletePending removes a staged version row, but only while it is still PENDING. A committed row with the same
// key makes the enclosing batch fail instead of being deleted.
func BuildDeletePending(id, versionID string) storage.Delete {
	req := BuildDelete(id, versionID)
	req.Expected = document.StatusPending.Ptr()
	return req
}

// BuildGet reads one specific version row.
func BuildGet(id, versionID string) storage.Get {
	return storage.Get{Target: document.Key{ID: id, VersionID: versionID}}
}

// BuildPut writes a new version row which must not exist yet.
func BuildPut(item document.Item) storage.Put {
	return storage.Put{Item: item, RequireAbsent: true}
}
