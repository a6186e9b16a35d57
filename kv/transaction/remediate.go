package transaction

import (
	"context"

	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/params"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

// ReleaseReport describes what ReleaseStuckLock changed.
type ReleaseReport struct {
	// Released is the version moved back to AVAILABLE, if any.
	Released *document.Key
	// Removed is the orphaned pending version deleted, if any.
	Removed *document.Key
}

// ReleaseStuckLock recovers a resource left LOCKED or PENDING_DELETE by a coordinator which died mid transaction.
// Locks never expire on their own, so this is the operator's tool. The newest live version goes back to AVAILABLE and
// the pending version a dead update or create may have staged above it is deleted, in one atomic batch.
//
// It must only be used once the owning transaction is known to be gone: it does not check who holds the lock.
func (c *Coordinator) ReleaseStuckLock(ctx context.Context, resourceType, id string) (ReleaseReport, error) {
	var report ReleaseReport
	lookup, err := c.store.MostRecent(ctx, resourceType, id)
	if err != nil {
		return report, errors.Trace(err)
	}

	next := "1"
	var batch []storage.Request
	if lookup.Found {
		item := lookup.Item
		if item.DocumentStatus == document.StatusLocked || item.DocumentStatus == document.StatusPendingDelete {
			batch = append(batch, params.BuildUpdateDocumentStatus(
				item.DocumentStatus.Ptr(), document.StatusAvailable, item.ID, item.VersionID))
			key := item.Key()
			report.Released = &key
		}
		if next, err = document.NextVersion(item.VersionID); err != nil {
			return report, err
		}
	}

	orphans, err := c.store.Read(ctx, []storage.Get{params.BuildGet(id, next)})
	if err != nil {
		return report, errors.Trace(err)
	}
	if len(orphans) == 1 && orphans[0].DocumentStatus == document.StatusPending && orphans[0].ResourceType == resourceType {
		batch = append(batch, params.BuildDeletePending(id, next))
		key := orphans[0].Key()
		report.Removed = &key
	}

	if len(batch) == 0 {
		return report, nil
	}
	if err := c.store.Write(ctx, batch); err != nil {
		return ReleaseReport{}, errors.Annotatef(err, "release %s", document.Ref(resourceType, id))
	}
	c.logger.Info("released stuck lock", zap.String("resource", document.Ref(resourceType, id)),
		zap.Bool("released", report.Released != nil), zap.Bool("removedPending", report.Removed != nil))
	return report, nil
}
