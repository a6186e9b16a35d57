package transaction

// The transaction package implements tinybundle's bundle coordinator. It takes a bundle, an ordered list of create,
// read, update and delete operations on versioned documents, and applies it to the underlying store (defined by
// Storage in kv/storage) so that either every operation takes effect or none does.
//
// The store offers no multi-request transactions of its own beyond small atomic batches, so the coordinator builds
// one out of the documentStatus field every row carries. A bundle runs in three phases:
//
// *Lock* finds the newest live version of every read, update and delete target and moves all of them from AVAILABLE to
// LOCKED in one conditional batch. Either every target is locked or none is. A target held by someone else fails the
// bundle immediately; there is no waiting.
//
// *Stage* writes the new versions in the PENDING state, flips delete targets to PENDING_DELETE and reads the read
// targets. Readers never see PENDING rows, so staged work is invisible until the last phase. The writes of one bundle go
// out as a single batch ordered deletes, creates, updates.
//
// *Unlock* either commits, releasing every lock so that staged rows become AVAILABLE and superseded or deleted rows
// become DELETED, or rolls back, deleting staged rows and returning locked rows to AVAILABLE. Releases go out in chunks
// of at most MaxBatchSize requests, one after the other.
//
// The whole bundle has an execution time budget, measured from the request's StartTime and checked before staging and
// again before unlocking. Recovery after a timeout or failure always runs to completion, even if the caller's context
// has been cancelled.
//
// Within this package, `bundle` holds the caller-facing types, `params` builds individual storage requests and `staging`
// holds the pure planning steps of the stage and rollback phases. The Coordinator in this package only sequences them and
// talks to the store. ReleaseStuckLock is the operator's tool for rows left locked by a coordinator which died.
