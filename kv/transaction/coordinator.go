package transaction

import (
	"context"
	"time"

	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/bundle"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/params"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/staging"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator executes bundles against a Storage. One call to Transaction runs the whole lock, stage and unlock
// protocol; the coordinator keeps no state between calls, all coordination lives in the rows' status field.
type Coordinator struct {
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
	newID  staging.IDGenerator

	maxExecutionTime time.Duration
	lockDuration     time.Duration
	batchLimit       int

	registerer prometheus.Registerer
	metrics    *metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithClock replaces time.Now, which drives timestamps and the execution time budget.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithIDGenerator sets how ids are minted for creates that do not carry one.
func WithIDGenerator(newID staging.IDGenerator) Option {
	return func(c *Coordinator) {
		c.newID = newID
	}
}

// WithRegisterer registers the coordinator's prometheus collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.registerer = reg
	}
}

// NewCoordinator returns a coordinator running bundles against store with the limits of conf.
func NewCoordinator(store storage.Storage, conf *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:            store,
		logger:           zap.NewNop(),
		now:              time.Now,
		newID:            staging.NewID,
		maxExecutionTime: conf.MaxExecutionTime.Duration,
		lockDuration:     conf.LockDuration.Duration,
		batchLimit:       conf.BatchLimit,
	}
	if c.lockDuration == 0 {
		c.lockDuration = params.LockDuration
	}
	if c.batchLimit <= 0 || c.batchLimit > storage.MaxBatchSize {
		c.batchLimit = storage.MaxBatchSize
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = newMetrics(c.registerer)
	return c
}

// Batch is the non-transactional bulk mode. It is not supported.
func (c *Coordinator) Batch(ctx context.Context, req bundle.BundleRequest) bundle.BundleResponse {
	return bundle.Failure(bundle.SystemError, msgBatchNotAllowed)
}

// Transaction applies the operations of req as one all-or-nothing unit. It always returns a verdict: store failures
// are reported through the response, and partial progress is unwound before returning.
func (c *Coordinator) Transaction(ctx context.Context, req bundle.BundleRequest) bundle.BundleResponse {
	began := c.now()
	if req.StartTime.IsZero() {
		req.StartTime = began
	}
	resp := c.transaction(ctx, req)
	c.metrics.observe(resp, c.now().Sub(began))
	return resp
}

func (c *Coordinator) transaction(ctx context.Context, req bundle.BundleRequest) bundle.BundleResponse {
	if len(req.Operations) == 0 {
		return bundle.BundleResponse{Success: true, Message: msgCommitted, Responses: []bundle.ResponseEnvelope{}}
	}

	// Phase 1: lock every existing row the bundle touches.
	locks, err := c.lockItems(ctx, req.Operations)
	if err != nil {
		c.logger.Warn("failed to lock resources", zap.Error(err))
		return err.response()
	}

	// Recovery must run to completion even when the caller has given up.
	recoverCtx := context.WithoutCancel(ctx)

	// Phase 2: write the new versions in a pending state.
	if c.isTimedOut(req.StartTime) {
		c.logger.Warn("transaction timed out before staging", zap.Duration("elapsed", c.now().Sub(req.StartTime)))
		c.unlockItems(recoverCtx, locks, true)
		return bundle.Failure(bundle.UserError, msgTimeout)
	}
	staged := c.stageItems(ctx, req.Operations, locks)
	locks = append(append([]bundle.LockRecord{}, locks...), staged.locks...)

	// Phase 3: commit or unwind.
	timedOut := c.isTimedOut(req.StartTime)
	if staged.err != nil || timedOut {
		if staged.err != nil {
			c.logger.Error("failed to stage resources", zap.Error(staged.err))
		} else {
			c.logger.Warn("transaction timed out after staging", zap.Duration("elapsed", c.now().Sub(req.StartTime)))
		}
		deletes, released := staging.RollbackRequests(staged.responses)
		locks = staging.RemoveLocks(locks, released)
		if staged.mayHaveWritten {
			c.rollbackStaged(recoverCtx, deletes)
		}
		c.unlockItems(recoverCtx, locks, true)
		if timedOut {
			return bundle.Failure(bundle.UserError, msgTimeout)
		}
		return bundle.Failure(bundle.SystemError, msgStagingFailed)
	}

	c.unlockItems(recoverCtx, locks, false)
	return bundle.BundleResponse{Success: true, Message: msgCommitted, Responses: staged.responses}
}

func (c *Coordinator) isTimedOut(start time.Time) bool {
	return c.now().Sub(start) > c.maxExecutionTime
}

// lockItems moves the current version of every read, update and delete target from AVAILABLE to LOCKED in one atomic
// batch. On failure no lock is held.
func (c *Coordinator) lockItems(ctx context.Context, ops []bundle.OperationRequest) ([]bundle.LockRecord, *bundleError) {
	var targets []bundle.OperationRequest
	seen := make(map[string]struct{})
	for _, op := range ops {
		switch op.Operation {
		case bundle.OperationCreate:
			continue
		case bundle.OperationRead, bundle.OperationUpdate, bundle.OperationDelete:
		default:
			return nil, userError("Unsupported operation " + string(op.Operation))
		}
		ref := document.Ref(op.ResourceType, op.ID)
		if op.ID == "" {
			return nil, userError(op.ResourceType + " " + string(op.Operation) + " requires an id")
		}
		if _, ok := seen[op.ID]; ok {
			return nil, userError(duplicateMessage(ref))
		}
		seen[op.ID] = struct{}{}
		targets = append(targets, op)
	}
	if len(targets) > c.batchLimit {
		return nil, systemError(tooManyLocksMessage(c.batchLimit), nil)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	lookups, err := c.lookupAll(ctx, targets)
	if err != nil {
		return nil, systemError(lockConflictMessage(c.lockDuration), err)
	}

	var missing []string
	for i, l := range lookups {
		if !l.Found {
			missing = append(missing, document.Ref(targets[i].ResourceType, targets[i].ID))
		}
	}
	if len(missing) > 0 {
		return nil, userError(notFoundMessage(missing))
	}

	batch := make([]storage.Request, 0, len(targets))
	locks := make([]bundle.LockRecord, 0, len(targets))
	for i, l := range lookups {
		if l.Item.DocumentStatus != document.StatusAvailable {
			// Someone else holds it; the conditional write would fail anyway.
			return nil, systemError(lockConflictMessage(c.lockDuration),
				errors.Errorf("%s is %s", l.Item.Key(), l.Item.DocumentStatus))
		}
		batch = append(batch, params.BuildUpdateDocumentStatus(
			document.StatusAvailable.Ptr(), document.StatusLocked, l.Item.ID, l.Item.VersionID))
		locks = append(locks, bundle.LockRecord{
			ID:                   l.Item.ID,
			VersionID:            l.Item.VersionID,
			ResourceType:         targets[i].ResourceType,
			Operation:            targets[i].Operation,
			IsOriginalUpdateItem: targets[i].Operation == bundle.OperationUpdate,
		})
	}

	if err := c.store.Write(ctx, batch); err != nil {
		return nil, systemError(lockConflictMessage(c.lockDuration), err)
	}
	c.logger.Debug("locked resources", zap.Int("count", len(locks)))
	return locks, nil
}

// lookupAll fetches the most recent version of every target concurrently. Results keep the order of targets. The
// first failure other than not found cancels the remaining lookups.
func (c *Coordinator) lookupAll(ctx context.Context, targets []bundle.OperationRequest) ([]storage.Lookup, error) {
	lookups := make([]storage.Lookup, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			l, err := c.store.MostRecent(gctx, target.ResourceType, target.ID)
			if err != nil {
				return errors.Annotatef(err, "lookup %s", document.Ref(target.ResourceType, target.ID))
			}
			lookups[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lookups, nil
}

type stageResult struct {
	responses []bundle.ResponseEnvelope
	locks     []bundle.LockRecord
	// mayHaveWritten is false only when the write batch is known not to have been applied.
	mayHaveWritten bool
	err            error
}

// stageItems writes the new versions and reads the requested rows. Envelopes computed before a failure are kept so
// the caller can roll them back.
func (c *Coordinator) stageItems(ctx context.Context, ops []bundle.OperationRequest, locks []bundle.LockRecord) stageResult {
	versions := make(map[string]string, len(locks))
	for _, l := range locks {
		versions[l.ID] = l.VersionID
	}

	plan, err := staging.CreateRequests(ops, versions, c.now(), c.newID)
	if err != nil {
		return stageResult{err: err}
	}
	result := stageResult{responses: plan.Responses, locks: plan.Locks}

	if len(plan.Writes) > c.batchLimit {
		result.err = errors.Annotatef(storage.ErrBatchTooLarge, "stage writes: %d requests, limit %d", len(plan.Writes), c.batchLimit)
		return result
	}
	if len(plan.Writes) > 0 {
		if err := c.store.Write(ctx, plan.Writes); err != nil {
			result.mayHaveWritten = !storage.NotApplied(err)
			result.err = errors.Annotate(err, "stage writes")
			return result
		}
		result.mayHaveWritten = true
	}

	if len(plan.Reads) > 0 {
		items, err := c.store.Read(ctx, plan.Reads)
		if err != nil {
			result.err = errors.Annotate(err, "stage reads")
			return result
		}
		responses, err := staging.PopulateReadResponses(result.responses, items)
		if err != nil {
			c.logger.Error("read batch returned fewer items than requested",
				zap.Int("requested", len(plan.Reads)), zap.Int("returned", len(items)), zap.Error(err))
			result.err = err
			return result
		}
		result.responses = responses
	}
	return result
}

// rollbackStaged deletes the rows written by the stage phase. Each delete only removes a row still PENDING. When a
// chunk fails its condition, some row in it was never staged or belongs to someone else, so the chunk is retried one
// row at a time. Other failures are logged, never retried.
func (c *Coordinator) rollbackStaged(ctx context.Context, deletes []storage.Delete) {
	for start := 0; start < len(deletes); start += c.batchLimit {
		end := start + c.batchLimit
		if end > len(deletes) {
			end = len(deletes)
		}
		batch := make([]storage.Request, 0, end-start)
		for _, d := range deletes[start:end] {
			batch = append(batch, d)
		}
		err := c.store.Write(ctx, batch)
		if err == nil {
			continue
		}
		if !storage.IsConditionFailed(err) || len(batch) == 1 {
			c.logger.Error("failed to delete staged resources", zap.Int("count", len(batch)), zap.Error(err))
			continue
		}
		for _, req := range batch {
			if err := c.store.Write(ctx, []storage.Request{req}); err != nil {
				c.logger.Warn("staged resource not deleted", zap.Stringer("key", req.Key()), zap.Error(err))
			}
		}
	}
}

// unlockItems releases locks in chunks of at most batchLimit, one atomic batch per chunk, strictly in order. With
// rollback every row returns to AVAILABLE. Otherwise deleted rows and superseded update originals become DELETED and
// everything else AVAILABLE. When a chunk fails, it and every later chunk are reported as not released.
func (c *Coordinator) unlockItems(ctx context.Context, locks []bundle.LockRecord, rollback bool) []bundle.LockRecord {
	for start := 0; start < len(locks); start += c.batchLimit {
		end := start + c.batchLimit
		if end > len(locks) {
			end = len(locks)
		}
		batch := make([]storage.Request, 0, end-start)
		for _, l := range locks[start:end] {
			batch = append(batch, params.BuildUpdateDocumentStatus(nil, releaseStatus(l, rollback), l.ID, l.VersionID))
		}
		if err := c.store.Write(ctx, batch); err != nil {
			failed := append([]bundle.LockRecord{}, locks[start:]...)
			c.metrics.unlockFailedCounter.Add(float64(len(failed)))
			for _, l := range failed {
				c.logger.Error("failed to release lock",
					zap.String("resource", document.Ref(l.ResourceType, l.ID)),
					zap.String("vid", l.VersionID),
					zap.Bool("rollback", rollback))
			}
			c.logger.Error("unlock aborted", zap.Int("unreleased", len(failed)), zap.Error(err))
			return failed
		}
	}
	return nil
}

func releaseStatus(l bundle.LockRecord, rollback bool) document.Status {
	if rollback {
		return document.StatusAvailable
	}
	if l.Operation == bundle.OperationDelete || l.IsOriginalUpdateItem {
		return document.StatusDeleted
	}
	return document.StatusAvailable
}
