package procedure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tesseradb/replication/pkg/coordstore"
	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/replication"
)

// ExecutorConfig carries the executor's tunables. Zero values get defaults.
type ExecutorConfig struct {
	// BasePath roots the procedure records in the coordination store.
	BasePath string
	// Hooks observe and may veto peer modifications. Defaults to NopHooks.
	Hooks Hooks
	// Retry bounds the STORAGE_UPDATE retry loop.
	Retry   RetryConfig
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Executor runs peer-modification procedures. It serializes procedures per
// peer id and resumes unfinished ones after a coordinator restart.
type Executor struct {
	registry *replication.Registry
	ledger   *replication.QueueLedger
	records  *recordStore
	hooks    Hooks
	retryer  *Retryer
	logger   logging.Logger
	metrics  *metrics.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor creates an executor over the given registry, ledger and
// coordination store.
func NewExecutor(registry *replication.Registry, ledger *replication.QueueLedger, store coordstore.Store, config ExecutorConfig) *Executor {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.Component("procedure-executor"))
	m := config.Metrics
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	hooks := config.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Executor{
		registry: registry,
		ledger:   ledger,
		records:  newRecordStore(store, config.BasePath),
		hooks:    hooks,
		retryer:  NewRetryer(config.Retry, logger, m),
		logger:   logger,
		metrics:  m,
		locks:    make(map[string]*sync.Mutex),
	}
}

// AddPeer registers a new peer through the full procedure lifecycle.
func (e *Executor) AddPeer(ctx context.Context, peerID string, config replication.PeerConfig) error {
	return e.execute(ctx, newRecord(OpAdd, peerID, &config), false)
}

// RemovePeer unregisters a peer and sweeps its queues and bulk-load refs.
func (e *Executor) RemovePeer(ctx context.Context, peerID string) error {
	return e.execute(ctx, newRecord(OpRemove, peerID, nil), false)
}

// EnablePeer flips the peer's durable state to ENABLED.
func (e *Executor) EnablePeer(ctx context.Context, peerID string) error {
	return e.execute(ctx, newRecord(OpEnable, peerID, nil), false)
}

// DisablePeer flips the peer's durable state to DISABLED.
func (e *Executor) DisablePeer(ctx context.Context, peerID string) error {
	return e.execute(ctx, newRecord(OpDisable, peerID, nil), false)
}

// UpdatePeerConfig replaces the peer's config wholesale. The cluster key and
// endpoint must stay unchanged.
func (e *Executor) UpdatePeerConfig(ctx context.Context, peerID string, config replication.PeerConfig) error {
	return e.execute(ctx, newRecord(OpUpdateConfig, peerID, &config), false)
}

// Resume reloads unfinished procedure records and drives each one to a
// terminal state. Individual failures are logged and do not stop the rest.
// It returns how many procedures were resumed.
func (e *Executor) Resume(ctx context.Context) (int, error) {
	ids, err := e.records.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list procedure records: %w", err)
	}

	resumed := 0
	for _, id := range ids {
		record, err := e.records.Load(ctx, id)
		if err != nil {
			e.logger.Error("skipping unreadable procedure record",
				logging.ProcedureID(id),
				logging.Error(err))
			continue
		}
		if record.State.Terminal() {
			// FAILED records are kept for operators; DONE must not linger.
			if record.State == StateDone {
				if err := e.records.Delete(ctx, id); err != nil {
					e.logger.Warn("failed to delete finished procedure record",
						logging.ProcedureID(id),
						logging.Error(err))
				}
			}
			continue
		}

		resumed++
		if err := e.execute(ctx, record, true); err != nil {
			e.logger.Error("resumed procedure failed",
				logging.ProcedureID(id),
				logging.PeerID(record.PeerID),
				logging.Operation(record.Kind.String()),
				logging.Error(err))
		}
	}

	if resumed > 0 {
		e.logger.Info("resumed unfinished procedures", logging.Count(resumed))
	}
	return resumed, nil
}

// Pending returns how many persisted procedure records have not reached a
// terminal state. Unreadable records count as pending.
func (e *Executor) Pending(ctx context.Context) (int, error) {
	ids, err := e.records.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list procedure records: %w", err)
	}

	pending := 0
	for _, id := range ids {
		record, err := e.records.Load(ctx, id)
		if err != nil || !record.State.Terminal() {
			pending++
		}
	}
	return pending, nil
}

// execute runs one procedure under the peer's lock.
func (e *Executor) execute(ctx context.Context, record *Record, resumed bool) error {
	strat, err := newStrategy(record, e.registry, e.ledger)
	if err != nil {
		return err
	}

	lock := e.peerLock(record.PeerID)
	lock.Lock()
	defer lock.Unlock()

	e.metrics.ProcedureStarted()
	start := time.Now()

	if !resumed {
		if err := e.records.Save(ctx, record); err != nil {
			e.metrics.RecordProcedure(record.Kind.String(), "error", time.Since(start))
			return fmt.Errorf("failed to persist procedure record: %w", err)
		}
	}

	e.logger.Info("procedure started",
		logging.ProcedureID(record.ID),
		logging.PeerID(record.PeerID),
		logging.Operation(record.Kind.String()),
		logging.Bool("resumed", resumed))

	p := &Procedure{
		record:   record,
		strategy: strat,
		hooks:    e.hooks,
		records:  e.records,
		retryer:  e.retryer,
		resumed:  resumed,
		logger:   e.logger,
		metrics:  e.metrics,
	}
	runErr := p.Run(ctx)

	outcome := "done"
	if runErr != nil {
		outcome = "failed"
	}
	e.metrics.RecordProcedure(record.Kind.String(), outcome, time.Since(start))

	if runErr != nil {
		e.logger.Error("procedure failed",
			logging.ProcedureID(record.ID),
			logging.PeerID(record.PeerID),
			logging.Operation(record.Kind.String()),
			logging.Error(runErr))
		return runErr
	}
	e.logger.Info("procedure finished",
		logging.ProcedureID(record.ID),
		logging.PeerID(record.PeerID),
		logging.Operation(record.Kind.String()),
		logging.Duration("took", time.Since(start)))
	return nil
}

// peerLock returns the mutex serializing procedures for one peer id.
func (e *Executor) peerLock(peerID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[peerID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[peerID] = lock
	}
	return lock
}
