package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tesseradb/replication/pkg/coordstore"
	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/replication"
)

// StoreWatcher keeps the local peer cache current straight from the
// coordination store. It covers deployments without a change bus and
// backstops the bus where one runs: a lost socket message is repaired by
// the next store event, since both paths converge on re-reading the store.
type StoreWatcher struct {
	store         coordstore.Store
	prefix        string
	view          PeerView
	retryInterval time.Duration
	logger        logging.Logger
	metrics       *metrics.Registry

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// StoreWatcherConfig configures the store watcher.
type StoreWatcherConfig struct {
	// BasePath is the replication namespace root, defaulting to
	// replication.DefaultBasePath.
	BasePath string
	// RetryInterval is the pause before re-establishing a broken watch.
	RetryInterval time.Duration
}

// NewStoreWatcher creates a watcher over the peers subtree.
func NewStoreWatcher(
	store coordstore.Store,
	config StoreWatcherConfig,
	view PeerView,
	logger logging.Logger,
	m *metrics.Registry,
) *StoreWatcher {
	retry := config.RetryInterval
	if retry <= 0 {
		retry = 1 * time.Second
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}

	return &StoreWatcher{
		store:         store,
		prefix:        replication.PeersRoot(config.BasePath),
		view:          view,
		retryInterval: retry,
		logger:        logger.With(logging.Component("store-watcher")),
		metrics:       m,
	}
}

// Start establishes the watch and begins applying events.
func (w *StoreWatcher) Start() error {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()

	if w.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.watchLoop(ctx)

	w.logger.Info("store watcher started", logging.String("prefix", w.prefix))
	return nil
}

// Stop stops the watcher.
func (w *StoreWatcher) Stop() error {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()

	if !w.running {
		return nil
	}

	w.cancel()
	w.running = false
	w.wg.Wait()

	w.logger.Info("store watcher stopped")
	return nil
}

// watchLoop re-establishes the watch whenever the event channel closes, so
// a store reconnect does not end peer tracking.
func (w *StoreWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		events, err := w.store.Watch(ctx, w.prefix)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("failed to establish store watch, retrying",
				logging.String("prefix", w.prefix),
				logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryInterval):
			}
			continue
		}

		for event := range events {
			w.metrics.RecordWatchEvent()
			w.logger.Debug("store event",
				logging.StoreKey(event.Key),
				logging.String("kind", event.Kind.String()))
			w.handleEvent(ctx, event)
		}

		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("store watch channel closed, re-watching",
			logging.String("prefix", w.prefix))
	}
}

// handleEvent maps one store event onto the peer view.
//
//	<prefix>/<peerId>        put: track or refresh config, delete: untrack
//	<prefix>/<peerId>/state  put: refresh state
//
// State deletions ride along with peer removal and are ignored here; the
// config key deletion carries the removal.
func (w *StoreWatcher) handleEvent(ctx context.Context, event coordstore.Event) {
	rel := strings.TrimPrefix(event.Key, w.prefix)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return
	}

	segments := strings.Split(rel, "/")
	peerID := segments[0]

	switch {
	case len(segments) == 1:
		if event.Kind == coordstore.EventDelete {
			w.view.Untrack(peerID)
			return
		}
		w.applyConfigPut(ctx, peerID)
	case len(segments) == 2 && segments[1] == "state":
		if event.Kind == coordstore.EventDelete {
			return
		}
		w.applyStatePut(ctx, peerID)
	}
}

func (w *StoreWatcher) applyConfigPut(ctx context.Context, peerID string) {
	err := w.view.RefreshConfig(ctx, peerID)
	if replication.IsPeerNotFound(err) {
		err = w.view.Track(ctx, peerID)
	}
	if err != nil {
		w.logger.Error("failed to apply peer config event",
			logging.PeerID(peerID),
			logging.Error(err))
	}
}

func (w *StoreWatcher) applyStatePut(ctx context.Context, peerID string) {
	err := w.view.RefreshState(ctx, peerID)
	if replication.IsPeerNotFound(err) {
		err = w.view.Track(ctx, peerID)
	}
	if err != nil {
		w.logger.Error("failed to apply peer state event",
			logging.PeerID(peerID),
			logging.Error(err))
	}
}
