package notify

import (
	"context"
	"testing"
	"time"

	"github.com/tesseradb/replication/pkg/coordstore"
	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/replication"
)

func newTestWatcher(t *testing.T, view PeerView) *coordstore.MemStore {
	t.Helper()
	store := coordstore.NewMemStore()
	t.Cleanup(func() { store.Close() })

	watcher := NewStoreWatcher(store, StoreWatcherConfig{
		RetryInterval: 10 * time.Millisecond,
	}, view, logging.NewNopLogger(), metrics.NewRegistry())
	if err := watcher.Start(); err != nil {
		t.Fatalf("watcher Start failed: %v", err)
	}
	t.Cleanup(func() { watcher.Stop() })

	return store
}

func TestStoreWatcherTracksNewPeer(t *testing.T) {
	view := &fakePeerView{
		configErr: replication.PeerNotFoundError("RefreshPeerConfig", "1"),
	}
	store := newTestWatcher(t, view)
	ctx := context.Background()

	key := coordstore.JoinKey(replication.PeersRoot(""), "1")
	if err := store.Set(ctx, key, []byte("cfg")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A config put for an untracked peer falls back to tracking it.
	waitFor(t, 2*time.Second, func() bool {
		return contains(view.calls(&view.tracked), "1")
	}, "watcher never tracked new peer")
}

func TestStoreWatcherRefreshesKnownPeer(t *testing.T) {
	view := &fakePeerView{}
	store := newTestWatcher(t, view)
	ctx := context.Background()

	configKey := coordstore.JoinKey(replication.PeersRoot(""), "1")
	stateKey := coordstore.JoinKey(replication.PeersRoot(""), "1", "state")

	if err := store.Set(ctx, configKey, []byte("cfg")); err != nil {
		t.Fatalf("Set config failed: %v", err)
	}
	if err := store.Set(ctx, stateKey, []byte("DISABLED")); err != nil {
		t.Fatalf("Set state failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return contains(view.calls(&view.reconfiged), "1") &&
			contains(view.calls(&view.refreshed), "1")
	}, "watcher never refreshed peer config and state")
}

func TestStoreWatcherUntracksDeletedPeer(t *testing.T) {
	view := &fakePeerView{}
	store := newTestWatcher(t, view)
	ctx := context.Background()

	configKey := coordstore.JoinKey(replication.PeersRoot(""), "1")
	stateKey := coordstore.JoinKey(replication.PeersRoot(""), "1", "state")

	if err := store.Set(ctx, configKey, []byte("cfg")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, stateKey, []byte("ENABLED")); err != nil {
		t.Fatalf("Set state failed: %v", err)
	}
	if err := store.Delete(ctx, configKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return contains(view.calls(&view.untracked), "1")
	}, "watcher never untracked deleted peer")
}

func TestStoreWatcherIgnoresForeignKeys(t *testing.T) {
	view := &fakePeerView{}
	store := newTestWatcher(t, view)
	ctx := context.Background()

	// Queue ledger traffic shares the namespace but not the peers subtree.
	queueKey := coordstore.JoinKey(replication.DefaultBasePath, "rs", "host,1,1", "1", "wal.0")
	if err := store.Set(ctx, queueKey, []byte("42")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if len(view.calls(&view.tracked)) != 0 || len(view.calls(&view.refreshed)) != 0 {
		t.Error("watcher reacted to keys outside the peers subtree")
	}
}

func TestStoreWatcherStopIdempotent(t *testing.T) {
	store := coordstore.NewMemStore()
	defer store.Close()

	watcher := NewStoreWatcher(store, StoreWatcherConfig{}, &fakePeerView{},
		logging.NewNopLogger(), metrics.NewRegistry())

	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Errorf("second Stop should be idempotent: %v", err)
	}
}
