package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/replication"
)

// fakePeerView records registry calls for assertions.
type fakePeerView struct {
	mu         sync.Mutex
	tracked    []string
	untracked  []string
	refreshed  []string // state refreshes
	reconfiged []string // config refreshes
	stateErr   error
	configErr  error
}

func (v *fakePeerView) Track(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracked = append(v.tracked, id)
	return nil
}

func (v *fakePeerView) Untrack(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.untracked = append(v.untracked, id)
}

func (v *fakePeerView) RefreshState(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stateErr != nil {
		return v.stateErr
	}
	v.refreshed = append(v.refreshed, id)
	return nil
}

func (v *fakePeerView) RefreshConfig(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.configErr != nil {
		return v.configErr
	}
	v.reconfiged = append(v.reconfiged, id)
	return nil
}

func (v *fakePeerView) calls(list *[]string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), (*list)...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func newBusPair(t *testing.T, view PeerView) (*PeerChangeNotifier, *PeerChangeListener) {
	t.Helper()
	factory := NewInprocSocketFactory()

	notifier, err := NewPeerChangeNotifier(factory, NotifierConfig{
		Address: "inproc://peer-changes",
	}, logging.NewNopLogger(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("NewPeerChangeNotifier failed: %v", err)
	}
	if err := notifier.Start(); err != nil {
		t.Fatalf("notifier Start failed: %v", err)
	}
	t.Cleanup(func() { notifier.Stop() })

	listener, err := NewPeerChangeListener(factory, ListenerConfig{
		NotifierAddr: "inproc://peer-changes",
		RecvTimeout:  20 * time.Millisecond,
	}, view, logging.NewNopLogger(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("NewPeerChangeListener failed: %v", err)
	}
	if err := listener.Start(); err != nil {
		t.Fatalf("listener Start failed: %v", err)
	}
	t.Cleanup(func() { listener.Stop() })

	return notifier, listener
}

func TestNotifierListenerRoundTrip(t *testing.T) {
	view := &fakePeerView{}
	notifier, _ := newBusPair(t, view)

	if err := notifier.Broadcast(PeerChange{Kind: ChangeAdded, PeerID: "1"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return contains(view.calls(&view.tracked), "1")
	}, "listener never tracked peer 1")
}

func TestListenerAppliesEachKind(t *testing.T) {
	view := &fakePeerView{}
	notifier, _ := newBusPair(t, view)

	changes := []PeerChange{
		{Kind: ChangeAdded, PeerID: "a"},
		{Kind: ChangeEnabled, PeerID: "b"},
		{Kind: ChangeDisabled, PeerID: "c"},
		{Kind: ChangeConfig, PeerID: "d"},
		{Kind: ChangeRemoved, PeerID: "e"},
	}
	for _, change := range changes {
		if err := notifier.Broadcast(change); err != nil {
			t.Fatalf("Broadcast(%s) failed: %v", change.Kind, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return contains(view.calls(&view.tracked), "a") &&
			contains(view.calls(&view.refreshed), "b") &&
			contains(view.calls(&view.refreshed), "c") &&
			contains(view.calls(&view.reconfiged), "d") &&
			contains(view.calls(&view.untracked), "e")
	}, "listener did not apply all change kinds")
}

func TestListenerTracksUnknownPeerOnStateChange(t *testing.T) {
	view := &fakePeerView{
		stateErr: replication.PeerNotFoundError("RefreshPeerState", "9"),
	}
	notifier, _ := newBusPair(t, view)

	if err := notifier.Broadcast(PeerChange{Kind: ChangeEnabled, PeerID: "9"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	// A state change for a peer this node never saw falls back to tracking it.
	waitFor(t, 2*time.Second, func() bool {
		return contains(view.calls(&view.tracked), "9")
	}, "listener never fell back to tracking unknown peer")
}

func TestListenerTracksUnknownPeerOnConfigChange(t *testing.T) {
	view := &fakePeerView{
		configErr: replication.PeerNotFoundError("RefreshPeerConfig", "9"),
	}
	notifier, _ := newBusPair(t, view)

	if err := notifier.Broadcast(PeerChange{Kind: ChangeConfig, PeerID: "9"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	// A config change for a peer this node never saw falls back to tracking
	// it, the same as a state change does.
	waitFor(t, 2*time.Second, func() bool {
		return contains(view.calls(&view.tracked), "9")
	}, "listener never fell back to tracking unknown peer")
}

func TestNotifierDoubleStart(t *testing.T) {
	factory := NewInprocSocketFactory()
	notifier, err := NewPeerChangeNotifier(factory, NotifierConfig{
		Address: "inproc://peer-changes",
	}, logging.NewNopLogger(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("NewPeerChangeNotifier failed: %v", err)
	}

	if err := notifier.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer notifier.Stop()

	if err := notifier.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestNotifierStopIdempotent(t *testing.T) {
	factory := NewInprocSocketFactory()
	notifier, err := NewPeerChangeNotifier(factory, NotifierConfig{
		Address: "inproc://peer-changes",
	}, logging.NewNopLogger(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("NewPeerChangeNotifier failed: %v", err)
	}

	if err := notifier.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := notifier.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := notifier.Stop(); err != nil {
		t.Errorf("second Stop should be idempotent: %v", err)
	}
}

func TestBroadcastAfterStop(t *testing.T) {
	factory := NewInprocSocketFactory()
	notifier, err := NewPeerChangeNotifier(factory, NotifierConfig{
		Address: "inproc://peer-changes",
	}, logging.NewNopLogger(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("NewPeerChangeNotifier failed: %v", err)
	}

	if err := notifier.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	notifier.Stop()

	if err := notifier.Broadcast(PeerChange{Kind: ChangeAdded, PeerID: "1"}); err == nil {
		t.Error("Broadcast after Stop should fail")
	}
}

func TestChangeCodecRejectsForeignTopic(t *testing.T) {
	if _, err := decodeChange([]byte("WAL:whatever")); err == nil {
		t.Error("decodeChange should reject messages without the peer topic")
	}

	msg, err := encodeChange(PeerChange{Kind: ChangeAdded, PeerID: "1", SentAt: 42})
	if err != nil {
		t.Fatalf("encodeChange failed: %v", err)
	}
	change, err := decodeChange(msg)
	if err != nil {
		t.Fatalf("decodeChange failed: %v", err)
	}
	if change.Kind != ChangeAdded || change.PeerID != "1" || change.SentAt != 42 {
		t.Errorf("round trip mismatch: %+v", change)
	}
}
