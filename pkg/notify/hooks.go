package notify

import (
	"context"

	"github.com/tesseradb/replication/pkg/procedure"
)

// Broadcaster queues a peer change for publishing. *PeerChangeNotifier
// satisfies it.
type Broadcaster interface {
	Broadcast(change PeerChange) error
}

var _ Broadcaster = (*PeerChangeNotifier)(nil)

// BroadcastHooks wraps another Hooks implementation and publishes a peer
// change after each committed modification. Publish failures are returned
// to the executor, which logs them; the modification itself stands.
type BroadcastHooks struct {
	inner    procedure.Hooks
	notifier Broadcaster
}

// NewBroadcastHooks wires change broadcasting into the procedure hook
// chain. A nil inner defaults to NopHooks.
func NewBroadcastHooks(inner procedure.Hooks, notifier Broadcaster) *BroadcastHooks {
	if inner == nil {
		inner = procedure.NopHooks{}
	}
	return &BroadcastHooks{inner: inner, notifier: notifier}
}

var _ procedure.Hooks = (*BroadcastHooks)(nil)

func (h *BroadcastHooks) PreModify(ctx context.Context, peerID string, kind procedure.OperationKind) error {
	return h.inner.PreModify(ctx, peerID, kind)
}

func (h *BroadcastHooks) PostModify(ctx context.Context, peerID string, kind procedure.OperationKind) error {
	if err := h.inner.PostModify(ctx, peerID, kind); err != nil {
		return err
	}
	return h.notifier.Broadcast(PeerChange{
		Kind:   changeKindFor(kind),
		PeerID: peerID,
	})
}

func changeKindFor(kind procedure.OperationKind) ChangeKind {
	switch kind {
	case procedure.OpAdd:
		return ChangeAdded
	case procedure.OpRemove:
		return ChangeRemoved
	case procedure.OpEnable:
		return ChangeEnabled
	case procedure.OpDisable:
		return ChangeDisabled
	default:
		return ChangeConfig
	}
}
