package procedure

import "context"

// Hooks is the external observer contract around peer modifications.
//
// PreModify runs before any durable change and may veto the operation by
// returning an error. PostModify runs after the storage update committed;
// its errors are logged but never undo the change.
type Hooks interface {
	PreModify(ctx context.Context, peerID string, kind OperationKind) error
	PostModify(ctx context.Context, peerID string, kind OperationKind) error
}

// NopHooks is the default Hooks implementation. It allows everything.
type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) PreModify(context.Context, string, OperationKind) error { return nil }

func (NopHooks) PostModify(context.Context, string, OperationKind) error { return nil }
