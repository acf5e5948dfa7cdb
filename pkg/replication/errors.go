package replication

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrPeerNotFound      = errors.New("peer not found")
	ErrDuplicatePeer     = errors.New("peer already exists")
	ErrInvalidPeerConfig = errors.New("invalid peer config")
	ErrClaimLost         = errors.New("queue claimed by another replicator")
	ErrStaleWrite        = errors.New("position regression rejected")
)

// ReplicationError provides structured error information for registry and
// ledger operations.
type ReplicationError struct {
	Op      string // Operation that failed (e.g., "RegisterPeer", "ClaimQueue")
	Entity  string // Entity type (e.g., "peer", "queue", "wal")
	ID      string // Entity identifier (peer id, queue id, file name)
	Server  string // Owning replicator (for queue/wal operations)
	Cause   error  // Underlying error
	Context string // Additional context
}

// Error implements the error interface.
func (e *ReplicationError) Error() string {
	switch {
	case e.Server != "" && e.ID != "":
		return fmt.Sprintf("%s %s %s on %s: %v", e.Op, e.Entity, e.ID, e.Server, e.Cause)
	case e.ID != "":
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Cause)
	case e.Context != "":
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Entity, e.Context, e.Cause)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
	}
}

// Unwrap returns the underlying cause for error chain support.
func (e *ReplicationError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
func (e *ReplicationError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building ReplicationErrors.
type ErrorBuilder struct {
	err ReplicationError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: ReplicationError{Op: op}}
}

// Peer sets the entity to "peer" with the given id.
func (b *ErrorBuilder) Peer(id string) *ErrorBuilder {
	b.err.Entity = "peer"
	b.err.ID = id
	return b
}

// Queue sets the entity to "queue" with its owner and id.
func (b *ErrorBuilder) Queue(owner ServerName, queueID string) *ErrorBuilder {
	b.err.Entity = "queue"
	b.err.ID = queueID
	b.err.Server = owner.String()
	return b
}

// WAL sets the entity to "wal" with the given file name.
func (b *ErrorBuilder) WAL(owner ServerName, fileName string) *ErrorBuilder {
	b.err.Entity = "wal"
	b.err.ID = fileName
	b.err.Server = owner.String()
	return b
}

// Replicator sets the entity to "replicator".
func (b *ErrorBuilder) Replicator(owner ServerName) *ErrorBuilder {
	b.err.Entity = "replicator"
	b.err.ID = owner.String()
	return b
}

// HFileRefs sets the entity to "hfile-refs" for the given peer.
func (b *ErrorBuilder) HFileRefs(peerID string) *ErrorBuilder {
	b.err.Entity = "hfile-refs"
	b.err.ID = peerID
	return b
}

// Context sets additional context information.
func (b *ErrorBuilder) Context(ctx string) *ErrorBuilder {
	b.err.Context = ctx
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// Convenience functions for common error patterns

// PeerNotFoundError creates a peer not found error.
func PeerNotFoundError(op, peerID string) error {
	return NewError(op).Peer(peerID).Cause(ErrPeerNotFound).Err()
}

// DuplicatePeerError creates a duplicate peer error.
func DuplicatePeerError(op, peerID string) error {
	return NewError(op).Peer(peerID).Cause(ErrDuplicatePeer).Err()
}

// InvalidPeerConfigError creates an invalid config error with detail.
func InvalidPeerConfigError(peerID string, cause error) error {
	return NewError("ValidatePeerConfig").Peer(peerID).
		Cause(fmt.Errorf("%w: %v", ErrInvalidPeerConfig, cause)).Err()
}

// IsPeerNotFound returns true if the error is a peer not found error.
func IsPeerNotFound(err error) bool {
	return errors.Is(err, ErrPeerNotFound)
}

// IsDuplicatePeer returns true if the error is a duplicate peer error.
func IsDuplicatePeer(err error) bool {
	return errors.Is(err, ErrDuplicatePeer)
}

// IsInvalidPeerConfig returns true if the error is a config validation error.
func IsInvalidPeerConfig(err error) bool {
	return errors.Is(err, ErrInvalidPeerConfig)
}

// IsClaimLost returns true if the error means another replicator won the
// claim race. Callers treat this as expected control flow.
func IsClaimLost(err error) bool {
	return errors.Is(err, ErrClaimLost)
}

// IsStaleWrite returns true if the error is a rejected position regression.
func IsStaleWrite(err error) bool {
	return errors.Is(err, ErrStaleWrite)
}
