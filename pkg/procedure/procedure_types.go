package procedure

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tesseradb/replication/pkg/replication"
)

// ErrProcedureFailed marks a peer-modification procedure that terminated in
// FAILED. The underlying cause stays on the error chain.
var ErrProcedureFailed = errors.New("procedure failed")

// IsProcedureFailed returns true if the error comes from a failed procedure.
func IsProcedureFailed(err error) bool {
	return errors.Is(err, ErrProcedureFailed)
}

// FailedError is returned by a procedure that reached FAILED. It matches
// ErrProcedureFailed with errors.Is and unwraps to the failure cause.
type FailedError struct {
	Kind   OperationKind
	PeerID string
	Cause  error
}

func (e *FailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s procedure for peer %q failed: %v", e.Kind, e.PeerID, e.Cause)
	}
	return fmt.Sprintf("%s procedure for peer %q failed", e.Kind, e.PeerID)
}

func (e *FailedError) Is(target error) bool { return target == ErrProcedureFailed }

func (e *FailedError) Unwrap() error { return e.Cause }

// State is the current phase of a peer-modification procedure.
type State int8

const (
	// StatePreModification runs validation and the veto hook. Nothing
	// durable has been touched yet, so failures here abort without cleanup.
	StatePreModification State = iota
	// StateStorageUpdate applies the operation's registry and ledger
	// mutations, retrying transient store errors in place.
	StateStorageUpdate
	// StatePostModification runs the notification hook. The storage change
	// is already committed, so hook failures are logged and ignored.
	StatePostModification
	// StateRollback compensates a partial storage mutation, best effort.
	StateRollback
	// StateDone is the terminal success state.
	StateDone
	// StateFailed is the terminal failure state. Its record is kept so an
	// operator can inspect what went wrong.
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StatePreModification:
		return "PRE_MODIFICATION"
	case StateStorageUpdate:
		return "STORAGE_UPDATE"
	case StatePostModification:
		return "POST_MODIFICATION"
	case StateRollback:
		return "ROLLBACK"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state ends the procedure.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// MarshalText persists states by name, not by ordinal.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PRE_MODIFICATION":
		*s = StatePreModification
	case "STORAGE_UPDATE":
		*s = StateStorageUpdate
	case "POST_MODIFICATION":
		*s = StatePostModification
	case "ROLLBACK":
		*s = StateRollback
	case "DONE":
		*s = StateDone
	case "FAILED":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown procedure state %q", text)
	}
	return nil
}

// OperationKind identifies which peer modification a procedure applies.
type OperationKind int8

const (
	// OpAdd registers a new peer.
	OpAdd OperationKind = iota
	// OpRemove unregisters a peer and sweeps everything replicating to it.
	OpRemove
	// OpEnable flips the durable peer state to ENABLED.
	OpEnable
	// OpDisable flips the durable peer state to DISABLED.
	OpDisable
	// OpUpdateConfig replaces the peer's config wholesale.
	OpUpdateConfig
)

// String returns the string representation of an OperationKind.
func (k OperationKind) String() string {
	switch k {
	case OpAdd:
		return "ADD"
	case OpRemove:
		return "REMOVE"
	case OpEnable:
		return "ENABLE"
	case OpDisable:
		return "DISABLE"
	case OpUpdateConfig:
		return "UPDATE_CONFIG"
	default:
		return "UNKNOWN"
	}
}

// MarshalText persists operation kinds by name.
func (k OperationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OperationKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ADD":
		*k = OpAdd
	case "REMOVE":
		*k = OpRemove
	case "ENABLE":
		*k = OpEnable
	case "DISABLE":
		*k = OpDisable
	case "UPDATE_CONFIG":
		*k = OpUpdateConfig
	default:
		return fmt.Errorf("unknown operation kind %q", text)
	}
	return nil
}

// Record is the durable snapshot of one procedure. It is persisted before
// every state transition so a restarted coordinator resumes where the
// previous run stopped instead of starting over.
type Record struct {
	ID     string                  `json:"id"`
	Kind   OperationKind           `json:"kind"`
	PeerID string                  `json:"peer_id"`
	Config *replication.PeerConfig `json:"config,omitempty"`
	State  State                   `json:"state"`
	Reason string                  `json:"reason,omitempty"`

	// PrevState and PrevConfig capture what the storage update replaced.
	// They ride the record so a rollback resumed after a crash still knows
	// what to restore.
	PrevState  *replication.PeerState  `json:"prev_state,omitempty"`
	PrevConfig *replication.PeerConfig `json:"prev_config,omitempty"`
	// Applied marks that the mutation reached the store.
	Applied bool `json:"applied,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newRecord(kind OperationKind, peerID string, config *replication.PeerConfig) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		PeerID:    peerID,
		Config:    config,
		State:     StatePreModification,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
