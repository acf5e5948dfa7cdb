// Package coordstore defines the coordination store used to persist
// replication peers, queues and procedure state. Keys form a
// slash-separated hierarchy ("rs/<server>/<queue>/<wal>") and writes
// materialize missing parent keys, so a parent survives until it is
// deleted explicitly even after its last child is removed.
//
// Two implementations are provided: MemStore, a process-local store for
// tests and single-node deployments, and PGStore, which keeps the
// hierarchy in PostgreSQL and drives watches off LISTEN/NOTIFY.
package coordstore

import (
	"context"
	"strings"
)

// OpKind identifies the type of a batched store operation.
type OpKind int

const (
	// OpSet writes a value, creating the key and any missing parents.
	OpSet OpKind = iota
	// OpCreate writes a value only if the key does not exist yet.
	OpCreate
	// OpDelete removes a key and its entire subtree. Inside MultiOp the
	// key must exist, otherwise the whole batch fails.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a single operation inside a MultiOp batch.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
}

// SetOp builds an unconditional write operation.
func SetOp(key string, value []byte) Op {
	return Op{Kind: OpSet, Key: key, Value: value}
}

// CreateOp builds a create-if-absent operation.
func CreateOp(key string, value []byte) Op {
	return Op{Kind: OpCreate, Key: key, Value: value}
}

// DeleteOp builds a strict delete operation.
func DeleteOp(key string) Op {
	return Op{Kind: OpDelete, Key: key}
}

// EventKind identifies the type of a watch event.
type EventKind int

const (
	// EventPut fires when a key is created or its value changes.
	EventPut EventKind = iota
	// EventDelete fires when a key is removed.
	EventDelete
)

func (k EventKind) String() string {
	if k == EventDelete {
		return "delete"
	}
	return "put"
}

// Event describes a change under a watched prefix.
type Event struct {
	Kind  EventKind
	Key   string
	Value []byte
}

// Store is the durable coordination store the replication control plane
// builds on. Implementations must be safe for concurrent use.
//
// Transient connectivity failures surface as ErrUnavailable (wrapped in a
// StoreError); callers decide whether to retry. Missing keys surface as
// ErrNotFound from Get and Delete, while List of a missing key returns an
// empty slice.
type Store interface {
	// Get returns the value stored at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the names of the immediate children of key, sorted.
	// A missing or childless key yields an empty slice.
	List(ctx context.Context, key string) ([]string, error)

	// Set writes value at key, creating the key and any missing parents.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key and its entire subtree. Returns ErrNotFound if
	// the key does not exist.
	Delete(ctx context.Context, key string) error

	// MultiOp applies the batch atomically. Either every operation takes
	// effect or none does; a failed OpCreate or OpDelete aborts the batch.
	MultiOp(ctx context.Context, ops []Op) error

	// ConditionalCreate writes value at key only if the key is absent,
	// returning ErrAlreadyExists otherwise.
	ConditionalCreate(ctx context.Context, key string, value []byte) error

	// Watch streams changes to keys under prefix until ctx is cancelled
	// or the store closes. The returned channel is closed afterwards.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)

	// Close releases resources and terminates active watches.
	Close() error
}

// JoinKey assembles a hierarchical key from path segments, skipping empty
// ones.
func JoinKey(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// BaseName returns the last segment of a hierarchical key.
func BaseName(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// ParentKey returns the key one level above, or "" for a top-level key.
func ParentKey(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return ""
}
