package coordstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const watchBufferSize = 128

// MemStore is an in-process Store for tests and single-node deployments.
// The full key hierarchy lives in one map; parents are materialized on
// write so they outlive their children, matching the durable
// implementations.
type MemStore struct {
	mu     sync.RWMutex
	nodes  map[string][]byte
	subs   map[uint64]*memWatch
	nextID uint64
	closed bool

	// Watch deliveries that were dropped because a subscriber fell behind.
	droppedEvents atomic.Uint64
}

type memWatch struct {
	id     uint64
	prefix string
	ch     chan Event
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes: make(map[string][]byte),
		subs:  make(map[uint64]*memWatch),
	}
}

// Get returns the value stored at key.
func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, opError("Get", key, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, opError("Get", key, ErrStoreClosed)
	}
	value, ok := s.nodes[key]
	if !ok {
		return nil, opError("Get", key, ErrNotFound)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// List returns the sorted names of the immediate children of key.
func (s *MemStore) List(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, opError("List", key, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, opError("List", key, ErrStoreClosed)
	}
	children := make([]string, 0)
	for path := range s.nodes {
		if ParentKey(path) == key {
			children = append(children, BaseName(path))
		}
	}
	sort.Strings(children)
	return children, nil
}

// Set writes value at key, creating missing parents.
func (s *MemStore) Set(ctx context.Context, key string, value []byte) error {
	return s.apply(ctx, "Set", []Op{SetOp(key, value)}, false)
}

// Delete removes key and its subtree.
func (s *MemStore) Delete(ctx context.Context, key string) error {
	return s.apply(ctx, "Delete", []Op{DeleteOp(key)}, false)
}

// MultiOp applies the batch atomically.
func (s *MemStore) MultiOp(ctx context.Context, ops []Op) error {
	return s.apply(ctx, "MultiOp", ops, false)
}

// ConditionalCreate writes value only if key is absent.
func (s *MemStore) ConditionalCreate(ctx context.Context, key string, value []byte) error {
	return s.apply(ctx, "ConditionalCreate", []Op{CreateOp(key, value)}, true)
}

// apply validates every operation against the current state plus the
// effects of earlier operations in the same batch, then commits. Nothing
// is written when validation fails.
func (s *MemStore) apply(ctx context.Context, opName string, ops []Op, single bool) error {
	if err := ctx.Err(); err != nil {
		return opError(opName, batchKey(ops), err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return opError(opName, batchKey(ops), ErrStoreClosed)
	}

	// Validation pass over an overlay of pending changes.
	pending := make(map[string]bool, len(ops)) // key -> exists after earlier ops
	exists := func(key string) bool {
		if state, touched := pending[key]; touched {
			return state
		}
		_, ok := s.nodes[key]
		return ok
	}
	markSubtree := func(key string, state bool) {
		pending[key] = state
		prefix := key + "/"
		for path := range s.nodes {
			if strings.HasPrefix(path, prefix) {
				pending[path] = state
			}
		}
	}
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			markSubtree(op.Key, true)
			for parent := ParentKey(op.Key); parent != ""; parent = ParentKey(parent) {
				pending[parent] = true
			}
		case OpCreate:
			if exists(op.Key) {
				s.mu.Unlock()
				return opError(opName, op.Key, ErrAlreadyExists)
			}
			pending[op.Key] = true
			for parent := ParentKey(op.Key); parent != ""; parent = ParentKey(parent) {
				pending[parent] = true
			}
		case OpDelete:
			if !exists(op.Key) {
				s.mu.Unlock()
				return opError(opName, op.Key, ErrNotFound)
			}
			markSubtree(op.Key, false)
		}
	}

	// Commit pass.
	var events []Event
	for _, op := range ops {
		switch op.Kind {
		case OpSet, OpCreate:
			events = append(events, s.putLocked(op.Key, op.Value)...)
		case OpDelete:
			events = append(events, s.deleteLocked(op.Key)...)
		}
	}

	watchers := make([]*memWatch, 0, len(s.subs))
	for _, w := range s.subs {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	s.deliver(watchers, events)
	return nil
}

// putLocked stores value at key and materializes missing parents.
func (s *MemStore) putLocked(key string, value []byte) []Event {
	var events []Event
	for parent := ParentKey(key); parent != ""; parent = ParentKey(parent) {
		if _, ok := s.nodes[parent]; !ok {
			s.nodes[parent] = nil
			events = append(events, Event{Kind: EventPut, Key: parent})
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.nodes[key] = stored
	events = append(events, Event{Kind: EventPut, Key: key, Value: stored})
	return events
}

// deleteLocked removes key and every descendant.
func (s *MemStore) deleteLocked(key string) []Event {
	var events []Event
	prefix := key + "/"
	for path := range s.nodes {
		if path == key || strings.HasPrefix(path, prefix) {
			delete(s.nodes, path)
			events = append(events, Event{Kind: EventDelete, Key: path})
		}
	}
	return events
}

func (s *MemStore) deliver(watchers []*memWatch, events []Event) {
	for _, ev := range events {
		for _, w := range watchers {
			if !keyUnderPrefix(ev.Key, w.prefix) {
				continue
			}
			select {
			case w.ch <- ev:
			default:
				s.droppedEvents.Add(1)
			}
		}
	}
}

// Watch streams events for keys under prefix until ctx is cancelled.
func (s *MemStore) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, opError("Watch", prefix, ErrStoreClosed)
	}
	s.nextID++
	w := &memWatch{
		id:     s.nextID,
		prefix: prefix,
		ch:     make(chan Event, watchBufferSize),
	}
	s.subs[w.id] = w
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.subs[w.id]; ok {
			delete(s.subs, w.id)
			close(w.ch)
		}
		s.mu.Unlock()
	}()

	return w.ch, nil
}

// DroppedEvents reports how many watch deliveries were discarded because a
// subscriber channel was full.
func (s *MemStore) DroppedEvents() uint64 {
	return s.droppedEvents.Load()
}

// Close terminates all watches and rejects further operations.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, w := range s.subs {
		delete(s.subs, id)
		close(w.ch)
	}
	return nil
}

func keyUnderPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}

func batchKey(ops []Op) string {
	if len(ops) == 1 {
		return ops[0].Key
	}
	return ""
}
