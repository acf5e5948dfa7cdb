package coordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
)

const (
	defaultNotifyChannel = "replication_coord"
	listenRetryDelay     = time.Second
)

// PGStore keeps the coordination hierarchy in PostgreSQL. Every mutation
// runs in a transaction that also emits pg_notify events, so watches see
// changes made by any process sharing the database.
type PGStore struct {
	pool    *pgxpool.Pool
	channel string
	logger  logging.Logger
	metrics *metrics.Registry

	mu     sync.Mutex
	subs   map[uint64]*pgWatch
	nextID uint64
	closed bool

	listenOnce   sync.Once
	listenCtx    context.Context
	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

type pgWatch struct {
	id     uint64
	prefix string
	ch     chan Event
}

type pgNotifyPayload struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

var _ Store = (*PGStore)(nil)

// NewPGStore connects to PostgreSQL and ensures the schema exists.
func NewPGStore(ctx context.Context, connString string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	listenCtx, listenCancel := context.WithCancel(context.Background())
	s := &PGStore{
		pool:         pool,
		channel:      defaultNotifyChannel,
		logger:       logging.DefaultLogger().With(logging.Component("coordstore")),
		metrics:      metrics.DefaultRegistry(),
		subs:         make(map[uint64]*pgWatch),
		listenCtx:    listenCtx,
		listenCancel: listenCancel,
		listenDone:   make(chan struct{}),
	}
	if err := s.initSchema(ctx); err != nil {
		listenCancel()
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS coord_entries (
			key   TEXT PRIMARY KEY,
			value BYTEA
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", pgError(err))
	}
	return nil
}

// observe reports one finished operation. Deferred with time.Now() so the
// start time is captured at the call site.
func (s *PGStore) observe(op string, start time.Time, errp *error) {
	status := "ok"
	switch err := *errp; {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrAlreadyExists):
		status = "conflict"
	case errors.Is(err, ErrUnavailable):
		status = "unavailable"
	default:
		status = "error"
	}
	s.metrics.RecordStoreOperation(op, status, time.Since(start))
}

// Get returns the value stored at key.
func (s *PGStore) Get(ctx context.Context, key string) (_ []byte, err error) {
	defer s.observe("Get", time.Now(), &err)

	var value []byte
	err = s.pool.QueryRow(ctx,
		`SELECT value FROM coord_entries WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, opError("Get", key, ErrNotFound)
		}
		return nil, opError("Get", key, pgError(err))
	}
	return value, nil
}

// List returns the sorted names of the immediate children of key.
func (s *PGStore) List(ctx context.Context, key string) (_ []string, err error) {
	defer s.observe("List", time.Now(), &err)

	var rows pgx.Rows
	if key == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT key FROM coord_entries
			WHERE position('/' in key) = 0
			ORDER BY key`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT substring(key from length($1) + 2) AS child
			FROM coord_entries
			WHERE key LIKE $1 || '/%'
			  AND position('/' in substring(key from length($1) + 2)) = 0
			ORDER BY child`, key)
	}
	if err != nil {
		return nil, opError("List", key, pgError(err))
	}
	defer rows.Close()

	children := make([]string, 0)
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, opError("List", key, pgError(err))
		}
		children = append(children, child)
	}
	if err := rows.Err(); err != nil {
		return nil, opError("List", key, pgError(err))
	}
	return children, nil
}

// Set writes value at key, creating missing parents.
func (s *PGStore) Set(ctx context.Context, key string, value []byte) error {
	return s.inTx(ctx, "Set", func(tx pgx.Tx) error {
		return s.setTx(ctx, tx, key, value, false)
	})
}

// Delete removes key and its subtree.
func (s *PGStore) Delete(ctx context.Context, key string) error {
	return s.inTx(ctx, "Delete", func(tx pgx.Tx) error {
		return s.deleteTx(ctx, tx, key)
	})
}

// MultiOp applies the batch in a single transaction.
func (s *PGStore) MultiOp(ctx context.Context, ops []Op) error {
	return s.inTx(ctx, "MultiOp", func(tx pgx.Tx) error {
		for _, op := range ops {
			var err error
			switch op.Kind {
			case OpSet:
				err = s.setTx(ctx, tx, op.Key, op.Value, false)
			case OpCreate:
				err = s.setTx(ctx, tx, op.Key, op.Value, true)
			case OpDelete:
				err = s.deleteTx(ctx, tx, op.Key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ConditionalCreate writes value only if key is absent.
func (s *PGStore) ConditionalCreate(ctx context.Context, key string, value []byte) error {
	return s.inTx(ctx, "ConditionalCreate", func(tx pgx.Tx) error {
		return s.setTx(ctx, tx, key, value, true)
	})
}

func (s *PGStore) inTx(ctx context.Context, opName string, fn func(tx pgx.Tx) error) (err error) {
	defer s.observe(opName, time.Now(), &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return opError(opName, "", pgError(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			return err
		}
		return opError(opName, "", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return opError(opName, "", pgError(err))
	}
	return nil
}

func (s *PGStore) setTx(ctx context.Context, tx pgx.Tx, key string, value []byte, createOnly bool) error {
	// Materialize missing ancestors bottom-up order does not matter
	// inside one transaction.
	for parent := ParentKey(key); parent != ""; parent = ParentKey(parent) {
		tag, err := tx.Exec(ctx, `
			INSERT INTO coord_entries (key, value) VALUES ($1, NULL)
			ON CONFLICT (key) DO NOTHING`, parent)
		if err != nil {
			return opError("Set", parent, pgError(err))
		}
		if tag.RowsAffected() == 1 {
			if err := s.notifyTx(ctx, tx, EventPut, parent); err != nil {
				return err
			}
		}
	}

	if createOnly {
		tag, err := tx.Exec(ctx, `
			INSERT INTO coord_entries (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING`, key, value)
		if err != nil {
			return opError("Create", key, pgError(err))
		}
		if tag.RowsAffected() == 0 {
			return opError("Create", key, ErrAlreadyExists)
		}
	} else {
		_, err := tx.Exec(ctx, `
			INSERT INTO coord_entries (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
		if err != nil {
			return opError("Set", key, pgError(err))
		}
	}
	return s.notifyTx(ctx, tx, EventPut, key)
}

func (s *PGStore) deleteTx(ctx context.Context, tx pgx.Tx, key string) error {
	rows, err := tx.Query(ctx, `
		DELETE FROM coord_entries
		WHERE key = $1 OR key LIKE $1 || '/%'
		RETURNING key`, key)
	if err != nil {
		return opError("Delete", key, pgError(err))
	}
	removed := make([]string, 0, 1)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return opError("Delete", key, pgError(err))
		}
		removed = append(removed, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return opError("Delete", key, pgError(err))
	}

	found := false
	for _, k := range removed {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		return opError("Delete", key, ErrNotFound)
	}
	for _, k := range removed {
		if err := s.notifyTx(ctx, tx, EventDelete, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) notifyTx(ctx context.Context, tx pgx.Tx, kind EventKind, key string) error {
	payload, err := json.Marshal(pgNotifyPayload{Kind: kind.String(), Key: key})
	if err != nil {
		return opError("Notify", key, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, string(payload)); err != nil {
		return opError("Notify", key, pgError(err))
	}
	return nil
}

// Watch streams events for keys under prefix. pg_notify payloads carry
// only the key, so Event.Value is always nil; watchers re-read what they
// need.
func (s *PGStore) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, opError("Watch", prefix, ErrStoreClosed)
	}
	s.nextID++
	w := &pgWatch{
		id:     s.nextID,
		prefix: prefix,
		ch:     make(chan Event, watchBufferSize),
	}
	s.subs[w.id] = w
	s.mu.Unlock()

	s.listenOnce.Do(func() {
		go s.listenLoop()
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-s.listenCtx.Done():
		}
		s.mu.Lock()
		if _, ok := s.subs[w.id]; ok {
			delete(s.subs, w.id)
			close(w.ch)
		}
		s.mu.Unlock()
	}()

	return w.ch, nil
}

// listenLoop holds a dedicated connection on LISTEN and fans incoming
// notifications out to subscribers, reconnecting after failures.
func (s *PGStore) listenLoop() {
	defer close(s.listenDone)
	for {
		err := s.listenOnce1(s.listenCtx)
		if s.listenCtx.Err() != nil {
			return
		}
		s.logger.Warn("store listener disconnected, retrying",
			logging.Error(err),
			logging.Duration("retry_in", listenRetryDelay))
		select {
		case <-time.After(listenRetryDelay):
		case <-s.listenCtx.Done():
			return
		}
	}
}

func (s *PGStore) listenOnce1(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to LISTEN on %s: %w", s.channel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var payload pgNotifyPayload
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			s.logger.Warn("dropping malformed store notification", logging.Error(err))
			continue
		}
		kind := EventPut
		if payload.Kind == EventDelete.String() {
			kind = EventDelete
		}
		s.dispatch(Event{Kind: kind, Key: payload.Key})
	}
}

func (s *PGStore) dispatch(ev Event) {
	s.mu.Lock()
	watchers := make([]*pgWatch, 0, len(s.subs))
	for _, w := range s.subs {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		if !keyUnderPrefix(ev.Key, w.prefix) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
			// Subscriber fell behind; it will resync on its next read.
		}
	}
}

// Close stops the listener, terminates watches and releases the pool.
func (s *PGStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, w := range s.subs {
		delete(s.subs, id)
		close(w.ch)
	}
	s.mu.Unlock()

	s.listenCancel()
	s.pool.Close()
	return nil
}

// pgError maps driver failures onto the store's sentinel errors so callers
// can retry on ErrUnavailable without knowing the backend.
func pgError(err error) error {
	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		switch pge.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
