package coordstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// PG tests need a live database; they are skipped unless
// REPLICATION_TEST_PG_DSN points at one.
func testPGStore(t *testing.T) (*PGStore, string) {
	t.Helper()
	dsn := os.Getenv("REPLICATION_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("REPLICATION_TEST_PG_DSN not set; skipping PostgreSQL store tests")
	}
	s, err := NewPGStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPGStore failed: %v", err)
	}
	root := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		s.Delete(context.Background(), root)
		s.Close()
	})
	return s, root
}

func TestPGStoreCRUD(t *testing.T) {
	s, root := testPGStore(t)
	ctx := context.Background()

	key := JoinKey(root, "peers", "1")
	if err := s.Set(ctx, key, []byte("cfg")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil || string(got) != "cfg" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	// Parents materialized, children listable.
	children, err := s.List(ctx, JoinKey(root, "peers"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(children) != 1 || children[0] != "1" {
		t.Errorf("List = %v, want [1]", children)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, key); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, key); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestPGStoreMultiOpAtomicity(t *testing.T) {
	s, root := testPGStore(t)
	ctx := context.Background()

	src := JoinKey(root, "rs", "src", "q1")
	if err := s.Set(ctx, JoinKey(src, "wal1"), []byte("42")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	dst := JoinKey(root, "rs", "dst", "q1-src")
	err := s.MultiOp(ctx, []Op{
		CreateOp(dst, nil),
		DeleteOp(JoinKey(root, "rs", "src", "missing")),
	})
	if !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, dst); !IsNotFound(err) {
		t.Errorf("aborted batch leaked a write: %v", err)
	}

	err = s.MultiOp(ctx, []Op{
		CreateOp(dst, nil),
		CreateOp(JoinKey(dst, "wal1"), []byte("42")),
		DeleteOp(src),
	})
	if err != nil {
		t.Fatalf("MultiOp failed: %v", err)
	}
	if _, err := s.Get(ctx, src); !IsNotFound(err) {
		t.Errorf("source queue should be gone, got %v", err)
	}
}

func TestPGStoreConditionalCreate(t *testing.T) {
	s, root := testPGStore(t)
	ctx := context.Background()

	key := JoinKey(root, "peers", "1")
	if err := s.ConditionalCreate(ctx, key, []byte("a")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := s.ConditionalCreate(ctx, key, []byte("b")); !IsAlreadyExists(err) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPGStoreWatch(t *testing.T) {
	s, root := testPGStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := JoinKey(root, "peers")
	events, err := s.Watch(ctx, prefix)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	// Give the LISTEN connection a moment to come up before mutating.
	time.Sleep(200 * time.Millisecond)

	key := JoinKey(prefix, "1")
	if err := s.Set(ctx, key, []byte("cfg")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Key == key && ev.Kind == EventPut {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for put event")
		}
	}
}
