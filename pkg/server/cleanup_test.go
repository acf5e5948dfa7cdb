package server

import (
	"errors"
	"testing"

	"github.com/tesseradb/replication/pkg/logging"
)

// mockCloser is a test implementation of io.Closer
type mockCloser struct {
	closed     bool
	closeErr   error
	closeCalls int
	onClose    func()
}

func (m *mockCloser) Close() error {
	m.closeCalls++
	m.closed = true
	if m.onClose != nil {
		m.onClose()
	}
	return m.closeErr
}

func TestResourceCleanup_Basic(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	closer1 := &mockCloser{}
	closer2 := &mockCloser{}
	closer3 := &mockCloser{}

	cleanup.Add(closer1, "resource1")
	cleanup.Add(closer2, "resource2")
	cleanup.Add(closer3, "resource3")

	if cleanup.Len() != 3 {
		t.Errorf("Expected 3 resources, got %d", cleanup.Len())
	}

	cleanup.Cleanup()

	if !closer1.closed || !closer2.closed || !closer3.closed {
		t.Error("Not all resources were closed")
	}

	if cleanup.Len() != 0 {
		t.Errorf("Expected 0 resources after cleanup, got %d", cleanup.Len())
	}
}

func TestResourceCleanup_ReverseOrder(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	var closeOrder []string
	track := func(name string) *mockCloser {
		return &mockCloser{onClose: func() {
			closeOrder = append(closeOrder, name)
		}}
	}

	cleanup.Add(track("first"), "first")
	cleanup.Add(track("second"), "second")
	cleanup.Add(track("third"), "third")

	cleanup.Cleanup()

	want := []string{"third", "second", "first"}
	if len(closeOrder) != len(want) {
		t.Fatalf("Expected %d closes, got %d", len(want), len(closeOrder))
	}
	for i, name := range want {
		if closeOrder[i] != name {
			t.Errorf("close %d: expected %s, got %s", i, name, closeOrder[i])
		}
	}
}

func TestResourceCleanup_Clear(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	closer1 := &mockCloser{}
	closer2 := &mockCloser{}

	cleanup.Add(closer1, "resource1")
	cleanup.Add(closer2, "resource2")

	// Clear should remove resources without closing them
	cleanup.Clear()

	if cleanup.Len() != 0 {
		t.Errorf("Expected 0 resources after clear, got %d", cleanup.Len())
	}

	if closer1.closed || closer2.closed {
		t.Error("Resources should not be closed after Clear()")
	}

	// Cleanup should now be a no-op
	cleanup.Cleanup()

	if closer1.closed || closer2.closed {
		t.Error("Resources should still not be closed after Cleanup() following Clear()")
	}
}

func TestResourceCleanup_Idempotent(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	closer := &mockCloser{}
	cleanup.Add(closer, "resource")

	cleanup.Cleanup()

	if closer.closeCalls != 1 {
		t.Errorf("Expected 1 close call, got %d", closer.closeCalls)
	}

	// Second cleanup should be a no-op
	cleanup.Cleanup()

	if closer.closeCalls != 1 {
		t.Errorf("Expected still 1 close call after second cleanup, got %d", closer.closeCalls)
	}
}

func TestResourceCleanup_WithErrors(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	closer1 := &mockCloser{}
	closer2 := &mockCloser{closeErr: errors.New("close error")}
	closer3 := &mockCloser{}

	cleanup.Add(closer1, "resource1")
	cleanup.Add(closer2, "resource2")
	cleanup.Add(closer3, "resource3")

	// Cleanup should continue despite errors
	cleanup.Cleanup()

	if !closer1.closed || !closer2.closed || !closer3.closed {
		t.Error("All resources should be closed even when some fail")
	}
}

func TestResourceCleanup_CloseAll(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	expectedErr := errors.New("first error")
	closer1 := &mockCloser{closeErr: expectedErr}
	closer2 := &mockCloser{}

	cleanup.Add(closer1, "resource1")
	cleanup.Add(closer2, "resource2")

	// closer2 closes first (no error), then closer1 (with error)
	err := cleanup.CloseAll()

	if err != expectedErr {
		t.Errorf("Expected error %v, got %v", expectedErr, err)
	}

	if !closer1.closed || !closer2.closed {
		t.Error("Both resources should be closed")
	}
}

func TestResourceCleanup_AddFunc(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	stopped := false
	cleanup.AddFunc(func() error {
		stopped = true
		return nil
	}, "component")

	cleanup.Cleanup()

	if !stopped {
		t.Error("stop function was not called")
	}
}

func TestResourceCleanup_Empty(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	// Operations on empty cleanup should not panic
	cleanup.Cleanup()
	cleanup.Clear()

	if cleanup.Len() != 0 {
		t.Errorf("Expected 0 resources, got %d", cleanup.Len())
	}

	if err := cleanup.CloseAll(); err != nil {
		t.Errorf("Expected no error from empty CloseAll, got %v", err)
	}
}

func TestResourceCleanup_NilCloser(t *testing.T) {
	cleanup := NewResourceCleanup(logging.NewNopLogger())

	// Adding nil closer should not panic
	cleanup.Add(nil, "nil resource")

	cleanup.Cleanup() // Should not panic
}
