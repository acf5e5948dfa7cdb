package server

import (
	"io"

	"github.com/tesseradb/replication/pkg/logging"
)

// ResourceCleanup tears down resources in reverse registration order
// (LIFO). The daemon registers components as it starts them, so a failed
// startup or a shutdown unwinds them in dependency order without
// cascading error handling.
//
//	cleanup := NewResourceCleanup(logger)
//	defer cleanup.Cleanup()
//
//	listener, err := startListener()
//	if err != nil {
//	    return err
//	}
//	cleanup.Add(listener, "listener")
//	...
type ResourceCleanup struct {
	logger    logging.Logger
	resources []namedCloser
}

// namedCloser wraps a closer with a descriptive name for logging
type namedCloser struct {
	closer io.Closer
	name   string
}

// CloserFunc adapts a plain stop function to io.Closer, letting components
// with Stop() error methods register in a ResourceCleanup.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// NewResourceCleanup creates an empty cleanup stack.
func NewResourceCleanup(logger logging.Logger) *ResourceCleanup {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &ResourceCleanup{
		logger:    logger.With(logging.Component("cleanup")),
		resources: make([]namedCloser, 0, 8),
	}
}

// Add registers a resource to be cleaned up. Resources are closed in
// reverse order (LIFO).
func (rc *ResourceCleanup) Add(closer io.Closer, name string) {
	rc.resources = append(rc.resources, namedCloser{closer: closer, name: name})
}

// AddFunc registers a stop function to be cleaned up.
func (rc *ResourceCleanup) AddFunc(stop func() error, name string) {
	rc.Add(CloserFunc(stop), name)
}

// Cleanup closes all registered resources in reverse order. Errors are
// logged but do not stop the unwind. Idempotent.
func (rc *ResourceCleanup) Cleanup() {
	for i := len(rc.resources) - 1; i >= 0; i-- {
		r := rc.resources[i]
		if r.closer == nil {
			continue
		}
		if err := r.closer.Close(); err != nil {
			rc.logger.Warn("failed to close resource",
				logging.String("resource", r.name),
				logging.Error(err))
		}
	}
	rc.resources = rc.resources[:0]
}

// Clear removes all registered resources without closing them. Call after
// a successful startup when a deferred Cleanup should become a no-op.
func (rc *ResourceCleanup) Clear() {
	rc.resources = rc.resources[:0]
}

// CloseAll closes all registered resources in reverse order and returns
// the first error encountered. Every resource is attempted regardless.
func (rc *ResourceCleanup) CloseAll() error {
	var firstErr error
	for i := len(rc.resources) - 1; i >= 0; i-- {
		r := rc.resources[i]
		if r.closer == nil {
			continue
		}
		if err := r.closer.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			rc.logger.Warn("failed to close resource",
				logging.String("resource", r.name),
				logging.Error(err))
		}
	}
	rc.resources = rc.resources[:0]
	return firstErr
}

// Len returns the number of registered resources.
func (rc *ResourceCleanup) Len() int {
	return len(rc.resources)
}
