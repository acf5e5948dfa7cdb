package coordstore

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrNotFound      = errors.New("key not found")
	ErrAlreadyExists = errors.New("key already exists")
	ErrUnavailable   = errors.New("store unavailable")
	ErrStoreClosed   = errors.New("store is closed")
	ErrBadValue      = errors.New("corrupt value")
)

// StoreError provides structured error information for store operations.
type StoreError struct {
	Op    string // Operation that failed (e.g., "Get", "MultiOp")
	Key   string // Key or prefix involved
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
func (e *StoreError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

func opError(op, key string, cause error) error {
	return &StoreError{Op: op, Key: key, Cause: cause}
}

// IsNotFound returns true if the error indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists returns true if the error indicates a conditional create
// hit an existing key.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsUnavailable returns true if the error is a transient connectivity failure
// worth retrying.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
