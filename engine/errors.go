package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested version is absent locally
	// and no fallback satisfied it.
	ErrNotFound = errors.New("version not found")

	// ErrBaseVersionNotFound is returned when a delta record references a
	// base version that no longer exists. It indicates corrupted
	// invariants and must not be retried.
	ErrBaseVersionNotFound = errors.New("base version not found")

	// ErrDeltaApplicationFailed is returned when a stored patch does not
	// apply cleanly during reconstruction. Fatal for that read; signals
	// corruption.
	ErrDeltaApplicationFailed = errors.New("delta application failed")

	// ErrFallback is returned when the external fallback source failed.
	ErrFallback = errors.New("fallback fetch failed")

	// ErrClosed is returned for operations on a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// StorageError wraps a transient persistence failure. Callers may retry
// the whole operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
