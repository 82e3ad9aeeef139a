package revgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/revgo/engine"
)

var (
	// ErrNotFound is returned when a requested version is absent and no
	// fallback satisfied it.
	ErrNotFound = errors.New("not found")

	// ErrStorage wraps transient persistence failures. The call may be
	// retried; retried stores create new version numbers (at-least-once).
	ErrStorage = errors.New("storage failure")

	// ErrBaseVersionNotFound indicates a broken delta chain. Fatal for
	// that version; alert rather than retry.
	ErrBaseVersionNotFound = errors.New("base version not found")

	// ErrDeltaApplicationFailed indicates a stored patch no longer applies
	// to its base. Fatal for that reconstruction; alert rather than retry.
	ErrDeltaApplicationFailed = errors.New("delta application failed")

	// ErrFallback indicates the external fallback source failed.
	ErrFallback = errors.New("fallback failed")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// translateError maps engine-level errors onto the public taxonomy. Every
// outcome stays distinguishable via errors.Is / errors.As; the engine
// error remains reachable through Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, engine.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, engine.ErrBaseVersionNotFound):
		return fmt.Errorf("%w: %w", ErrBaseVersionNotFound, err)
	case errors.Is(err, engine.ErrDeltaApplicationFailed):
		return fmt.Errorf("%w: %w", ErrDeltaApplicationFailed, err)
	case errors.Is(err, engine.ErrFallback):
		return fmt.Errorf("%w: %w", ErrFallback, err)
	case errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var serr *engine.StorageError
	if errors.As(err, &serr) {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return err
}
