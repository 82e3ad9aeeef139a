package engine

import (
	"context"

	"github.com/hupe1980/revgo/model"
)

// Fallback supplies version content that the engine no longer stores
// locally, typically an upstream source-of-truth service. Fetch returns
// ErrNotFound when the source does not have the version either.
type Fallback interface {
	Fetch(ctx context.Context, doc model.DocumentID, version model.VersionNumber) ([]byte, error)
}

// FallbackFunc adapts a function to the Fallback interface.
type FallbackFunc func(ctx context.Context, doc model.DocumentID, version model.VersionNumber) ([]byte, error)

func (f FallbackFunc) Fetch(ctx context.Context, doc model.DocumentID, version model.VersionNumber) ([]byte, error) {
	return f(ctx, doc, version)
}
