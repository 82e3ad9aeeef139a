package blockstore

import (
	"context"
	"errors"
)

// TieredStore combines a primary BlockStore with a cold Archive.
//
// Writes and reference counting always go to the primary tier. Reads prefer
// the primary and fall back to the archive, so a block whose local bytes
// were lost or already collected can still be served if it was archived.
// Deletion removes the block from both tiers.
type TieredStore struct {
	primary BlockStore
	archive Archive
}

// NewTieredStore creates a TieredStore. archive may not be nil; use the
// primary store directly when no cold tier is configured.
func NewTieredStore(primary BlockStore, archive Archive) *TieredStore {
	return &TieredStore{primary: primary, archive: archive}
}

// Put delegates to the primary tier.
func (t *TieredStore) Put(ctx context.Context, content []byte) (string, bool, error) {
	return t.primary.Put(ctx, content)
}

// Get reads from the primary tier, falling back to the archive.
func (t *TieredStore) Get(ctx context.Context, h string) ([]byte, error) {
	content, err := t.primary.Get(ctx, h)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return t.archive.Load(ctx, h)
}

// Increment delegates to the primary tier.
func (t *TieredStore) Increment(ctx context.Context, h string) error {
	return t.primary.Increment(ctx, h)
}

// Decrement delegates to the primary tier.
func (t *TieredStore) Decrement(ctx context.Context, h string) (int64, error) {
	return t.primary.Decrement(ctx, h)
}

// Delete removes the block from both tiers. The archive removal happens
// first so a failure cannot leave a collectable block only in cold storage.
func (t *TieredStore) Delete(ctx context.Context, h string) error {
	if err := t.archive.Delete(ctx, h); err != nil {
		return err
	}
	return t.primary.Delete(ctx, h)
}

// Info delegates to the primary tier.
func (t *TieredStore) Info(ctx context.Context, h string) (BlockInfo, error) {
	return t.primary.Info(ctx, h)
}

// Zombies delegates to the primary tier.
func (t *TieredStore) Zombies(ctx context.Context) ([]string, error) {
	return t.primary.Zombies(ctx)
}

// Stats delegates to the primary tier.
func (t *TieredStore) Stats(ctx context.Context) (Stats, error) {
	return t.primary.Stats(ctx)
}

// ArchiveBlock copies a block from the primary tier into the archive.
// Archiving an already-archived block is a no-op at the Archive layer.
func (t *TieredStore) ArchiveBlock(ctx context.Context, h string) error {
	content, err := t.primary.Get(ctx, h)
	if err != nil {
		return err
	}
	return t.archive.Store(ctx, h, content)
}

// Archived reports the content addresses currently in cold storage.
func (t *TieredStore) Archived(ctx context.Context) ([]string, error) {
	return t.archive.List(ctx)
}

// PublishArchiveIndex asks the archive to publish a manifest of its
// current blocks. Archives without index support make this a no-op.
func (t *TieredStore) PublishArchiveIndex(ctx context.Context) error {
	p, ok := t.archive.(interface {
		PublishIndex(ctx context.Context) (string, error)
	})
	if !ok {
		return nil
	}
	_, err := p.PublishIndex(ctx)
	return err
}
