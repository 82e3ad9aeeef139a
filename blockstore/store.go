package blockstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a block does not exist.
var ErrNotFound = errors.New("block not found")

// ErrBlockReferenced is returned when Delete is called on a block whose
// reference count is still positive.
var ErrBlockReferenced = errors.New("block still referenced")

// BlockInfo describes a stored block.
type BlockInfo struct {
	Hash string
	// Size is the uncompressed content length.
	Size int64
	// RefCount is the number of live full version records whose content
	// hash matches this block.
	RefCount int64
}

// Stats is an aggregate view over a store.
type Stats struct {
	Blocks        int64
	ZeroRefBlocks int64
	// ContentBytes is the sum of uncompressed block sizes.
	ContentBytes int64
	// DedupSavedBytes is the logical volume avoided by sharing blocks:
	// sum over blocks of size*(refcount-1).
	DedupSavedBytes int64
}

// BlockStore is content-addressed, deduplicated byte storage with reference
// counting. Blocks are immutable; only the reference count mutates.
//
// Deletion is never performed inline on the write path. Decrement marks a
// block eligible by dropping its count to zero; the compaction engine later
// collects zero-ref blocks via Zombies and Delete.
type BlockStore interface {
	// Put stores content under its content address. If a block with the
	// same address already exists its reference count is incremented and
	// no bytes are written; otherwise a new block is created with
	// reference count 1. created reports which case occurred.
	Put(ctx context.Context, content []byte) (hash string, created bool, err error)

	// Get returns the content of the block, or ErrNotFound.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Increment adds a reference to an existing block. Used when a new
	// version record points at an already-stored block (e.g. content
	// reverted to a prior value).
	Increment(ctx context.Context, hash string) error

	// Decrement removes a reference and returns the new count. A count of
	// zero makes the block eligible for deletion but does not delete it.
	Decrement(ctx context.Context, hash string) (int64, error)

	// Delete removes a zero-ref block. Returns ErrBlockReferenced when the
	// count is still positive and ErrNotFound when the block is absent.
	Delete(ctx context.Context, hash string) error

	// Info returns metadata for a single block.
	Info(ctx context.Context, hash string) (BlockInfo, error)

	// Zombies lists blocks whose reference count is zero.
	Zombies(ctx context.Context) ([]string, error)

	// Stats returns aggregate storage statistics.
	Stats(ctx context.Context) (Stats, error)
}

// Archive is cold storage for blocks that aged out of the primary tier.
// Implementations store whole, self-describing objects keyed by content
// address; reference counting stays in the primary tier.
type Archive interface {
	// Store writes content to cold storage under its content address.
	// Storing the same hash twice is a no-op.
	Store(ctx context.Context, hash string, content []byte) error

	// Load returns the content of an archived block, or ErrNotFound.
	Load(ctx context.Context, hash string) ([]byte, error)

	// Delete removes an archived block. Deleting an absent block is not an
	// error.
	Delete(ctx context.Context, hash string) error

	// List returns the content addresses currently archived.
	List(ctx context.Context) ([]string, error)
}
