package blockstore

import (
	"context"
	"sync"

	"github.com/hupe1980/revgo/internal/hash"
)

// MemoryStore is an in-memory BlockStore implementation for testing and
// ephemeral deployments. Thread-safe for concurrent readers and writers.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string]*memBlock
}

type memBlock struct {
	data []byte
	refs int64
}

// NewMemoryStore creates a new in-memory block store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[string]*memBlock),
	}
}

// Put stores content under its content address, deduplicating against
// existing blocks.
func (m *MemoryStore) Put(_ context.Context, content []byte) (string, bool, error) {
	h := hash.Content(content)

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.blocks[h]; ok {
		b.refs++
		return h, false, nil
	}

	// Copy to prevent external mutation
	data := make([]byte, len(content))
	copy(data, content)
	m.blocks[h] = &memBlock{data: data, refs: 1}
	return h, true, nil
}

// Get returns the block content.
func (m *MemoryStore) Get(_ context.Context, h string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blocks[h]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]byte, len(b.data))
	copy(copied, b.data)
	return copied, nil
}

// Increment adds a reference to an existing block.
func (m *MemoryStore) Increment(_ context.Context, h string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[h]
	if !ok {
		return ErrNotFound
	}
	b.refs++
	return nil
}

// Decrement removes a reference and returns the new count.
func (m *MemoryStore) Decrement(_ context.Context, h string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[h]
	if !ok {
		return 0, ErrNotFound
	}
	if b.refs > 0 {
		b.refs--
	}
	return b.refs, nil
}

// Delete removes a zero-ref block.
func (m *MemoryStore) Delete(_ context.Context, h string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[h]
	if !ok {
		return ErrNotFound
	}
	if b.refs > 0 {
		return ErrBlockReferenced
	}
	delete(m.blocks, h)
	return nil
}

// Info returns metadata for a single block.
func (m *MemoryStore) Info(_ context.Context, h string) (BlockInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blocks[h]
	if !ok {
		return BlockInfo{}, ErrNotFound
	}
	return BlockInfo{Hash: h, Size: int64(len(b.data)), RefCount: b.refs}, nil
}

// Zombies lists blocks whose reference count is zero.
func (m *MemoryStore) Zombies(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zombies []string
	for h, b := range m.blocks {
		if b.refs == 0 {
			zombies = append(zombies, h)
		}
	}
	return zombies, nil
}

// Stats returns aggregate storage statistics.
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, b := range m.blocks {
		s.Blocks++
		size := int64(len(b.data))
		s.ContentBytes += size
		if b.refs == 0 {
			s.ZeroRefBlocks++
		} else {
			s.DedupSavedBytes += size * (b.refs - 1)
		}
	}
	return s, nil
}
