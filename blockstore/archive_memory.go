package blockstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryArchive is an in-memory Archive implementation for testing.
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchive creates a new in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string][]byte)}
}

// Store writes content under its content address. Idempotent.
func (a *MemoryArchive) Store(_ context.Context, h string, content []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.objects[h]; ok {
		return nil
	}
	copied := make([]byte, len(content))
	copy(copied, content)
	a.objects[h] = copied
	return nil
}

// Load returns the archived content, or ErrNotFound.
func (a *MemoryArchive) Load(_ context.Context, h string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data, ok := a.objects[h]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// Delete removes an archived block. Absent blocks are not an error.
func (a *MemoryArchive) Delete(_ context.Context, h string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.objects, h)
	return nil
}

// List returns the archived content addresses, sorted.
func (a *MemoryArchive) List(_ context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.objects))
	for h := range a.objects {
		names = append(names, h)
	}
	sort.Strings(names)
	return names, nil
}
