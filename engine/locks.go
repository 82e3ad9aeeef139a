package engine

import "sync"

// docLocks serializes writers and compaction per document via lock
// striping. Two documents may share a stripe; that costs parallelism, not
// correctness.
type docLocks struct {
	stripes []sync.Mutex
}

func newDocLocks(n int) *docLocks {
	if n <= 0 {
		n = 64
	}
	return &docLocks{stripes: make([]sync.Mutex, n)}
}

func (l *docLocks) lock(doc uint64) *sync.Mutex {
	// Fibonacci hashing spreads sequential document IDs across stripes.
	idx := (doc * 0x9e3779b97f4a7c15) % uint64(len(l.stripes))
	m := &l.stripes[idx]
	m.Lock()
	return m
}
