package blockstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/revgo/internal/hash"
)

const (
	ledgerFileName = "REFS.json"
	blocksDirName  = "blocks"
)

// LocalStore is a durable filesystem BlockStore.
//
// Block bytes live under root/blocks/<xx>/<hash> (fanout by the first two
// hex characters), framed with a CRC32C footer and lz4-compressed above the
// configured threshold. Reference counts live in a single JSON ledger that
// is rewritten atomically (tmp + rename + dir fsync) on every mutation, so
// a crash can never leave a block file observable without a ledger entry
// that was committed before it.
type LocalStore struct {
	root      string
	threshold int

	mu     sync.RWMutex
	ledger localLedger
}

type localLedger struct {
	Version int                     `json:"version"`
	Blocks  map[string]*ledgerEntry `json:"blocks"`
}

type ledgerEntry struct {
	Size int64 `json:"size"`
	Refs int64 `json:"refs"`
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithCompressionThreshold sets the content size above which blocks are
// stored lz4-compressed. Zero disables compression.
func WithCompressionThreshold(bytes int) LocalOption {
	return func(s *LocalStore) {
		s.threshold = bytes
	}
}

// OpenLocalStore opens (or initializes) a LocalStore rooted at dir.
func OpenLocalStore(dir string, optFns ...LocalOption) (*LocalStore, error) {
	s := &LocalStore{
		root:      dir,
		threshold: DefaultCompressionThreshold,
		ledger: localLedger{
			Version: 1,
			Blocks:  make(map[string]*ledgerEntry),
		},
	}
	for _, fn := range optFns {
		fn(s)
	}

	if err := os.MkdirAll(filepath.Join(dir, blocksDirName), 0o750); err != nil {
		return nil, fmt.Errorf("create block dir: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ledgerFileName))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &s.ledger); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if s.ledger.Blocks == nil {
		s.ledger.Blocks = make(map[string]*ledgerEntry)
	}
	return s, nil
}

func (s *LocalStore) blockPath(h string) string {
	return filepath.Join(s.root, blocksDirName, h[:2], h)
}

// saveLedger persists the ledger atomically. Caller holds s.mu.
func (s *LocalStore) saveLedger() error {
	data, err := json.MarshalIndent(&s.ledger, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.root, ledgerFileName)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(s.root)
}

// writeBlockFile publishes block bytes atomically. Caller holds s.mu.
func (s *LocalStore) writeBlockFile(h string, content []byte) error {
	path := s.blockPath(h)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	framed := encodeBlockFile(content, s.threshold)

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(framed); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(filepath.Dir(path))
}

// Put stores content under its content address, deduplicating against
// existing blocks.
func (s *LocalStore) Put(_ context.Context, content []byte) (string, bool, error) {
	h := hash.Content(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.ledger.Blocks[h]; ok {
		e.Refs++
		if err := s.saveLedger(); err != nil {
			e.Refs--
			return "", false, err
		}
		return h, false, nil
	}

	// Block bytes first, ledger entry second: an orphaned block file is
	// harmless, a dangling ledger entry is not.
	if err := s.writeBlockFile(h, content); err != nil {
		return "", false, err
	}

	s.ledger.Blocks[h] = &ledgerEntry{Size: int64(len(content)), Refs: 1}
	if err := s.saveLedger(); err != nil {
		delete(s.ledger.Blocks, h)
		return "", false, err
	}
	return h, true, nil
}

// Get returns the block content, verifying the integrity footer.
func (s *LocalStore) Get(_ context.Context, h string) ([]byte, error) {
	s.mu.RLock()
	_, ok := s.ledger.Blocks[h]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(s.blockPath(h))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	content, err := decodeBlockFile(raw)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", h, err)
	}
	return content, nil
}

// Increment adds a reference to an existing block.
func (s *LocalStore) Increment(_ context.Context, h string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ledger.Blocks[h]
	if !ok {
		return ErrNotFound
	}
	e.Refs++
	if err := s.saveLedger(); err != nil {
		e.Refs--
		return err
	}
	return nil
}

// Decrement removes a reference and returns the new count.
func (s *LocalStore) Decrement(_ context.Context, h string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ledger.Blocks[h]
	if !ok {
		return 0, ErrNotFound
	}
	if e.Refs > 0 {
		e.Refs--
		if err := s.saveLedger(); err != nil {
			e.Refs++
			return 0, err
		}
	}
	return e.Refs, nil
}

// Delete removes a zero-ref block from disk and ledger.
func (s *LocalStore) Delete(_ context.Context, h string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ledger.Blocks[h]
	if !ok {
		return ErrNotFound
	}
	if e.Refs > 0 {
		return ErrBlockReferenced
	}

	// Ledger first: if the file removal is lost to a crash, the orphan is
	// re-collectable; the reverse order could resurrect a deleted hash.
	delete(s.ledger.Blocks, h)
	if err := s.saveLedger(); err != nil {
		s.ledger.Blocks[h] = e
		return err
	}
	if err := os.Remove(s.blockPath(h)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Info returns metadata for a single block.
func (s *LocalStore) Info(_ context.Context, h string) (BlockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.ledger.Blocks[h]
	if !ok {
		return BlockInfo{}, ErrNotFound
	}
	return BlockInfo{Hash: h, Size: e.Size, RefCount: e.Refs}, nil
}

// Zombies lists blocks whose reference count is zero.
func (s *LocalStore) Zombies(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zombies []string
	for h, e := range s.ledger.Blocks {
		if e.Refs == 0 {
			zombies = append(zombies, h)
		}
	}
	return zombies, nil
}

// Stats returns aggregate storage statistics.
func (s *LocalStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, e := range s.ledger.Blocks {
		st.Blocks++
		st.ContentBytes += e.Size
		if e.Refs == 0 {
			st.ZeroRefBlocks++
		} else {
			st.DedupSavedBytes += e.Size * (e.Refs - 1)
		}
	}
	return st, nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
