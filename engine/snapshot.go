package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/revgo/model"
	"github.com/hupe1980/revgo/resource"
)

const (
	snapshotPrefix   = "SNAPSHOT"
	currentFileName  = "CURRENT"
	snapshotVersion  = 1
	snapshotFileMode = 0o644
)

// snapshotDoc is the persisted state of one document.
type snapshotDoc struct {
	Doc     model.DocumentID       `json:"doc"`
	Records []*model.VersionRecord `json:"records"`
	// Deleted is a serialized roaring bitmap of tombstoned versions.
	Deleted []byte `json:"deleted,omitempty"`
}

// snapshot is a point-in-time copy of the whole version state. The journal
// only needs to cover mutations after the snapshot it was truncated behind.
type snapshot struct {
	Version   int           `json:"version"`
	ID        uint64        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Documents []snapshotDoc `json:"documents"`
}

// SnapshotStore publishes snapshots atomically: the snapshot file is
// written, fsynced and renamed into place, then the CURRENT pointer file is
// swapped to name it. A crash at any point leaves either the old or the
// new snapshot current, never a partial one.
type SnapshotStore struct {
	mu     sync.Mutex
	dir    string
	lastID uint64 // highest published snapshot ID, seeded by Load
}

// NewSnapshotStore creates a snapshot store rooted at dir.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

// Load returns the current snapshot, or an empty one when none has been
// published yet.
func (s *SnapshotStore) Load() (*snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := os.ReadFile(filepath.Join(s.dir, currentFileName))
	if os.IsNotExist(err) {
		return &snapshot{Version: snapshotVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", currentFileName, err)
	}

	name := strings.TrimSpace(string(current))
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.ID > s.lastID {
		s.lastID = snap.ID
	}
	return &snap, nil
}

// Save publishes a new snapshot. Writes go through the resource
// controller's IO budget since checkpoints run in the background.
func (s *SnapshotStore) Save(ctx context.Context, snap *snapshot, rc *resource.Controller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = snapshotVersion
	s.lastID++
	snap.ID = s.lastID
	snap.CreatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%06d.json", snapshotPrefix, snap.ID)
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, snapshotFileMode)
	if err != nil {
		return err
	}
	if _, err := resource.NewRateLimitedWriter(ctx, f, rc).Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := syncDir(s.dir); err != nil {
		return err
	}

	if err := s.publishCurrent(name); err != nil {
		return err
	}

	s.removeStale(name)
	return nil
}

// publishCurrent swaps the CURRENT pointer to name with the same
// tmp-rename-sync dance as the snapshot file itself.
func (s *SnapshotStore) publishCurrent(name string) error {
	currentPath := filepath.Join(s.dir, currentFileName)
	tmpPath := currentPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, snapshotFileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(name)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, currentPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return syncDir(s.dir)
}

// removeStale deletes superseded snapshot files, best effort.
func (s *SnapshotStore) removeStale(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	var stale []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, snapshotPrefix) && name != keep && !strings.HasSuffix(name, ".tmp") {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
