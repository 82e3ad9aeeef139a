package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/revgo/blockstore"
	"github.com/hupe1980/revgo/config"
	"github.com/hupe1980/revgo/delta"
	"github.com/hupe1980/revgo/internal/hash"
	"github.com/hupe1980/revgo/model"
	"github.com/hupe1980/revgo/resource"
)

// DefaultHistoryLimit caps History results when the caller passes no limit.
const DefaultHistoryLimit = 50

// Options configures an Engine.
type Options struct {
	// DataDir enables journal + snapshot persistence. Empty means the
	// version state lives in memory only (the block store may still be
	// durable on its own).
	DataDir string

	// Fallback serves versions that retention has removed locally.
	Fallback Fallback

	// Logger receives structured operational logs. Nil discards them.
	Logger *slog.Logger

	// Controller throttles background work. Nil means unlimited.
	Controller *resource.Controller

	// CompactionWorkers sizes the background scheduler pool.
	CompactionWorkers int

	// SyncJournal fsyncs every journal append.
	SyncJournal bool

	// CheckpointEveryOps triggers a background checkpoint after that many
	// committed mutations. 0 disables automatic checkpoints.
	CheckpointEveryOps int64

	// LockStripes sizes the per-document lock table.
	LockStripes int

	// DisableAutoCompaction stops StoreVersion from scheduling retention
	// passes. Compaction then only runs via CompactDocument/CompactAll.
	DisableAutoCompaction bool
}

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	CompactionWorkers: 2,
	LockStripes:       64,
}

// document is the in-memory state of one document. The records slice is
// copy-on-write: committed records are never mutated, so readers may hold
// references across lock boundaries.
type document struct {
	records []*model.VersionRecord // ascending version order
	deleted *roaring.Bitmap        // tombstoned versions, routed to fallback
	next    model.VersionNumber
}

func newDocument() *document {
	return &document{deleted: roaring.New(), next: 1}
}

func (d *document) find(v model.VersionNumber) *model.VersionRecord {
	for _, rec := range d.records {
		if rec.Version == v {
			return rec
		}
	}
	return nil
}

// Engine is the version store plus retention engine.
type Engine struct {
	opts     Options
	blocks   blockstore.BlockStore
	resolver *config.Resolver
	logger   *slog.Logger

	mu   sync.RWMutex
	docs map[model.DocumentID]*document

	locks     *docLocks
	journal   *Journal       // nil without DataDir
	snapshots *SnapshotStore // nil without DataDir
	scheduler *scheduler

	checkpointMu       sync.Mutex
	opsSinceCheckpoint atomic.Int64
	closed             atomic.Bool
}

// New creates an engine over the given block store and config resolver.
// With a DataDir configured, previous state is recovered from the latest
// snapshot plus journal replay.
func New(store blockstore.BlockStore, resolver *config.Resolver, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		opts:     opts,
		blocks:   store,
		resolver: resolver,
		logger:   opts.Logger,
		docs:     make(map[model.DocumentID]*document),
		locks:    newDocLocks(opts.LockStripes),
	}

	if opts.DataDir != "" {
		if err := e.recover(); err != nil {
			return nil, err
		}
	}

	e.scheduler = newScheduler(e, opts.CompactionWorkers)
	return e, nil
}

// recover loads the snapshot and replays the journal on top of it.
func (e *Engine) recover() error {
	snapshots, err := NewSnapshotStore(filepath.Join(e.opts.DataDir, "state"))
	if err != nil {
		return err
	}
	snap, err := snapshots.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	for _, sd := range snap.Documents {
		d := newDocument()
		d.records = sd.Records
		for _, rec := range d.records {
			if rec.Version >= d.next {
				d.next = rec.Version + 1
			}
		}
		if len(sd.Deleted) > 0 {
			if err := d.deleted.UnmarshalBinary(sd.Deleted); err != nil {
				return fmt.Errorf("decode tombstones for document %d: %w", sd.Doc, err)
			}
			// Tombstoned versions are older than any live record but may
			// exceed next when every version was evicted.
			if highest := model.VersionNumber(d.deleted.Maximum()); highest >= d.next {
				d.next = highest + 1
			}
		}
		e.docs[sd.Doc] = d
	}

	journal, err := OpenJournal(filepath.Join(e.opts.DataDir, "journal.log"), e.opts.SyncJournal)
	if err != nil {
		return err
	}

	replayed := 0
	err = journal.Replay(func(entry *journalEntry) error {
		e.applyEntry(entry)
		replayed++
		return nil
	})
	if err != nil {
		_ = journal.Close()
		return fmt.Errorf("replay journal: %w", err)
	}

	e.snapshots = snapshots
	e.journal = journal

	e.logger.Info("engine recovered",
		slog.Int("documents", len(e.docs)),
		slog.Int("journal_entries", replayed),
		slog.Uint64("snapshot_id", snap.ID))
	return nil
}

// applyEntry applies a journal entry to the in-memory state. Used during
// replay; live mutations go through the commit helpers which produce the
// same transitions.
func (e *Engine) applyEntry(entry *journalEntry) {
	switch entry.Op {
	case journalOpStore:
		if entry.Record != nil {
			e.commitStore(entry.Record)
		}
	case journalOpCompact:
		if entry.Record != nil {
			e.commitReplace(entry.Record)
		}
	case journalOpDelete:
		e.commitDelete(entry.Doc, entry.Version)
	}
}

func (e *Engine) logAppend(entry *journalEntry) error {
	if e.journal == nil {
		return nil
	}
	return e.journal.Append(entry)
}

// commitStore makes a new record visible. Records are keyed by version:
// replaying a journal entry that already landed in the snapshot replaces
// the equal record instead of appending a duplicate.
func (e *Engine) commitStore(rec *model.VersionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.docs[rec.Document]
	if !ok {
		d = newDocument()
		e.docs[rec.Document] = d
	}
	for i, old := range d.records {
		if old.Version == rec.Version {
			records := make([]*model.VersionRecord, len(d.records))
			copy(records, d.records)
			records[i] = rec
			d.records = records
			return
		}
	}
	d.records = append(d.records, rec)
	if rec.Version >= d.next {
		d.next = rec.Version + 1
	}
}

// commitReplace swaps a record for its recomputed form (same version).
func (e *Engine) commitReplace(rec *model.VersionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.docs[rec.Document]
	if !ok {
		return
	}
	records := make([]*model.VersionRecord, len(d.records))
	copy(records, d.records)
	for i, old := range records {
		if old.Version == rec.Version {
			records[i] = rec
			break
		}
	}
	d.records = records
}

// commitDelete removes a record and tombstones its version.
func (e *Engine) commitDelete(doc model.DocumentID, version model.VersionNumber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.docs[doc]
	if !ok {
		return
	}
	records := make([]*model.VersionRecord, 0, len(d.records))
	for _, rec := range d.records {
		if rec.Version != version {
			records = append(records, rec)
		}
	}
	d.records = records
	d.deleted.Add(uint32(version))
}

// StoreVersion appends a new version for the document and returns its
// identity. The write is serialized per document; version numbers are
// contiguous from 1 with no gaps. Compaction is scheduled asynchronously
// and never blocks the return.
func (e *Engine) StoreVersion(ctx context.Context, doc model.DocumentID, content []byte, metadata map[string]string) (model.VersionID, error) {
	if e.closed.Load() {
		return model.VersionID{}, ErrClosed
	}

	m := e.locks.lock(uint64(doc))
	defer m.Unlock()

	e.mu.RLock()
	next := model.VersionNumber(1)
	if d, ok := e.docs[doc]; ok {
		next = d.next
	}
	e.mu.RUnlock()

	h, created, err := e.blocks.Put(ctx, content)
	if err != nil {
		return model.VersionID{}, storageErr("store_version", err)
	}

	rec := &model.VersionRecord{
		Document:    doc,
		Version:     next,
		ContentHash: h,
		Kind:        model.KindFull,
		Size:        int64(len(content)),
		Metadata:    cloneMetadata(metadata),
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.logAppend(&journalEntry{Op: journalOpStore, Record: rec}); err != nil {
		// Roll the block reference back; the record never became visible.
		if _, derr := e.blocks.Decrement(ctx, h); derr != nil {
			e.logger.Error("rollback decrement failed",
				slog.Uint64("document", uint64(doc)), slog.String("hash", h), slog.Any("error", derr))
		}
		return model.VersionID{}, storageErr("store_version", err)
	}

	e.commitStore(rec)

	e.logger.Debug("version stored",
		slog.Uint64("document", uint64(doc)),
		slog.Uint64("version", uint64(next)),
		slog.Bool("deduplicated", !created),
		slog.Int("size", len(content)))

	e.noteMutation()
	if !e.opts.DisableAutoCompaction {
		e.scheduler.Trigger(doc)
	}
	return rec.ID(), nil
}

// maxResolves bounds how often a read re-resolves its record after a
// concurrent retention pass moved the underlying block.
const maxResolves = 3

// GetVersion returns the byte-identical content of a stored version. Full
// versions read their block directly; delta versions walk the patch chain
// from the full base. Locally absent versions are delegated to the
// fallback when one is configured.
//
// Block IO happens outside the state lock, so a retention pass can convert
// the resolved record and collect its block between resolve and read.
// Re-resolving then observes the committed post-pass state.
func (e *Engine) GetVersion(ctx context.Context, doc model.DocumentID, version model.VersionNumber) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	var (
		content []byte
		err     error
	)
	for range maxResolves {
		content, err = e.getVersion(ctx, doc, version)
		if err == nil || !errors.Is(err, blockstore.ErrNotFound) {
			return content, err
		}
	}
	return content, err
}

func (e *Engine) getVersion(ctx context.Context, doc model.DocumentID, version model.VersionNumber) ([]byte, error) {
	e.mu.RLock()
	d, ok := e.docs[doc]
	var rec *model.VersionRecord
	if ok {
		rec = d.find(version)
	}
	var chain []*model.VersionRecord
	if rec != nil && rec.Kind == model.KindDelta {
		chain, rec = e.deltaChainLocked(d, rec)
	}
	e.mu.RUnlock()

	switch {
	case rec == nil && chain == nil:
		return e.fetchFallback(ctx, doc, version)
	case rec == nil:
		// Broken chain: a delta references a missing base.
		return nil, fmt.Errorf("%w: document %d version %d", ErrBaseVersionNotFound, doc, version)
	}

	content, err := e.blocks.Get(ctx, rec.ContentHash)
	if err != nil {
		return nil, storageErr("get_version", err)
	}

	// Apply patches from the full base toward the target.
	for i := len(chain) - 1; i >= 0; i-- {
		content, err = delta.Apply(content, chain[i].Patch)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d version %d: %v",
				ErrDeltaApplicationFailed, doc, chain[i].Version, err)
		}
	}

	if len(chain) > 0 {
		if got := hash.Content(content); got != chain[0].ContentHash {
			return nil, fmt.Errorf("%w: document %d version %d: reconstructed content hash mismatch",
				ErrDeltaApplicationFailed, doc, version)
		}
	}
	return content, nil
}

// deltaChainLocked collects the delta records from target down to the
// first full record. Returns the chain (target first) and the full base,
// or a nil base when the chain is broken.
func (e *Engine) deltaChainLocked(d *document, target *model.VersionRecord) ([]*model.VersionRecord, *model.VersionRecord) {
	chain := []*model.VersionRecord{target}
	cur := target
	for {
		base := d.find(cur.Base)
		if base == nil {
			return chain, nil
		}
		if base.Kind == model.KindFull {
			return chain, base
		}
		chain = append(chain, base)
		cur = base
	}
}

// fetchFallback serves a locally absent version from the external source.
func (e *Engine) fetchFallback(ctx context.Context, doc model.DocumentID, version model.VersionNumber) ([]byte, error) {
	if e.opts.Fallback == nil {
		return nil, fmt.Errorf("%w: document %d version %d", ErrNotFound, doc, version)
	}

	content, err := e.opts.Fallback.Fetch(ctx, doc, version)
	if err == nil {
		e.logger.Debug("version served by fallback",
			slog.Uint64("document", uint64(doc)), slog.Uint64("version", uint64(version)))
		return content, nil
	}
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: document %d version %d (fallback checked)", ErrNotFound, doc, version)
	}
	return nil, fmt.Errorf("%w: document %d version %d: %v", ErrFallback, doc, version, err)
}

// History returns version summaries newest first, capped at limit
// (DefaultHistoryLimit when limit <= 0). Tombstoned versions are omitted.
func (e *Engine) History(ctx context.Context, doc model.DocumentID, limit int) ([]model.VersionSummary, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.docs[doc]
	if !ok || len(d.records) == 0 {
		return nil, nil
	}

	n := min(limit, len(d.records))
	summaries := make([]model.VersionSummary, 0, n)
	for i := len(d.records) - 1; i >= 0 && len(summaries) < n; i-- {
		summaries = append(summaries, d.records[i].Summary())
	}
	return summaries, nil
}

// Comparison is the result of comparing two versions of a document.
type Comparison struct {
	Document model.DocumentID
	A, B     model.VersionNumber
	Text     string
	Stats    delta.Stats
}

// Compare fetches both versions and diffs A against B. Swapping the
// arguments inverts the rendered text but yields equivalent statistics.
func (e *Engine) Compare(ctx context.Context, doc model.DocumentID, a, b model.VersionNumber) (*Comparison, error) {
	contentA, err := e.GetVersion(ctx, doc, a)
	if err != nil {
		return nil, err
	}
	contentB, err := e.GetVersion(ctx, doc, b)
	if err != nil {
		return nil, err
	}

	_, stats := delta.Diff(contentA, contentB)
	return &Comparison{
		Document: doc,
		A:        a,
		B:        b,
		Text:     delta.Render(contentA, contentB),
		Stats:    stats,
	}, nil
}

// Stats reports per-document tier counts and byte usage.
func (e *Engine) Stats(ctx context.Context, doc model.DocumentID) (model.DocumentStats, error) {
	if e.closed.Load() {
		return model.DocumentStats{}, ErrClosed
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := model.DocumentStats{Document: doc}
	d, ok := e.docs[doc]
	if !ok {
		return stats, nil
	}

	for _, rec := range d.records {
		stats.LiveVersions++
		switch rec.Kind {
		case model.KindFull:
			stats.FullVersions++
			stats.ContentBytes += rec.Size
		case model.KindDelta:
			stats.DeltaVersions++
			stats.PatchBytes += int64(len(rec.Patch))
		}
		if rec.Version > stats.NewestVersion {
			stats.NewestVersion = rec.Version
		}
	}
	return stats, nil
}

// Documents returns the IDs of all documents with live or tombstoned
// state, in unspecified order.
func (e *Engine) Documents() []model.DocumentID {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]model.DocumentID, 0, len(e.docs))
	for id := range e.docs {
		ids = append(ids, id)
	}
	return ids
}

// noteMutation counts committed mutations toward the auto-checkpoint
// threshold.
func (e *Engine) noteMutation() {
	if e.opts.CheckpointEveryOps <= 0 || e.snapshots == nil {
		return
	}
	if e.opsSinceCheckpoint.Add(1) < e.opts.CheckpointEveryOps {
		return
	}
	e.opsSinceCheckpoint.Store(0)
	ok := e.scheduler.trySubmit(func() {
		if err := e.Checkpoint(context.Background()); err != nil {
			e.logger.Error("auto checkpoint failed", slog.Any("error", err))
		}
	})
	if !ok {
		// Queue full; re-arm so the next mutation retries the checkpoint.
		e.opsSinceCheckpoint.Store(e.opts.CheckpointEveryOps)
	}
}

// Checkpoint publishes a snapshot of the full version state and truncates
// the journal behind it.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}

	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()

	e.mu.RLock()
	snap := &snapshot{Documents: make([]snapshotDoc, 0, len(e.docs))}
	for id, d := range e.docs {
		deleted, err := d.deleted.MarshalBinary()
		if err != nil {
			e.mu.RUnlock()
			return fmt.Errorf("serialize tombstones: %w", err)
		}
		if d.deleted.IsEmpty() {
			deleted = nil
		}
		records := make([]*model.VersionRecord, len(d.records))
		copy(records, d.records)
		snap.Documents = append(snap.Documents, snapshotDoc{
			Doc:     id,
			Records: records,
			Deleted: deleted,
		})
	}
	e.mu.RUnlock()

	if err := e.snapshots.Save(ctx, snap, e.opts.Controller); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := e.journal.Truncate(); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}

	e.logger.Info("checkpoint published",
		slog.Uint64("snapshot_id", snap.ID),
		slog.Int("documents", len(snap.Documents)))
	return nil
}

// Close stops background work and releases the journal. With persistence
// enabled a final checkpoint is attempted first.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.scheduler.close()

	var err error
	if e.snapshots != nil {
		err = e.Checkpoint(context.Background())
	}
	if e.journal != nil {
		if cerr := e.journal.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, blockstore.ErrNotFound)
}
