package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/revgo/config"
	"github.com/hupe1980/revgo/delta"
	"github.com/hupe1980/revgo/model"
)

// archiver is implemented by block stores with a cold tier (the tiered
// store). Blocks of sufficiently old versions are copied there.
type archiver interface {
	ArchiveBlock(ctx context.Context, hash string) error
}

// indexPublisher is implemented by block stores whose cold tier versions
// its contents through a published index.
type indexPublisher interface {
	PublishArchiveIndex(ctx context.Context) error
}

// CompactDocument runs one retention pass for a document: recent versions
// stay full, older ones are recomputed as deltas against a newer full
// base, versions past the hard cap are removed and tombstoned, and
// unreferenced blocks are collected. The pass is idempotent and shares the
// document lock with writers.
func (e *Engine) CompactDocument(ctx context.Context, doc model.DocumentID) error {
	if e.closed.Load() {
		return ErrClosed
	}

	if err := e.opts.Controller.AcquireWorker(ctx); err != nil {
		return err
	}
	defer e.opts.Controller.ReleaseWorker()

	m := e.locks.lock(uint64(doc))
	defer m.Unlock()

	return e.compactLocked(ctx, doc)
}

// CompactAll sweeps every known document. Documents are compacted in
// parallel; per-document serialization is preserved by the document locks.
func (e *Engine) CompactAll(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.opts.CompactionWorkers, 1))

	for _, doc := range e.Documents() {
		g.Go(func() error {
			return e.CompactDocument(ctx, doc)
		})
	}
	return g.Wait()
}

// plannedChange is one mutation the pass will journal and commit.
type plannedChange struct {
	entry     journalEntry
	decrement string // block hash to release after commit, if any
}

func (e *Engine) compactLocked(ctx context.Context, doc model.DocumentID) error {
	cfg, err := e.resolver.Resolve(ctx, doc)
	if err != nil {
		return fmt.Errorf("resolve retention policy: %w", err)
	}

	e.mu.RLock()
	d, ok := e.docs[doc]
	var records []*model.VersionRecord
	if ok {
		records = make([]*model.VersionRecord, len(d.records))
		copy(records, d.records)
	}
	e.mu.RUnlock()

	if len(records) == 0 {
		return nil
	}

	changes, err := e.planRetention(ctx, doc, cfg, records)
	if err != nil {
		return err
	}

	if len(changes) > 0 {
		// Journal first, then commit; block refs are released only after
		// the new state is visible.
		for i := range changes {
			if err := e.logAppend(&changes[i].entry); err != nil {
				return storageErr("compaction", err)
			}
		}
		for i := range changes {
			e.applyEntry(&changes[i].entry)
			e.noteMutation()
		}
		for i := range changes {
			if h := changes[i].decrement; h != "" {
				if _, err := e.blocks.Decrement(ctx, h); err != nil {
					e.logger.Error("block decrement failed",
						slog.Uint64("document", uint64(doc)),
						slog.String("hash", h), slog.Any("error", err))
				}
			}
		}

		e.logger.Info("compaction pass applied",
			slog.Uint64("document", uint64(doc)),
			slog.Int("changes", len(changes)))
	}

	e.archiveOldBlocks(ctx, doc, cfg)

	if err := e.collectGarbage(ctx); err != nil {
		return err
	}
	return nil
}

// planRetention computes the full set of mutations one pass performs,
// without touching shared state. records is the committed, ascending
// version list.
func (e *Engine) planRetention(ctx context.Context, doc model.DocumentID, cfg config.VersionConfig, records []*model.VersionRecord) ([]plannedChange, error) {
	n := len(records)
	hot := int(cfg.HotVersions)
	total := int(cfg.TotalVersions)

	// rank 1 is the newest version.
	rank := func(i int) int { return n - i }

	// Target tier per retained version.
	fullTarget := make(map[model.VersionNumber]bool, n)
	retained := make(map[model.VersionNumber]bool, n)
	for i, rec := range records {
		if rank(i) <= total {
			retained[rec.Version] = true
			fullTarget[rec.Version] = rank(i) <= hot
		}
	}

	byVersion := make(map[model.VersionNumber]*model.VersionRecord, n)
	for _, rec := range records {
		byVersion[rec.Version] = rec
	}

	var changes []plannedChange

	// targetBase records the Base each retained delta will have after the
	// pass, for the deferred-deletion check below.
	targetBase := make(map[model.VersionNumber]model.VersionNumber, n)

	for i, rec := range records {
		if !retained[rec.Version] {
			continue
		}
		if fullTarget[rec.Version] {
			// Already full by invariant: compaction never promotes deltas
			// back to full.
			continue
		}

		needsRecompute := false
		switch rec.Kind {
		case model.KindFull:
			needsRecompute = true
		case model.KindDelta:
			base := byVersion[rec.Base]
			if base == nil || !retained[base.Version] {
				// The base vanished; rebase so the chain stays intact.
				needsRecompute = true
			} else {
				targetBase[rec.Version] = rec.Base
			}
		}
		if !needsRecompute {
			continue
		}

		// Anchor on the immediate successor. Chains of deltas end at the
		// oldest hot version, and because deletion always removes the
		// oldest versions first, a base outlives every delta built on it.
		// This keeps existing patches stable as the hot window advances.
		if i+1 >= n {
			continue
		}
		baseRec := records[i+1]

		content, err := e.reconstruct(ctx, byVersion, rec)
		if err != nil {
			return nil, err
		}
		baseContent, err := e.reconstruct(ctx, byVersion, baseRec)
		if err != nil {
			return nil, err
		}

		patch, _ := delta.Diff(baseContent, content)

		compacted := rec.Clone()
		compacted.Kind = model.KindDelta
		compacted.Base = baseRec.Version
		compacted.Patch = patch
		targetBase[rec.Version] = baseRec.Version

		change := plannedChange{
			entry: journalEntry{Op: journalOpCompact, Record: compacted},
		}
		if rec.Kind == model.KindFull {
			change.decrement = rec.ContentHash
		}
		changes = append(changes, change)
	}

	// baseOf marks versions that still anchor a retained delta.
	baseOf := make(map[model.VersionNumber]bool, len(targetBase))
	for _, base := range targetBase {
		baseOf[base] = true
	}

	for i, rec := range records {
		if rank(i) <= total {
			continue
		}
		if rec.Kind == model.KindFull && baseOf[rec.Version] {
			// Deferred deletion: this full version still anchors a
			// retained delta. It survives until that delta is gone.
			continue
		}

		change := plannedChange{
			entry: journalEntry{Op: journalOpDelete, Doc: doc, Version: rec.Version},
		}
		if rec.Kind == model.KindFull {
			change.decrement = rec.ContentHash
		}
		changes = append(changes, change)
	}

	return changes, nil
}

// reconstruct rebuilds a record's content from the given record set,
// outside of any lock. The memory budget covers the result buffer.
func (e *Engine) reconstruct(ctx context.Context, byVersion map[model.VersionNumber]*model.VersionRecord, rec *model.VersionRecord) ([]byte, error) {
	if err := e.opts.Controller.AcquireMemory(ctx, rec.Size); err != nil {
		return nil, err
	}
	defer e.opts.Controller.ReleaseMemory(rec.Size)

	var chain []*model.VersionRecord
	cur := rec
	for cur.Kind == model.KindDelta {
		chain = append(chain, cur)
		base := byVersion[cur.Base]
		if base == nil {
			return nil, fmt.Errorf("%w: document %d version %d", ErrBaseVersionNotFound, rec.Document, cur.Base)
		}
		cur = base
	}

	content, err := e.blocks.Get(ctx, cur.ContentHash)
	if err != nil {
		return nil, storageErr("compaction", err)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		content, err = delta.Apply(content, chain[i].Patch)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d version %d: %v",
				ErrDeltaApplicationFailed, rec.Document, chain[i].Version, err)
		}
	}
	return content, nil
}

// archiveOldBlocks copies blocks of sufficiently old full versions to the
// cold tier, when the block store has one. Best effort; failures are
// logged and retried on the next pass.
func (e *Engine) archiveOldBlocks(ctx context.Context, doc model.DocumentID, cfg config.VersionConfig) {
	arch, ok := e.blocks.(archiver)
	if !ok || cfg.ArchiveAfterDays == 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(cfg.ArchiveAfterDays) * 24 * time.Hour)

	e.mu.RLock()
	d, ok := e.docs[doc]
	var candidates []string
	if ok {
		for _, rec := range d.records {
			if rec.Kind == model.KindFull && rec.CreatedAt.Before(cutoff) {
				candidates = append(candidates, rec.ContentHash)
			}
		}
	}
	e.mu.RUnlock()

	archived := 0
	for _, h := range candidates {
		if err := arch.ArchiveBlock(ctx, h); err != nil {
			e.logger.Warn("archive copy failed",
				slog.Uint64("document", uint64(doc)),
				slog.String("hash", h), slog.Any("error", err))
			continue
		}
		archived++
	}

	if archived == 0 {
		return
	}
	// Publish an updated archive index covering the new blocks. Best
	// effort; the next archiving pass republishes.
	if pub, ok := e.blocks.(indexPublisher); ok {
		if err := pub.PublishArchiveIndex(ctx); err != nil {
			e.logger.Warn("archive index publish failed",
				slog.Uint64("document", uint64(doc)), slog.Any("error", err))
		}
	}
}

// collectGarbage deletes blocks whose reference count dropped to zero.
func (e *Engine) collectGarbage(ctx context.Context) error {
	zombies, err := e.blocks.Zombies(ctx)
	if err != nil {
		return storageErr("gc", err)
	}

	for _, h := range zombies {
		if err := e.blocks.Delete(ctx, h); err != nil {
			e.logger.Error("gc delete failed", slog.String("hash", h), slog.Any("error", err))
			continue
		}
	}

	if len(zombies) > 0 {
		e.logger.Debug("gc collected blocks", slog.Int("count", len(zombies)))
	}
	return nil
}
