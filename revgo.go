package revgo

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hupe1980/revgo/blockstore"
	"github.com/hupe1980/revgo/config"
	"github.com/hupe1980/revgo/engine"
	"github.com/hupe1980/revgo/model"
)

// Revgo is a version-tracking storage engine for documentation content.
// Every write creates an immutable version; deduplicated content blocks,
// background delta compaction and tiered retention keep storage growth
// sublinear in the number of versions.
type Revgo struct {
	engine   *engine.Engine
	blocks   blockstore.BlockStore
	source   *config.StaticSource
	resolver *config.Resolver
	logger   *Logger
	metrics  MetricsCollector
}

// New creates a store over the given block store.
func New(blocks blockstore.BlockStore, optFns ...Option) (*Revgo, error) {
	opts := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		defaults:         config.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	source := config.NewStaticSource()
	resolver, err := config.NewResolver(source, opts.defaults)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(blocks, resolver, func(o *engine.Options) {
		o.DataDir = opts.dataDir
		o.Fallback = opts.fallback
		o.Logger = opts.logger.Logger
		o.Controller = opts.controller
		o.CompactionWorkers = opts.compactionWorkers
		o.SyncJournal = opts.syncJournal
		o.CheckpointEveryOps = opts.checkpointEveryOps
		o.DisableAutoCompaction = opts.disableAutoCompaction
	})
	if err != nil {
		return nil, err
	}

	return &Revgo{
		engine:   eng,
		blocks:   blocks,
		source:   source,
		resolver: resolver,
		logger:   opts.logger,
		metrics:  opts.metricsCollector,
	}, nil
}

// Open creates a fully durable store rooted at dir: content blocks under
// dir/blocks, version state (journal + snapshots) alongside them.
func Open(dir string, optFns ...Option) (*Revgo, error) {
	blocks, err := blockstore.OpenLocalStore(filepath.Join(dir, "blocks"))
	if err != nil {
		return nil, err
	}
	optFns = append(optFns, WithDataDir(dir))
	return New(blocks, optFns...)
}

// StoreVersion appends a new version of the document and returns its
// identity. Writes to the same document are serialized; version numbers
// are contiguous from 1. Compaction runs asynchronously afterwards.
func (r *Revgo) StoreVersion(ctx context.Context, doc model.DocumentID, content []byte, metadata map[string]string) (model.VersionID, error) {
	start := time.Now()
	id, err := r.engine.StoreVersion(ctx, doc, content, metadata)
	err = translateError(err)

	r.metrics.RecordStoreVersion(time.Since(start), len(content), err)
	r.logger.LogStoreVersion(ctx, id, len(content), err)
	return id, err
}

// GetVersion returns the byte-identical content of a version, whether it
// is currently stored full or as a delta. Locally absent versions are
// served by the fallback when one is configured.
func (r *Revgo) GetVersion(ctx context.Context, doc model.DocumentID, version model.VersionNumber) ([]byte, error) {
	start := time.Now()
	content, err := r.engine.GetVersion(ctx, doc, version)
	err = translateError(err)

	r.metrics.RecordGetVersion(time.Since(start), err)
	r.logger.LogGetVersion(ctx, doc, version, err)
	return content, err
}

// History returns version summaries newest first, capped at limit
// (engine.DefaultHistoryLimit when limit <= 0).
func (r *Revgo) History(ctx context.Context, doc model.DocumentID, limit int) ([]model.VersionSummary, error) {
	summaries, err := r.engine.History(ctx, doc, limit)
	return summaries, translateError(err)
}

// Compare diffs version a against version b of the same document.
// Swapped arguments invert the text but yield equivalent statistics.
func (r *Revgo) Compare(ctx context.Context, doc model.DocumentID, a, b model.VersionNumber) (*engine.Comparison, error) {
	start := time.Now()
	cmp, err := r.engine.Compare(ctx, doc, a, b)
	err = translateError(err)

	r.metrics.RecordCompare(time.Since(start), err)
	return cmp, err
}

// DocumentStats reports tier counts and byte usage for one document.
func (r *Revgo) DocumentStats(ctx context.Context, doc model.DocumentID) (model.DocumentStats, error) {
	stats, err := r.engine.Stats(ctx, doc)
	return stats, translateError(err)
}

// StorageStats reports block-level storage usage and dedup savings.
func (r *Revgo) StorageStats(ctx context.Context) (blockstore.Stats, error) {
	stats, err := r.blocks.Stats(ctx)
	return stats, translateError(err)
}

// Compact runs a synchronous retention pass for one document.
func (r *Revgo) Compact(ctx context.Context, doc model.DocumentID) error {
	start := time.Now()
	err := translateError(r.engine.CompactDocument(ctx, doc))

	r.metrics.RecordCompaction(time.Since(start), err)
	r.logger.LogCompaction(ctx, doc, err)
	return err
}

// CompactAll sweeps every known document in parallel.
func (r *Revgo) CompactAll(ctx context.Context) error {
	return translateError(r.engine.CompactAll(ctx))
}

// Checkpoint publishes a snapshot of the version state and truncates the
// journal. A no-op without a data directory.
func (r *Revgo) Checkpoint(ctx context.Context) error {
	return translateError(r.engine.Checkpoint(ctx))
}

// SetConfig installs an explicit retention policy for one document. It
// takes effect for future retention passes; already-evicted versions are
// not rehydrated.
func (r *Revgo) SetConfig(doc model.DocumentID, cfg config.VersionConfig) error {
	if err := r.source.Set(doc, cfg); err != nil {
		return err
	}
	r.resolver.Invalidate(doc)
	return nil
}

// SetImportance installs the preset policy for the given importance
// level.
func (r *Revgo) SetImportance(doc model.DocumentID, level config.Importance) error {
	if err := r.source.SetImportance(doc, level); err != nil {
		return err
	}
	r.resolver.Invalidate(doc)
	return nil
}

// ResolveConfig returns the effective retention policy for a document.
func (r *Revgo) ResolveConfig(ctx context.Context, doc model.DocumentID) (config.VersionConfig, error) {
	return r.resolver.Resolve(ctx, doc)
}

// InvalidateConfig drops the cached policy for a document, forcing a
// fresh resolve on next use.
func (r *Revgo) InvalidateConfig(doc model.DocumentID) {
	r.resolver.Invalidate(doc)
}

// Close stops background work, checkpoints when persistence is enabled,
// and releases the journal. The store must not be used afterwards.
func (r *Revgo) Close() error {
	return translateError(r.engine.Close())
}
