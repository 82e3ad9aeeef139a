package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/revgo/blockstore"
	"github.com/hupe1980/revgo/config"
	"github.com/hupe1980/revgo/model"
)

func retentionConfig(hot, deltaWin, total uint32) config.VersionConfig {
	cfg := config.Default()
	cfg.HotVersions = hot
	cfg.DeltaVersions = deltaWin
	cfg.TotalVersions = total
	return cfg
}

// Scenario: with two hot versions, the oldest of three becomes a delta but
// still reconstructs byte-identically.
func TestCompaction_OldestBecomesDelta(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, retentionConfig(2, 50, 100))

	doc := model.DocumentID(1)
	for _, content := range []string{"A", "B", "C"} {
		_, err := e.StoreVersion(ctx, doc, []byte(content), nil)
		require.NoError(t, err)
	}

	require.NoError(t, e.CompactDocument(ctx, doc))

	history, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, model.KindFull, history[0].Kind)  // v3
	require.Equal(t, model.KindFull, history[1].Kind)  // v2
	require.Equal(t, model.KindDelta, history[2].Kind) // v1

	got, err := e.GetVersion(ctx, doc, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("A"), got)
}

// Scenario: identical content under two documents shares one block with
// reference count 2.
func TestDedup_AcrossDocuments(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, config.Default())

	idA, err := e.StoreVersion(ctx, 1, []byte("X"), nil)
	require.NoError(t, err)
	idB, err := e.StoreVersion(ctx, 2, []byte("X"), nil)
	require.NoError(t, err)
	require.NotEqual(t, idA.Document, idB.Document)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Blocks)

	historyA, err := e.History(ctx, 1, 0)
	require.NoError(t, err)
	info, err := store.Info(ctx, historyA[0].ContentHash)
	require.NoError(t, err)
	require.Equal(t, int64(2), info.RefCount)
}

// Scenario: versions beyond the hard cap are removed; without a fallback
// they read as not found.
func TestCompaction_HardCapEvicts(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, retentionConfig(1, 1, 3))

	doc := model.DocumentID(1)
	for i := 1; i <= 5; i++ {
		_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "revision %d\n", i), nil)
		require.NoError(t, err)
	}

	require.NoError(t, e.CompactDocument(ctx, doc))

	_, err := e.GetVersion(ctx, doc, 1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = e.GetVersion(ctx, doc, 2)
	require.ErrorIs(t, err, ErrNotFound)

	// Retained versions still reconstruct.
	for i := 3; i <= 5; i++ {
		got, err := e.GetVersion(ctx, doc, model.VersionNumber(i))
		require.NoError(t, err)
		require.Equal(t, fmt.Appendf(nil, "revision %d\n", i), got)
	}

	history, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
}

// Scenario: evicted versions route to the fallback instead of NotFound.
func TestCompaction_EvictedServedByFallback(t *testing.T) {
	ctx := context.Background()
	fallback := FallbackFunc(func(_ context.Context, doc model.DocumentID, v model.VersionNumber) ([]byte, error) {
		return fmt.Appendf(nil, "upstream revision %d\n", v), nil
	})
	e, _, _ := newTestEngine(t, retentionConfig(1, 1, 3), func(o *Options) { o.Fallback = fallback })

	doc := model.DocumentID(1)
	for i := 1; i <= 5; i++ {
		_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "revision %d\n", i), nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.CompactDocument(ctx, doc))

	got, err := e.GetVersion(ctx, doc, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("upstream revision 1\n"), got)
}

func TestCompaction_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, retentionConfig(2, 2, 5))

	doc := model.DocumentID(1)
	for i := 1; i <= 8; i++ {
		_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "line one\nrevision %d\n", i), nil)
		require.NoError(t, err)
	}

	require.NoError(t, e.CompactDocument(ctx, doc))

	historyFirst, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	statsFirst, err := store.Stats(ctx)
	require.NoError(t, err)

	// Second pass with no intervening writes changes nothing.
	require.NoError(t, e.CompactDocument(ctx, doc))

	historySecond, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	statsSecond, err := store.Stats(ctx)
	require.NoError(t, err)

	require.Equal(t, historyFirst, historySecond)
	require.Equal(t, statsFirst, statsSecond)
}

// Reference counts track live full records exactly: compaction of a
// deduplicated revision releases one reference, GC removes the block only
// at zero.
func TestCompaction_ReleasesBlockReferences(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, retentionConfig(1, 5, 10))

	doc := model.DocumentID(1)
	_, err := e.StoreVersion(ctx, doc, []byte("same content"), nil)
	require.NoError(t, err)
	_, err = e.StoreVersion(ctx, doc, []byte("same content"), nil)
	require.NoError(t, err)

	history, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	h := history[0].ContentHash

	info, err := store.Info(ctx, h)
	require.NoError(t, err)
	require.Equal(t, int64(2), info.RefCount)

	// v1 compacts to delta: one reference released, block stays for v2.
	require.NoError(t, e.CompactDocument(ctx, doc))

	info, err = store.Info(ctx, h)
	require.NoError(t, err)
	require.Equal(t, int64(1), info.RefCount)

	got, err := e.GetVersion(ctx, doc, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("same content"), got)
}

// Blocks with zero references are collected by the pass.
func TestCompaction_CollectsZombieBlocks(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, retentionConfig(1, 0, 1))

	doc := model.DocumentID(1)
	_, err := e.StoreVersion(ctx, doc, []byte("ephemeral one"), nil)
	require.NoError(t, err)
	_, err = e.StoreVersion(ctx, doc, []byte("ephemeral two"), nil)
	require.NoError(t, err)

	require.NoError(t, e.CompactDocument(ctx, doc))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Blocks)
	require.Equal(t, int64(0), stats.ZeroRefBlocks)
}

// Long chains across partial compaction still reconstruct: each pass
// anchors new deltas on their successor, so older deltas keep their base.
func TestCompaction_ChainedDeltasReconstruct(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, retentionConfig(1, 10, 20))

	doc := model.DocumentID(1)
	contents := make([][]byte, 0, 6)
	for i := 1; i <= 3; i++ {
		content := fmt.Appendf(nil, "header\nrevision %d\nfooter\n", i)
		contents = append(contents, content)
		_, err := e.StoreVersion(ctx, doc, content, nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.CompactDocument(ctx, doc))

	for i := 4; i <= 6; i++ {
		content := fmt.Appendf(nil, "header\nrevision %d\nfooter\n", i)
		contents = append(contents, content)
		_, err := e.StoreVersion(ctx, doc, content, nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.CompactDocument(ctx, doc))

	for i, want := range contents {
		got, err := e.GetVersion(ctx, doc, model.VersionNumber(i+1))
		require.NoError(t, err)
		require.Equal(t, want, got, "version %d", i+1)
	}

	history, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Equal(t, model.KindFull, history[0].Kind)
	for _, summary := range history[1:] {
		require.Equal(t, model.KindDelta, summary.Kind)
	}
}

// Importance presets change retention for future passes only.
func TestCompaction_ImportanceChangeAffectsNextPass(t *testing.T) {
	ctx := context.Background()
	e, _, source := newTestEngine(t, retentionConfig(2, 2, 4))

	doc := model.DocumentID(1)
	for i := 1; i <= 6; i++ {
		_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "revision %d\n", i), nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.CompactDocument(ctx, doc))

	history, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)

	// Promote to critical: already-evicted versions stay gone, but wider
	// windows apply from now on.
	require.NoError(t, source.SetImportance(doc, config.ImportanceCritical))
	e.resolver.Invalidate(doc)

	_, err = e.GetVersion(ctx, doc, 1)
	require.ErrorIs(t, err, ErrNotFound)

	for i := 7; i <= 10; i++ {
		_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "revision %d\n", i), nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.CompactDocument(ctx, doc))

	history, err = e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Len(t, history, 8) // nothing new evicted under the wider cap
}

func TestCompactAll(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, retentionConfig(1, 5, 10))

	for doc := model.DocumentID(1); doc <= 4; doc++ {
		for i := 1; i <= 3; i++ {
			_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "doc %d revision %d\n", doc, i), nil)
			require.NoError(t, err)
		}
	}

	require.NoError(t, e.CompactAll(ctx))

	for doc := model.DocumentID(1); doc <= 4; doc++ {
		history, err := e.History(ctx, doc, 0)
		require.NoError(t, err)
		require.Equal(t, model.KindFull, history[0].Kind)
		require.Equal(t, model.KindDelta, history[1].Kind)
		require.Equal(t, model.KindDelta, history[2].Kind)
	}
}

// Automatic scheduling: stores trigger background passes without blocking.
func TestScheduler_AutoCompaction(t *testing.T) {
	ctx := context.Background()

	store := blockstore.NewMemoryStore()
	resolver, err := config.NewResolver(nil, retentionConfig(1, 5, 10))
	require.NoError(t, err)

	e, err := New(store, resolver)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	doc := model.DocumentID(1)
	for i := 1; i <= 4; i++ {
		_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "revision %d\n", i), nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats, err := e.Stats(ctx, doc)
		if err != nil {
			return false
		}
		return stats.FullVersions == 1 && stats.DeltaVersions == 3
	}, 5*time.Second, 10*time.Millisecond)
}

// Old full blocks move to the cold tier when the store has one.
func TestCompaction_ArchivesOldBlocks(t *testing.T) {
	ctx := context.Background()

	archive := blockstore.NewMemoryArchive()
	tiered := blockstore.NewTieredStore(blockstore.NewMemoryStore(), archive)

	cfg := retentionConfig(5, 5, 20)
	cfg.ArchiveAfterDays = 0 // disabled: nothing is archived
	resolver, err := config.NewResolver(nil, cfg)
	require.NoError(t, err)

	e, err := New(tiered, resolver, func(o *Options) { o.DisableAutoCompaction = true })
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	doc := model.DocumentID(1)
	_, err = e.StoreVersion(ctx, doc, []byte("cold content\n"), nil)
	require.NoError(t, err)
	require.NoError(t, e.CompactDocument(ctx, doc))

	archived, err := archive.List(ctx)
	require.NoError(t, err)
	require.Empty(t, archived)

	// Backdate the record and enable archiving: the next pass copies the
	// block to the cold tier.
	e.mu.Lock()
	rec := e.docs[doc].records[0].Clone()
	rec.CreatedAt = time.Now().Add(-48 * time.Hour)
	e.docs[doc].records[0] = rec
	e.mu.Unlock()

	cfg.ArchiveAfterDays = 1
	resolver2, err := config.NewResolver(nil, cfg)
	require.NoError(t, err)
	e.resolver = resolver2

	require.NoError(t, e.CompactDocument(ctx, doc))

	archived, err = archive.List(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
}

// A writer holding a document's stripe lock must never be forced to drain
// the compaction queue: triggers drop when the queue is full instead of
// blocking behind a worker that waits on the same stripe.
func TestScheduler_TriggerNeverBlocksOnFullQueue(t *testing.T) {
	e, _, _ := newTestEngine(t, config.Default(), func(o *Options) {
		o.CompactionWorkers = 1
		o.LockStripes = 1
	})

	// With one stripe every document shares this lock; the single worker
	// blocks on it as soon as the first trigger is dequeued.
	m := e.locks.lock(0)
	defer m.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 8; i++ {
			e.scheduler.Trigger(model.DocumentID(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger blocked while the stripe lock was held")
	}
}

// publishingArchive counts index publications on top of the in-memory
// archive.
type publishingArchive struct {
	*blockstore.MemoryArchive
	publishes atomic.Int32
}

func (a *publishingArchive) PublishIndex(context.Context) (string, error) {
	a.publishes.Add(1)
	return "archive-index-000001.json", nil
}

// After blocks move to the cold tier the pass publishes an updated archive
// index through the store.
func TestCompaction_PublishesArchiveIndex(t *testing.T) {
	ctx := context.Background()

	archive := &publishingArchive{MemoryArchive: blockstore.NewMemoryArchive()}
	tiered := blockstore.NewTieredStore(blockstore.NewMemoryStore(), archive)

	cfg := retentionConfig(5, 5, 20)
	cfg.ArchiveAfterDays = 1
	resolver, err := config.NewResolver(nil, cfg)
	require.NoError(t, err)

	e, err := New(tiered, resolver, func(o *Options) { o.DisableAutoCompaction = true })
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	doc := model.DocumentID(1)
	_, err = e.StoreVersion(ctx, doc, []byte("cold content\n"), nil)
	require.NoError(t, err)

	// Nothing old enough yet: no copy, no index.
	require.NoError(t, e.CompactDocument(ctx, doc))
	require.Equal(t, int32(0), archive.publishes.Load())

	e.mu.Lock()
	rec := e.docs[doc].records[0].Clone()
	rec.CreatedAt = time.Now().Add(-48 * time.Hour)
	e.docs[doc].records[0] = rec
	e.mu.Unlock()

	require.NoError(t, e.CompactDocument(ctx, doc))

	archived, err := archive.List(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, int32(1), archive.publishes.Load())
}
