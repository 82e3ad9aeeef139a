package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/revgo/blockstore"
	"github.com/hupe1980/revgo/config"
	"github.com/hupe1980/revgo/model"
)

// newTestEngine builds an engine over a memory block store with automatic
// compaction disabled, so tests drive retention passes explicitly.
func newTestEngine(t *testing.T, defaults config.VersionConfig, optFns ...func(o *Options)) (*Engine, *blockstore.MemoryStore, *config.StaticSource) {
	t.Helper()

	store := blockstore.NewMemoryStore()
	source := config.NewStaticSource()
	resolver, err := config.NewResolver(source, defaults)
	require.NoError(t, err)

	all := append([]func(o *Options){func(o *Options) { o.DisableAutoCompaction = true }}, optFns...)
	e, err := New(store, resolver, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e, store, source
}

func TestStoreAndGetVersion(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, config.Default())

	doc := model.DocumentID(1)

	id, err := e.StoreVersion(ctx, doc, []byte("first revision\n"), map[string]string{"author": "ops"})
	require.NoError(t, err)
	require.Equal(t, model.VersionNumber(1), id.Version)

	id, err = e.StoreVersion(ctx, doc, []byte("second revision\n"), nil)
	require.NoError(t, err)
	require.Equal(t, model.VersionNumber(2), id.Version)

	got, err := e.GetVersion(ctx, doc, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("first revision\n"), got)

	got, err = e.GetVersion(ctx, doc, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("second revision\n"), got)
}

func TestGetVersion_NotFound(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, config.Default())

	_, err := e.GetVersion(ctx, 99, 1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.StoreVersion(ctx, 1, []byte("content"), nil)
	require.NoError(t, err)

	_, err = e.GetVersion(ctx, 1, 5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVersionNumbers_ContiguousUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, config.Default())

	doc := model.DocumentID(7)
	const writers = 20

	errs := make(chan error, writers)
	for i := range writers {
		go func() {
			_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "revision %d\n", i), nil)
			errs <- err
		}()
	}
	for range writers {
		require.NoError(t, <-errs)
	}

	history, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Len(t, history, writers)

	// Newest first, contiguous 1..N with no gaps.
	for i, summary := range history {
		require.Equal(t, model.VersionNumber(writers-i), summary.Version)
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, config.Default())

	doc := model.DocumentID(3)
	for i := 1; i <= 5; i++ {
		_, err := e.StoreVersion(ctx, doc, fmt.Appendf(nil, "revision %d\n", i), map[string]string{"rev": fmt.Sprint(i)})
		require.NoError(t, err)
	}

	history, err := e.History(ctx, doc, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, model.VersionNumber(5), history[0].Version)
	require.Equal(t, model.VersionNumber(3), history[2].Version)
	require.Equal(t, model.KindFull, history[0].Kind)
	require.Equal(t, "5", history[0].Metadata["rev"])

	// Unknown document yields an empty history, not an error.
	history, err = e.History(ctx, 999, 0)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, config.Default())

	doc := model.DocumentID(4)
	_, err := e.StoreVersion(ctx, doc, []byte("Hello world"), nil)
	require.NoError(t, err)
	_, err = e.StoreVersion(ctx, doc, []byte("Hello brave world"), nil)
	require.NoError(t, err)

	cmp, err := e.Compare(ctx, doc, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, cmp.Stats.LinesChanged)
	require.Greater(t, cmp.Stats.SimilarityPercent, 0.0)
	require.Less(t, cmp.Stats.SimilarityPercent, 100.0)
	require.Contains(t, cmp.Text, "- Hello world")
	require.Contains(t, cmp.Text, "+ Hello brave world")

	// Swapped arguments yield equivalent statistics.
	inv, err := e.Compare(ctx, doc, 2, 1)
	require.NoError(t, err)
	require.InDelta(t, cmp.Stats.SimilarityPercent, inv.Stats.SimilarityPercent, 1e-9)
	require.Equal(t, cmp.Stats.LinesChanged, inv.Stats.LinesChanged)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, config.Default())

	doc := model.DocumentID(5)
	_, err := e.StoreVersion(ctx, doc, []byte("alpha\n"), nil)
	require.NoError(t, err)
	_, err = e.StoreVersion(ctx, doc, []byte("alpha\nbeta\n"), nil)
	require.NoError(t, err)

	stats, err := e.Stats(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, doc, stats.Document)
	require.Equal(t, 2, stats.LiveVersions)
	require.Equal(t, 2, stats.FullVersions)
	require.Equal(t, 0, stats.DeltaVersions)
	require.Equal(t, int64(6+11), stats.ContentBytes)
	require.Equal(t, model.VersionNumber(2), stats.NewestVersion)
}

func TestFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("serves missing versions", func(t *testing.T) {
		fallback := FallbackFunc(func(_ context.Context, doc model.DocumentID, v model.VersionNumber) ([]byte, error) {
			return fmt.Appendf(nil, "upstream %d:%d", doc, v), nil
		})
		e, _, _ := newTestEngine(t, config.Default(), func(o *Options) { o.Fallback = fallback })

		got, err := e.GetVersion(ctx, 1, 9)
		require.NoError(t, err)
		require.Equal(t, []byte("upstream 1:9"), got)
	})

	t.Run("not found maps to ErrNotFound", func(t *testing.T) {
		fallback := FallbackFunc(func(context.Context, model.DocumentID, model.VersionNumber) ([]byte, error) {
			return nil, ErrNotFound
		})
		e, _, _ := newTestEngine(t, config.Default(), func(o *Options) { o.Fallback = fallback })

		_, err := e.GetVersion(ctx, 1, 9)
		require.ErrorIs(t, err, ErrNotFound)
		require.NotErrorIs(t, err, ErrFallback)
	})

	t.Run("failure maps to ErrFallback", func(t *testing.T) {
		fallback := FallbackFunc(func(context.Context, model.DocumentID, model.VersionNumber) ([]byte, error) {
			return nil, errors.New("upstream unreachable")
		})
		e, _, _ := newTestEngine(t, config.Default(), func(o *Options) { o.Fallback = fallback })

		_, err := e.GetVersion(ctx, 1, 9)
		require.ErrorIs(t, err, ErrFallback)
	})
}

func TestStorageErrorIsDistinguishable(t *testing.T) {
	err := storageErr("store_version", errors.New("disk full"))

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "store_version", serr.Op)
	require.Contains(t, err.Error(), "disk full")
}

// compactingStore runs one retention pass the moment the target block is
// read, reproducing a pass landing between record resolution and block IO.
type compactingStore struct {
	blockstore.BlockStore
	e      *Engine
	doc    model.DocumentID
	target string
	fired  atomic.Bool
}

func (s *compactingStore) Get(ctx context.Context, h string) ([]byte, error) {
	if h == s.target && s.fired.CompareAndSwap(false, true) {
		_ = s.e.CompactDocument(ctx, s.doc)
	}
	return s.BlockStore.Get(ctx, h)
}

// A read that resolved a full record keeps working when a concurrent pass
// converts it to a delta and collects its block: the read re-resolves and
// reconstructs from the committed post-pass state.
func TestGetVersion_RetriesWhenPassMovesBlock(t *testing.T) {
	ctx := context.Background()

	cs := &compactingStore{BlockStore: blockstore.NewMemoryStore()}
	resolver, err := config.NewResolver(nil, retentionConfig(1, 10, 20))
	require.NoError(t, err)

	e, err := New(cs, resolver, func(o *Options) { o.DisableAutoCompaction = true })
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	doc := model.DocumentID(1)
	_, err = e.StoreVersion(ctx, doc, []byte("header\nrevision 1\n"), nil)
	require.NoError(t, err)
	_, err = e.StoreVersion(ctx, doc, []byte("header\nrevision 2\n"), nil)
	require.NoError(t, err)

	history, err := e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Equal(t, model.KindFull, history[1].Kind) // v1 still full

	cs.e = e
	cs.doc = doc
	cs.target = history[1].ContentHash

	got, err := e.GetVersion(ctx, doc, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("header\nrevision 1\n"), got)
	require.True(t, cs.fired.Load())

	// The pass really converted v1 while the read was in flight.
	history, err = e.History(ctx, doc, 0)
	require.NoError(t, err)
	require.Equal(t, model.KindDelta, history[1].Kind)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, config.Default())

	_, err := e.StoreVersion(ctx, 1, []byte("x"), nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.StoreVersion(ctx, 1, []byte("y"), nil)
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.GetVersion(ctx, 1, 1)
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.History(ctx, 1, 0)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, e.CompactDocument(ctx, 1), ErrClosed)

	// Closing twice is a no-op.
	require.NoError(t, e.Close())
}
