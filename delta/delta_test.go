package delta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffApply_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{
			name: "identical",
			old:  "alpha\nbeta\ngamma\n",
			new:  "alpha\nbeta\ngamma\n",
		},
		{
			name: "append line",
			old:  "alpha\nbeta\n",
			new:  "alpha\nbeta\ngamma\n",
		},
		{
			name: "remove line",
			old:  "alpha\nbeta\ngamma\n",
			new:  "alpha\ngamma\n",
		},
		{
			name: "rewrite middle",
			old:  "alpha\nbeta\ngamma\n",
			new:  "alpha\nBETA\ngamma\n",
		},
		{
			name: "from empty",
			old:  "",
			new:  "alpha\nbeta\n",
		},
		{
			name: "to empty",
			old:  "alpha\nbeta\n",
			new:  "",
		},
		{
			name: "no trailing newline",
			old:  "alpha\nbeta",
			new:  "alpha\nbeta\ngamma",
		},
		{
			name: "full rewrite",
			old:  "one\ntwo\nthree\n",
			new:  "four\nfive\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, _ := Diff([]byte(tt.old), []byte(tt.new))

			got, err := Apply([]byte(tt.old), encoded)
			require.NoError(t, err)
			require.Equal(t, []byte(tt.new), got)
		})
	}
}

func TestDiffApply_LargeDocument(t *testing.T) {
	var oldDoc, newDoc strings.Builder
	for i := range 2000 {
		line := strings.Repeat("x", i%40) + "\n"
		oldDoc.WriteString(line)
		if i%97 != 0 {
			newDoc.WriteString(line)
		} else {
			newDoc.WriteString("edited\n")
		}
	}

	encoded, stats := Diff([]byte(oldDoc.String()), []byte(newDoc.String()))
	require.Positive(t, stats.SimilarityPercent)

	// The patch must be much smaller than the full content.
	require.Less(t, len(encoded), newDoc.Len()/2)

	got, err := Apply([]byte(oldDoc.String()), encoded)
	require.NoError(t, err)
	require.Equal(t, []byte(newDoc.String()), got)
}

func TestDiffStats(t *testing.T) {
	t.Run("identical content scores 100", func(t *testing.T) {
		doc := []byte("alpha\nbeta\ngamma\n")
		_, stats := Diff(doc, doc)
		require.Equal(t, 0, stats.LinesAdded)
		require.Equal(t, 0, stats.LinesRemoved)
		require.Equal(t, 0, stats.LinesChanged)
		require.InDelta(t, 100.0, stats.SimilarityPercent, 1e-9)
	})

	t.Run("pure addition", func(t *testing.T) {
		_, stats := Diff([]byte("alpha\nbeta\n"), []byte("alpha\nbeta\ngamma\n"))
		require.Equal(t, 1, stats.LinesAdded)
		require.Equal(t, 0, stats.LinesRemoved)
		require.Equal(t, 0, stats.LinesChanged)
	})

	t.Run("pure removal", func(t *testing.T) {
		_, stats := Diff([]byte("alpha\nbeta\ngamma\n"), []byte("alpha\n"))
		require.Equal(t, 0, stats.LinesAdded)
		require.Equal(t, 2, stats.LinesRemoved)
		require.Equal(t, 0, stats.LinesChanged)
	})

	t.Run("in-line edit counts as changed", func(t *testing.T) {
		_, stats := Diff([]byte("Hello world"), []byte("Hello brave world"))
		require.Equal(t, 0, stats.LinesAdded)
		require.Equal(t, 0, stats.LinesRemoved)
		require.Equal(t, 1, stats.LinesChanged)
		// A small edit keeps substantial similarity, but not identity.
		require.Greater(t, stats.SimilarityPercent, 0.0)
		require.Less(t, stats.SimilarityPercent, 100.0)
	})

	t.Run("similarity is symmetric", func(t *testing.T) {
		a := []byte("alpha\nbeta\ngamma\ndelta\n")
		b := []byte("alpha\nBETA\ngamma\n")
		_, ab := Diff(a, b)
		_, ba := Diff(b, a)
		require.InDelta(t, ab.SimilarityPercent, ba.SimilarityPercent, 1e-9)
	})

	t.Run("more shared content scores higher", func(t *testing.T) {
		base := []byte("a\nb\nc\nd\ne\nf\ng\nh\n")
		closer := []byte("a\nb\nc\nd\ne\nf\nX\nh\n")
		farther := []byte("a\nX\nc\nY\ne\nZ\ng\nW\n")
		_, near := Diff(base, closer)
		_, far := Diff(base, farther)
		require.Greater(t, near.SimilarityPercent, far.SimilarityPercent)
	})

	t.Run("both empty", func(t *testing.T) {
		_, stats := Diff(nil, nil)
		require.InDelta(t, 100.0, stats.SimilarityPercent, 1e-9)
	})
}

func TestApply_WrongBase(t *testing.T) {
	encoded, _ := Diff([]byte("alpha\nbeta\n"), []byte("alpha\nbeta\ngamma\n"))

	_, err := Apply([]byte("something else\n"), encoded)
	require.ErrorIs(t, err, ErrApplyMismatch)
}

func TestApply_CorruptedPatch(t *testing.T) {
	old := []byte("alpha\nbeta\n")
	encoded, _ := Diff(old, []byte("alpha\nbeta\ngamma\n"))

	t.Run("flipped byte", func(t *testing.T) {
		corrupted := bytes.Clone(encoded)
		corrupted[len(corrupted)/2] ^= 0xff
		_, err := Apply(old, corrupted)
		require.ErrorIs(t, err, ErrApplyMismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Apply(old, encoded[:len(encoded)-5])
		require.ErrorIs(t, err, ErrApplyMismatch)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Apply(old, nil)
		require.ErrorIs(t, err, ErrApplyMismatch)
	})
}

func TestRender(t *testing.T) {
	out := Render([]byte("alpha\nbeta\ngamma\n"), []byte("alpha\nBETA\ngamma\n"))

	require.Equal(t, "  alpha\n- beta\n+ BETA\n  gamma\n", out)
}
