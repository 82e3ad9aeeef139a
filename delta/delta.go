package delta

import (
	"bytes"
)

// Stats summarizes a diff between two revisions.
type Stats struct {
	LinesAdded   int
	LinesRemoved int
	LinesChanged int
	// SimilarityPercent is in [0, 100]; 100 means identical content.
	// It is symmetric under argument swap and monotonic in the amount of
	// shared content.
	SimilarityPercent float64
}

// maxLCSCells bounds the DP table for the line alignment. Beyond it the
// diff degrades to a whole-file replacement, which is always correct, just
// less compact.
const maxLCSCells = 16 << 20

// Diff computes a forward patch that rebuilds new from old, plus summary
// statistics.
func Diff(old, new []byte) ([]byte, Stats) {
	oldLines := splitLines(old)
	newLines := splitLines(new)

	matches := lcsMatches(oldLines, newLines)
	stats := computeStats(oldLines, newLines, matches)

	p := buildPatch(old, new, oldLines, newLines, matches)
	return p.encode(), stats
}

// splitLines splits content after each newline, preserving the newline
// bytes so that joining the lines reproduces the content exactly.
func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	var lines [][]byte
	start := 0
	for i, c := range content {
		if c == '\n' {
			lines = append(lines, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

// linePair records one aligned line: old index i matches new index j.
type linePair struct {
	i, j int
}

// lcsMatches returns the aligned line pairs of a longest common
// subsequence, in increasing order of both indices.
func lcsMatches(oldLines, newLines [][]byte) []linePair {
	n, m := len(oldLines), len(newLines)
	if n == 0 || m == 0 {
		return nil
	}

	// Trim the common prefix and suffix first; edits cluster in the
	// middle and this keeps the DP table small.
	prefix := 0
	for prefix < n && prefix < m && bytes.Equal(oldLines[prefix], newLines[prefix]) {
		prefix++
	}
	suffix := 0
	for suffix < n-prefix && suffix < m-prefix &&
		bytes.Equal(oldLines[n-1-suffix], newLines[m-1-suffix]) {
		suffix++
	}

	midOld := oldLines[prefix : n-suffix]
	midNew := newLines[prefix : m-suffix]

	var mid []linePair
	if len(midOld) > 0 && len(midNew) > 0 {
		if len(midOld)*len(midNew) <= maxLCSCells {
			mid = lcsTable(midOld, midNew)
		}
		// Otherwise treat the middle as fully rewritten.
	}

	pairs := make([]linePair, 0, prefix+len(mid)+suffix)
	for k := 0; k < prefix; k++ {
		pairs = append(pairs, linePair{i: k, j: k})
	}
	for _, p := range mid {
		pairs = append(pairs, linePair{i: p.i + prefix, j: p.j + prefix})
	}
	for k := suffix; k > 0; k-- {
		pairs = append(pairs, linePair{i: n - k, j: m - k})
	}
	return pairs
}

// lcsTable runs the classic LCS dynamic program and backtracks the aligned
// pairs.
func lcsTable(a, b [][]byte) []linePair {
	n, m := len(a), len(b)
	table := make([]int32, (n+1)*(m+1))
	idx := func(i, j int) int { return i*(m+1) + j }

	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(a[i], b[j]) {
				table[idx(i, j)] = table[idx(i+1, j+1)] + 1
			} else if table[idx(i+1, j)] >= table[idx(i, j+1)] {
				table[idx(i, j)] = table[idx(i+1, j)]
			} else {
				table[idx(i, j)] = table[idx(i, j+1)]
			}
		}
	}

	var pairs []linePair
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case bytes.Equal(a[i], b[j]):
			pairs = append(pairs, linePair{i: i, j: j})
			i++
			j++
		case table[idx(i+1, j)] >= table[idx(i, j+1)]:
			i++
		default:
			j++
		}
	}
	return pairs
}

// computeStats derives line counters and the similarity percentage.
//
// Unmatched lines are paired up as "changed" (one removed line rewritten
// into one added line) as far as both sides allow; the surplus counts as
// pure additions or removals. A changed pair contributes a fractional match
// based on its common prefix/suffix characters, so a small in-line edit
// scores high similarity while a full rewrite scores zero.
func computeStats(oldLines, newLines [][]byte, matches []linePair) Stats {
	matched := len(matches)
	removedRaw := len(oldLines) - matched
	addedRaw := len(newLines) - matched

	changed := removedRaw
	if addedRaw < changed {
		changed = addedRaw
	}

	stats := Stats{
		LinesAdded:   addedRaw - changed,
		LinesRemoved: removedRaw - changed,
		LinesChanged: changed,
	}

	total := len(oldLines) + len(newLines)
	if total == 0 {
		stats.SimilarityPercent = 100
		return stats
	}

	// Pair unmatched lines in order for the fractional score.
	fractional := 0.0
	oldRest := unmatchedLines(oldLines, matches, true)
	newRest := unmatchedLines(newLines, matches, false)
	for k := 0; k < changed; k++ {
		fractional += lineSimilarity(oldRest[k], newRest[k])
	}

	stats.SimilarityPercent = 100 * (2 * (float64(matched) + fractional)) / float64(total)
	if stats.SimilarityPercent > 100 {
		stats.SimilarityPercent = 100
	}
	return stats
}

func unmatchedLines(lines [][]byte, matches []linePair, old bool) [][]byte {
	taken := make(map[int]bool, len(matches))
	for _, p := range matches {
		if old {
			taken[p.i] = true
		} else {
			taken[p.j] = true
		}
	}
	var rest [][]byte
	for i, l := range lines {
		if !taken[i] {
			rest = append(rest, l)
		}
	}
	return rest
}

// lineSimilarity scores a changed line pair in [0, 0.5] by shared
// prefix/suffix characters. The cap keeps a changed pair strictly below a
// fully matched line.
func lineSimilarity(a, b []byte) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	shared := float64(2 * (prefix + suffix))
	return 0.5 * shared / float64(len(a)+len(b))
}
