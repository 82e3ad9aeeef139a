package delta

import (
	"bytes"
	"fmt"
)

// Render produces a human-readable line diff between two revisions, in the
// familiar prefix notation: removed lines with "- ", added lines with "+ ",
// unchanged lines with "  ".
func Render(old, new []byte) string {
	oldLines := splitLines(old)
	newLines := splitLines(new)
	matches := lcsMatches(oldLines, newLines)

	var b bytes.Buffer
	i, j := 0, 0
	for _, m := range matches {
		for ; i < m.i; i++ {
			writeDiffLine(&b, '-', oldLines[i])
		}
		for ; j < m.j; j++ {
			writeDiffLine(&b, '+', newLines[j])
		}
		writeDiffLine(&b, ' ', oldLines[i])
		i++
		j++
	}
	for ; i < len(oldLines); i++ {
		writeDiffLine(&b, '-', oldLines[i])
	}
	for ; j < len(newLines); j++ {
		writeDiffLine(&b, '+', newLines[j])
	}
	return b.String()
}

func writeDiffLine(b *bytes.Buffer, marker byte, line []byte) {
	fmt.Fprintf(b, "%c ", marker)
	b.Write(bytes.TrimRight(line, "\n"))
	b.WriteByte('\n')
}
