package delta

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/revgo/internal/hash"
)

// ErrApplyMismatch indicates that a patch does not cleanly apply to the
// given base: the base checksum differs, an operation is out of bounds, or
// the rebuilt content fails the result checksum. It signals corruption or a
// base/patch mix-up, never a transient condition.
var ErrApplyMismatch = errors.New("delta: patch does not apply to base")

const (
	patchMagic   = 0x50445652 // "RVDP" little-endian
	patchVersion = 1

	opCopy   = 0x01 // copy a span of base lines
	opInsert = 0x02 // insert literal lines
)

// patch is the decoded form of the wire format. Spans reference base line
// indices; inserts carry literal line bytes.
type patch struct {
	baseCRC    uint32
	resultCRC  uint32
	baseLines  int
	resultSize int
	ops        []patchOp
}

type patchOp struct {
	kind  byte
	start int      // opCopy: first base line
	count int      // opCopy: number of lines
	lines [][]byte // opInsert
}

// buildPatch converts the aligned line pairs into copy/insert operations.
// Adjacent copies are merged into spans.
func buildPatch(old, new []byte, oldLines, newLines [][]byte, matches []linePair) *patch {
	p := &patch{
		baseCRC:    hash.CRC32C(old),
		resultCRC:  hash.CRC32C(new),
		baseLines:  len(oldLines),
		resultSize: len(new),
	}

	matchAt := make(map[int]int, len(matches)) // new index -> old index
	for _, m := range matches {
		matchAt[m.j] = m.i
	}

	j := 0
	for j < len(newLines) {
		if i, ok := matchAt[j]; ok {
			span := 1
			for j+span < len(newLines) {
				next, ok := matchAt[j+span]
				if !ok || next != i+span {
					break
				}
				span++
			}
			p.ops = append(p.ops, patchOp{kind: opCopy, start: i, count: span})
			j += span
			continue
		}

		var lines [][]byte
		for j < len(newLines) {
			if _, ok := matchAt[j]; ok {
				break
			}
			lines = append(lines, newLines[j])
			j++
		}
		p.ops = append(p.ops, patchOp{kind: opInsert, lines: lines})
	}

	return p
}

// encode serializes the patch:
//
//	magic   uint32 LE
//	version uint8
//	baseCRC uint32 LE
//	resultCRC uint32 LE
//	baseLines  uvarint
//	resultSize uvarint
//	opCount    uvarint
//	ops        (kind uint8, then per kind: copy start+count uvarints,
//	            or insert lineCount uvarint followed by len-prefixed lines)
//	footer  uint32 LE CRC32C over everything before it
func (p *patch) encode() []byte {
	buf := make([]byte, 0, 64+p.resultSize/8)
	buf = binary.LittleEndian.AppendUint32(buf, patchMagic)
	buf = append(buf, patchVersion)
	buf = binary.LittleEndian.AppendUint32(buf, p.baseCRC)
	buf = binary.LittleEndian.AppendUint32(buf, p.resultCRC)
	buf = binary.AppendUvarint(buf, uint64(p.baseLines))
	buf = binary.AppendUvarint(buf, uint64(p.resultSize))
	buf = binary.AppendUvarint(buf, uint64(len(p.ops)))

	for _, op := range p.ops {
		buf = append(buf, op.kind)
		switch op.kind {
		case opCopy:
			buf = binary.AppendUvarint(buf, uint64(op.start))
			buf = binary.AppendUvarint(buf, uint64(op.count))
		case opInsert:
			buf = binary.AppendUvarint(buf, uint64(len(op.lines)))
			for _, l := range op.lines {
				buf = binary.AppendUvarint(buf, uint64(len(l)))
				buf = append(buf, l...)
			}
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, hash.CRC32C(buf))
	return buf
}

// decodePatch parses and checksum-verifies an encoded patch.
func decodePatch(raw []byte) (*patch, error) {
	if len(raw) < 4+1+4+4+3+4 {
		return nil, fmt.Errorf("delta: patch truncated (%d bytes)", len(raw))
	}

	body, footer := raw[:len(raw)-4], raw[len(raw)-4:]
	if binary.LittleEndian.Uint32(footer) != hash.CRC32C(body) {
		return nil, fmt.Errorf("delta: patch checksum mismatch")
	}

	if binary.LittleEndian.Uint32(body) != patchMagic {
		return nil, fmt.Errorf("delta: bad patch magic")
	}
	if body[4] != patchVersion {
		return nil, fmt.Errorf("delta: unsupported patch version %d", body[4])
	}

	p := &patch{
		baseCRC:   binary.LittleEndian.Uint32(body[5:]),
		resultCRC: binary.LittleEndian.Uint32(body[9:]),
	}
	rest := body[13:]

	readUvarint := func() (int, error) {
		v, n := binary.Uvarint(rest)
		if n <= 0 {
			return 0, fmt.Errorf("delta: patch truncated")
		}
		rest = rest[n:]
		return int(v), nil
	}

	var err error
	if p.baseLines, err = readUvarint(); err != nil {
		return nil, err
	}
	if p.resultSize, err = readUvarint(); err != nil {
		return nil, err
	}
	opCount, err := readUvarint()
	if err != nil {
		return nil, err
	}

	p.ops = make([]patchOp, 0, opCount)
	for range opCount {
		if len(rest) == 0 {
			return nil, fmt.Errorf("delta: patch truncated")
		}
		op := patchOp{kind: rest[0]}
		rest = rest[1:]

		switch op.kind {
		case opCopy:
			if op.start, err = readUvarint(); err != nil {
				return nil, err
			}
			if op.count, err = readUvarint(); err != nil {
				return nil, err
			}
		case opInsert:
			lineCount, err := readUvarint()
			if err != nil {
				return nil, err
			}
			op.lines = make([][]byte, 0, lineCount)
			for range lineCount {
				n, err := readUvarint()
				if err != nil {
					return nil, err
				}
				if n > len(rest) {
					return nil, fmt.Errorf("delta: patch truncated")
				}
				op.lines = append(op.lines, rest[:n])
				rest = rest[n:]
			}
		default:
			return nil, fmt.Errorf("delta: unknown patch op 0x%02x", op.kind)
		}
		p.ops = append(p.ops, op)
	}

	return p, nil
}

// Apply rebuilds the newer revision from base and an encoded patch. The
// base and result are both checksum-verified; any mismatch returns
// ErrApplyMismatch.
func Apply(base, encoded []byte) ([]byte, error) {
	p, err := decodePatch(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrApplyMismatch, err)
	}

	if hash.CRC32C(base) != p.baseCRC {
		return nil, fmt.Errorf("%w: base checksum differs", ErrApplyMismatch)
	}

	baseLines := splitLines(base)
	if len(baseLines) != p.baseLines {
		return nil, fmt.Errorf("%w: base has %d lines, patch expects %d",
			ErrApplyMismatch, len(baseLines), p.baseLines)
	}

	result := make([]byte, 0, p.resultSize)
	for _, op := range p.ops {
		switch op.kind {
		case opCopy:
			if op.start < 0 || op.count < 0 || op.start+op.count > len(baseLines) {
				return nil, fmt.Errorf("%w: copy span [%d,%d) out of bounds",
					ErrApplyMismatch, op.start, op.start+op.count)
			}
			for _, l := range baseLines[op.start : op.start+op.count] {
				result = append(result, l...)
			}
		case opInsert:
			for _, l := range op.lines {
				result = append(result, l...)
			}
		}
	}

	if hash.CRC32C(result) != p.resultCRC {
		return nil, fmt.Errorf("%w: rebuilt content fails checksum", ErrApplyMismatch)
	}
	return result, nil
}
