package blockstore

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/revgo/internal/hash"
)

// Block file layout: 16-byte header, payload, 4-byte CRC32C footer computed
// over header+payload.
const (
	blockMagic   uint32 = 0x4b4c4252 // "RBLK"
	blockVersion uint8  = 1

	flagLZ4 uint8 = 1 << 0

	blockHeaderSize = 16
	blockFooterSize = 4
)

// DefaultCompressionThreshold is the content size above which local blocks
// are stored lz4-compressed.
const DefaultCompressionThreshold = 4096

// encodeBlockFile frames content for durable storage. Content at or above
// threshold is lz4 block compressed; incompressible content falls back to
// the raw encoding.
func encodeBlockFile(content []byte, threshold int) []byte {
	payload := content
	var flags uint8

	if threshold > 0 && len(content) >= threshold {
		dst := make([]byte, lz4.CompressBlockBound(len(content)))
		var c lz4.Compressor
		n, err := c.CompressBlock(content, dst)
		if err == nil && n > 0 && n < len(content) {
			payload = dst[:n]
			flags |= flagLZ4
		}
	}

	buf := make([]byte, blockHeaderSize+len(payload)+blockFooterSize)
	binary.LittleEndian.PutUint32(buf[0:4], blockMagic)
	buf[4] = blockVersion
	buf[5] = flags
	// buf[6:8] reserved
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(content)))
	copy(buf[blockHeaderSize:], payload)

	sum := hash.CRC32C(buf[:blockHeaderSize+len(payload)])
	binary.LittleEndian.PutUint32(buf[blockHeaderSize+len(payload):], sum)
	return buf
}

// decodeBlockFile verifies and unwraps a framed block file.
func decodeBlockFile(raw []byte) ([]byte, error) {
	if len(raw) < blockHeaderSize+blockFooterSize {
		return nil, fmt.Errorf("block file truncated: %d bytes", len(raw))
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != blockMagic {
		return nil, fmt.Errorf("bad block magic: 0x%x", binary.LittleEndian.Uint32(raw[0:4]))
	}
	if raw[4] != blockVersion {
		return nil, fmt.Errorf("unsupported block version: %d", raw[4])
	}

	body := raw[:len(raw)-blockFooterSize]
	want := binary.LittleEndian.Uint32(raw[len(raw)-blockFooterSize:])
	if got := hash.CRC32C(body); got != want {
		return nil, fmt.Errorf("block checksum mismatch: got 0x%x, want 0x%x", got, want)
	}

	flags := raw[5]
	size := binary.LittleEndian.Uint64(raw[8:16])
	payload := body[blockHeaderSize:]

	if flags&flagLZ4 == 0 {
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("block size mismatch: header %d, payload %d", size, len(payload))
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("block size mismatch after decompress: header %d, got %d", size, n)
	}
	return out, nil
}
