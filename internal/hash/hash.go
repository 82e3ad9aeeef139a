// Package hash provides the hashing utilities used across revgo.
//
// Content addresses use SHA-256, rendered as lowercase hex. The address of a
// block is a pure function of its bytes, which is what makes deduplication
// and revert detection work.
//
// Integrity checksums use CRC32-Castagnoli (CRC32C), which is hardware
// accelerated on x86 (SSE4.2) and ARM and detects all single-, double- and
// odd-bit errors plus burst errors up to 32 bits. Checksums guard journal
// entries, patch frames and on-disk block files against corruption; they are
// not content addresses.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"
)

// crc32cTable is pre-computed for the Castagnoli polynomial.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a streaming CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// Content returns the SHA-256 content address of data as lowercase hex.
func Content(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentLen is the length in characters of a hex-encoded content address.
const ContentLen = sha256.Size * 2

// ValidContent reports whether s looks like a content address produced by
// Content. It does not verify the address against any bytes.
func ValidContent(s string) bool {
	if len(s) != ContentLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
