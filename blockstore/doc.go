// Package blockstore implements content-addressed, deduplicated block
// storage with reference counting.
//
// A block is an immutable byte string keyed by its SHA-256 content address.
// All full versions across all documents that happen to contain byte-identical
// content share one block; the reference count tracks exactly the number of
// live full version records pointing at it. Blocks whose count drops to zero
// are collected later by the compaction engine, never inline on a write.
//
// Implementations:
//   - MemoryStore: process-local, for tests and ephemeral use.
//   - LocalStore: durable filesystem store with lz4 compression for large
//     blocks, CRC32C integrity footers and an atomically published
//     reference ledger.
//
// The s3 and minio subpackages provide Archive implementations for the cold
// tier.
package blockstore
