// Package minio provides a MinIO (and S3-compatible) backed Archive for
// cold content blocks.
//
// Blocks are stored as whole objects keyed by their content address and
// zstd-compressed. MinIO object writes are atomic, so no separate commit
// ledger is needed for this backend.
package minio
