// Package s3 provides an Amazon S3 backed Archive for cold content blocks,
// plus a DynamoDB commit ledger for atomically publishing archive index
// snapshots.
//
// Blocks are stored as whole objects keyed by their content address and
// zstd-compressed, since archived documentation content is read rarely and
// stored long.
//
// S3 offers no atomic rename, so deployments that maintain an archive index
// object use the DynamoDB ledger's conditional writes to advance the CURRENT
// pointer with compare-and-swap semantics, allowing concurrent archivers to
// coordinate safely.
package s3
