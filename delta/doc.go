// Package delta computes and applies patches between two revisions of a
// text document.
//
// Patches are line-based: the diff aligns the two contents with a longest
// common subsequence over their lines and emits copy/insert operations that
// rebuild the target content from the base content. The codec is agnostic
// about which revision is base and which is target; the retention engine
// chains patches so that each one rebuilds a revision from its immediate
// successor.
//
// Encoded patches carry CRC32C checksums of both the base and the expected
// result. Apply verifies both, so a patch applied to the wrong base, or a
// corrupted patch, fails with ErrApplyMismatch instead of silently
// producing garbage. That error signals storage corruption or a base/patch
// mismatch and is not retryable.
package delta
