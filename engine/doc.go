// Package engine implements the version store and the retention engine.
//
// Each document carries an append-only sequence of immutable version
// records. The newest revisions are stored full (their content lives in the
// block store), older revisions are compacted into patch chains where each
// delta rebuilds its revision from the immediate successor, and revisions
// past the hard cap are removed and tombstoned so reads can route to a
// configured fallback.
//
// Writes to the same document are serialized through striped per-document
// locks. Reads never take a document lock: they snapshot the record list
// under a short read lock and do all block IO and patch application outside
// of it. Compaction shares the document lock with writes and commits its
// results in one short critical section, so readers observe either the
// pre-pass or post-pass state.
//
// Durability follows a journal plus snapshot scheme: every committed
// mutation is appended to a zstd-compressed, checksummed journal before it
// becomes visible, and Checkpoint writes a JSON snapshot published through
// a CURRENT pointer, after which the journal is truncated.
package engine
