// Package revgo provides an embeddable version-tracking storage engine for
// documentation content.
//
// Every write creates an immutable, contiguously numbered version of a
// document. Identical content is stored once: blocks are content-addressed
// and reference counted, so a revert costs one reference, not one copy.
// Background compaction keeps recent versions as full content and rewrites
// older ones into forward line deltas; versions past the hard retention cap
// are evicted and, when a fallback source is configured, served from there.
//
// # Quick Start
//
// Durable local store:
//
//	ctx := context.Background()
//	store, _ := revgo.Open("./data")
//	defer store.Close()
//
//	id, _ := store.StoreVersion(ctx, docID, content, map[string]string{"author": "ci"})
//	content, _ = store.GetVersion(ctx, docID, id.Version)
//	history, _ := store.History(ctx, docID, 20)
//	cmp, _ := store.Compare(ctx, docID, 1, 2)
//
// In-memory (tests, ephemeral workloads):
//
//	store, _ := revgo.New(blockstore.NewMemoryStore())
//
// With a cold archive tier:
//
//	primary, _ := blockstore.OpenLocalStore("./data/blocks")
//	archive, _ := s3.NewArchive(client, "my-bucket", "docs-archive")
//	store, _ := revgo.New(blockstore.NewTieredStore(primary, archive), revgo.WithDataDir("./data"))
//
// # Retention
//
// Retention is policy-driven per document: hot_versions stay full,
// delta_versions stay reconstructable, total_versions is the hard cap.
// Policies resolve as explicit override > importance preset > defaults,
// and are cached until explicitly invalidated:
//
//	store.SetImportance(docID, config.ImportanceCritical)
//	store.SetConfig(docID, customPolicy)
//
// # Durability Model
//
// Content blocks are durable in the block store (atomic write + rename,
// CRC32C verified). The version state is journaled before commit and
// checkpointed into JSON snapshots published through a CURRENT pointer;
// recovery replays the journal on top of the latest snapshot.
//
// # Errors
//
// All failure modes stay distinguishable via errors.Is: ErrNotFound,
// ErrStorage (retryable), ErrBaseVersionNotFound and
// ErrDeltaApplicationFailed (corruption, alert), ErrFallback.
package revgo
