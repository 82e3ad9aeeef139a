package model

import (
	"fmt"
	"time"
)

// DocumentID is the stable identifier of a document. Identity is owned by the
// ingestion layer; the engine treats it as opaque.
type DocumentID uint64

// VersionNumber is a 1-based, per-document monotonic revision number.
// For a given document the live numbers form a contiguous prefix 1..N minus
// any versions evicted by retention.
type VersionNumber uint32

// VersionID identifies a single version record globally.
type VersionID struct {
	Document DocumentID
	Version  VersionNumber
}

// String returns a string representation of the VersionID.
func (id VersionID) String() string {
	return fmt.Sprintf("Ver(%d:%d)", id.Document, id.Version)
}

// StorageKind describes how a version's content is stored.
type StorageKind uint8

const (
	// KindFull means the content is directly retrievable via its block.
	KindFull StorageKind = iota + 1
	// KindDelta means the content must be reconstructed by walking the
	// patch chain to the nearest full record and applying forward patches.
	KindDelta
)

// String returns the storage kind name.
func (k StorageKind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindDelta:
		return "delta"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// VersionRecord is one immutable revision of one document.
//
// Invariants:
//   - The newest live version of a document is always KindFull.
//   - A KindDelta record's Base references a newer live record of the same
//     document; following Base pointers always terminates in a KindFull
//     record. Deletion removes the oldest versions first, so a base
//     outlives every delta built on it.
//   - ContentHash is the content address of the reconstructed content,
//     regardless of kind.
type VersionRecord struct {
	Document    DocumentID
	Version     VersionNumber
	ContentHash string
	Kind        StorageKind
	// Base is the version this delta's patch applies to. Zero for full
	// records.
	Base VersionNumber
	// Patch holds the forward patch bytes for delta records. Nil for full
	// records.
	Patch []byte
	// Size is the byte length of the reconstructed content.
	Size      int64
	Metadata  map[string]string
	CreatedAt time.Time
}

// ID returns the record's VersionID.
func (r *VersionRecord) ID() VersionID {
	return VersionID{Document: r.Document, Version: r.Version}
}

// Clone returns a deep copy of the record. Records handed out of the engine
// are clones so callers cannot violate immutability.
func (r *VersionRecord) Clone() *VersionRecord {
	c := *r
	if r.Patch != nil {
		c.Patch = make([]byte, len(r.Patch))
		copy(c.Patch, r.Patch)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// VersionSummary is the read-model view of a version exposed by history
// listings. It never carries content or patch bytes.
type VersionSummary struct {
	Document    DocumentID
	Version     VersionNumber
	ContentHash string
	Kind        StorageKind
	Size        int64
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Summary derives a VersionSummary from the record.
func (r *VersionRecord) Summary() VersionSummary {
	md := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		md[k] = v
	}
	return VersionSummary{
		Document:    r.Document,
		Version:     r.Version,
		ContentHash: r.ContentHash,
		Kind:        r.Kind,
		Size:        r.Size,
		Metadata:    md,
		CreatedAt:   r.CreatedAt,
	}
}

// DocumentStats reports per-document storage usage.
type DocumentStats struct {
	Document      DocumentID
	LiveVersions  int
	FullVersions  int
	DeltaVersions int
	// PatchBytes is the total size of stored patches.
	PatchBytes int64
	// ContentBytes is the total logical size of all live versions.
	ContentBytes int64
	// NewestVersion is 0 when the document has no live versions.
	NewestVersion VersionNumber
}
