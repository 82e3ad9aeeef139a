// Package config defines per-document retention policies and a cached
// resolver for looking them up.
//
// Precedence is explicit override, then importance preset, then the
// organization-wide defaults the resolver was built with. Resolved policies
// are cached; the cache refreshes only on explicit invalidation, so callers
// may briefly observe a stale policy after an update. Retention is an
// advisory background concern, not a correctness-critical read path.
package config
