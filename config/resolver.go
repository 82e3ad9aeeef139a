package config

import (
	"context"
	"sync"

	"github.com/hupe1980/revgo/model"
)

// Source supplies per-document policy overrides. Load returns false when
// the document has no override; the resolver then falls back to its
// defaults.
type Source interface {
	Load(ctx context.Context, doc model.DocumentID) (VersionConfig, bool, error)
}

// StaticSource is an in-memory Source. It backs the engine's SetConfig
// surface and doubles as the test double for external policy stores.
type StaticSource struct {
	mu        sync.RWMutex
	overrides map[model.DocumentID]VersionConfig
}

var _ Source = (*StaticSource)(nil)

// NewStaticSource creates an empty in-memory policy source.
func NewStaticSource() *StaticSource {
	return &StaticSource{overrides: make(map[model.DocumentID]VersionConfig)}
}

// Set installs an explicit per-document policy override.
func (s *StaticSource) Set(doc model.DocumentID, cfg VersionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[doc] = cfg
	return nil
}

// SetImportance installs the preset policy for the given importance level.
// An explicit Set for the same document replaces it.
func (s *StaticSource) SetImportance(doc model.DocumentID, level Importance) error {
	return s.Set(doc, Preset(level))
}

// Remove drops a per-document override; the document reverts to the
// resolver defaults on the next resolve after invalidation.
func (s *StaticSource) Remove(doc model.DocumentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, doc)
}

func (s *StaticSource) Load(_ context.Context, doc model.DocumentID) (VersionConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.overrides[doc]
	return cfg, ok, nil
}

// Resolver looks up the effective policy for a document, caching results
// until explicitly invalidated.
type Resolver struct {
	source   Source
	defaults VersionConfig

	mu    sync.RWMutex
	cache map[model.DocumentID]VersionConfig
}

// NewResolver creates a resolver over the given source. A nil source means
// every document uses the defaults.
func NewResolver(source Source, defaults VersionConfig) (*Resolver, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		source:   source,
		defaults: defaults,
		cache:    make(map[model.DocumentID]VersionConfig),
	}, nil
}

// Defaults returns the resolver's organization-wide default policy.
func (r *Resolver) Defaults() VersionConfig {
	return r.defaults
}

// Resolve returns the effective policy for a document. Lookups hit the
// cache first; a miss consults the source and caches the outcome, override
// or not.
func (r *Resolver) Resolve(ctx context.Context, doc model.DocumentID) (VersionConfig, error) {
	r.mu.RLock()
	cfg, ok := r.cache[doc]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg = r.defaults
	if r.source != nil {
		override, found, err := r.source.Load(ctx, doc)
		if err != nil {
			return VersionConfig{}, err
		}
		if found {
			if err := override.Validate(); err != nil {
				return VersionConfig{}, err
			}
			cfg = override
		}
	}

	r.mu.Lock()
	r.cache[doc] = cfg
	r.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached policy for one document.
func (r *Resolver) Invalidate(doc model.DocumentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, doc)
}

// InvalidateAll drops every cached policy.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[model.DocumentID]VersionConfig)
}
