package config

import "fmt"

// Importance classifies how aggressively a document's history may be
// compacted.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceNormal   Importance = "normal"
	ImportanceLow      Importance = "low"
)

func (i Importance) valid() bool {
	switch i {
	case ImportanceCritical, ImportanceNormal, ImportanceLow:
		return true
	}
	return false
}

// VersionConfig is the retention policy for one document.
//
// The most recent HotVersions revisions stay stored as full content. The
// next DeltaVersions revisions are kept as reconstructable deltas.
// Revisions past TotalVersions are removed outright (served by the
// fallback, if one is configured).
type VersionConfig struct {
	HotVersions       uint32     `json:"hot_versions"`
	DeltaVersions     uint32     `json:"delta_versions"`
	TotalVersions     uint32     `json:"total_versions"`
	CompressAfterDays uint32     `json:"compress_after_days"`
	ArchiveAfterDays  uint32     `json:"archive_after_days"`
	Importance        Importance `json:"importance_level"`
}

// Default returns the organization-wide default policy.
func Default() VersionConfig {
	return VersionConfig{
		HotVersions:       10,
		DeltaVersions:     50,
		TotalVersions:     100,
		CompressAfterDays: 7,
		ArchiveAfterDays:  90,
		Importance:        ImportanceNormal,
	}
}

// Preset returns the named policy for an importance level. Critical widens
// the windows, low narrows them, normal is the default policy.
func Preset(level Importance) VersionConfig {
	cfg := Default()
	cfg.Importance = level

	switch level {
	case ImportanceCritical:
		cfg.HotVersions = 20
		cfg.DeltaVersions = 100
		cfg.TotalVersions = 500
	case ImportanceLow:
		cfg.HotVersions = 3
		cfg.DeltaVersions = 10
		cfg.TotalVersions = 20
	}
	return cfg
}

// Validate reports whether the policy is internally consistent.
func (c VersionConfig) Validate() error {
	if c.HotVersions == 0 {
		return fmt.Errorf("config: hot_versions must be at least 1")
	}
	if c.TotalVersions < c.HotVersions {
		return fmt.Errorf("config: total_versions (%d) below hot_versions (%d)",
			c.TotalVersions, c.HotVersions)
	}
	if !c.Importance.valid() {
		return fmt.Errorf("config: unknown importance level %q", c.Importance)
	}
	return nil
}
