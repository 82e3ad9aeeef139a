package revgo

import (
	"github.com/hupe1980/revgo/config"
	"github.com/hupe1980/revgo/engine"
	"github.com/hupe1980/revgo/resource"
)

type options struct {
	logger                *Logger
	metricsCollector      MetricsCollector
	fallback              engine.Fallback
	defaults              config.VersionConfig
	dataDir               string
	controller            *resource.Controller
	compactionWorkers     int
	syncJournal           bool
	checkpointEveryOps    int64
	disableAutoCompaction bool
}

// Option configures the store constructor.
type Option func(*options)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsCollector sets the metrics sink. The default is a no-op.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector != nil {
			o.metricsCollector = collector
		}
	}
}

// WithFallback configures the external source consulted for versions that
// retention has removed locally.
func WithFallback(fallback engine.Fallback) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}

// WithDefaults sets the organization-wide retention policy applied to
// documents without a per-document override.
func WithDefaults(cfg config.VersionConfig) Option {
	return func(o *options) {
		o.defaults = cfg
	}
}

// WithDataDir enables journal + snapshot persistence of the version state
// under dir. Without it the state is in-memory only.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

// WithResourceController throttles background retention work.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithCompactionWorkers sizes the background compaction pool.
func WithCompactionWorkers(workers int) Option {
	return func(o *options) {
		o.compactionWorkers = workers
	}
}

// WithSyncJournal fsyncs every journal append. Slower, but a crash loses
// no acknowledged writes.
func WithSyncJournal() Option {
	return func(o *options) {
		o.syncJournal = true
	}
}

// WithAutoCheckpoint publishes a snapshot and truncates the journal after
// every n committed mutations.
func WithAutoCheckpoint(n int64) Option {
	return func(o *options) {
		o.checkpointEveryOps = n
	}
}

// WithAutoCompactionDisabled stops writes from scheduling retention
// passes; compaction then only runs via Compact and CompactAll. Intended
// for bulk imports and tests.
func WithAutoCompactionDisabled() Option {
	return func(o *options) {
		o.disableAutoCompaction = true
	}
}
