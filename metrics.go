package revgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement it to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordStoreVersion is called after each store operation.
	RecordStoreVersion(duration time.Duration, size int, err error)

	// RecordGetVersion is called after each read.
	RecordGetVersion(duration time.Duration, err error)

	// RecordCompare is called after each version comparison.
	RecordCompare(duration time.Duration, err error)

	// RecordCompaction is called after each explicit compaction pass.
	RecordCompaction(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStoreVersion(time.Duration, int, error) {}
func (NoopMetricsCollector) RecordGetVersion(time.Duration, error)        {}
func (NoopMetricsCollector) RecordCompare(time.Duration, error)           {}
func (NoopMetricsCollector) RecordCompaction(time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection,
// useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	StoreCount      atomic.Int64
	StoreErrors     atomic.Int64
	StoreBytes      atomic.Int64
	StoreTotalNanos atomic.Int64
	GetCount        atomic.Int64
	GetErrors       atomic.Int64
	GetTotalNanos   atomic.Int64
	CompareCount    atomic.Int64
	CompareErrors   atomic.Int64
	CompactionCount atomic.Int64
	CompactionFails atomic.Int64
}

// RecordStoreVersion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStoreVersion(duration time.Duration, size int, err error) {
	b.StoreCount.Add(1)
	b.StoreTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.StoreErrors.Add(1)
		return
	}
	b.StoreBytes.Add(int64(size))
}

// RecordGetVersion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGetVersion(duration time.Duration, err error) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordCompare implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompare(duration time.Duration, err error) {
	b.CompareCount.Add(1)
	if err != nil {
		b.CompareErrors.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(duration time.Duration, err error) {
	b.CompactionCount.Add(1)
	if err != nil {
		b.CompactionFails.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		StoreCount:      b.StoreCount.Load(),
		StoreErrors:     b.StoreErrors.Load(),
		StoreBytes:      b.StoreBytes.Load(),
		GetCount:        b.GetCount.Load(),
		GetErrors:       b.GetErrors.Load(),
		CompareCount:    b.CompareCount.Load(),
		CompareErrors:   b.CompareErrors.Load(),
		CompactionCount: b.CompactionCount.Load(),
		CompactionFails: b.CompactionFails.Load(),
	}
	if stats.StoreCount > 0 {
		stats.StoreAvgNanos = b.StoreTotalNanos.Load() / stats.StoreCount
	}
	if stats.GetCount > 0 {
		stats.GetAvgNanos = b.GetTotalNanos.Load() / stats.GetCount
	}
	return stats
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StoreCount      int64
	StoreErrors     int64
	StoreBytes      int64
	StoreAvgNanos   int64
	GetCount        int64
	GetErrors       int64
	GetAvgNanos     int64
	CompareCount    int64
	CompareErrors   int64
	CompactionCount int64
	CompactionFails int64
}
