package gridcache

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/internal/engine"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus (see package metrics/prometheus).
type MetricsCollector interface {
	// RecordQuery is called when a query has acquired its nodes.
	// found nodes are served from the cache, missing nodes from the backend.
	RecordQuery(found, missing int, duration time.Duration, err error)

	// RecordBackendFetch is called after each backend request.
	// compact reports whether per-node boxes were sent instead of their union.
	RecordBackendFetch(nodes int, compact bool, duration time.Duration, err error)

	// RecordLockFailure is called when a node lock was not acquired in time.
	RecordLockFailure(write bool)

	// RecordPopulate is called when a fetched node is committed or abandoned.
	RecordPopulate(features int, committed bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(int, int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordBackendFetch(int, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordLockFailure(bool)                             {}
func (NoopMetricsCollector) RecordPopulate(int, bool)                           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount        atomic.Int64
	QueryErrors       atomic.Int64
	QueryTotalNanos   atomic.Int64
	NodesFound        atomic.Int64
	NodesMissing      atomic.Int64
	FetchCount        atomic.Int64
	FetchErrors       atomic.Int64
	FetchCompact      atomic.Int64
	FetchTotalNanos   atomic.Int64
	ReadLockFailures  atomic.Int64
	WriteLockFailures atomic.Int64
	NodesCommitted    atomic.Int64
	NodesAbandoned    atomic.Int64
	FeaturesPopulated atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(found, missing int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	b.NodesFound.Add(int64(found))
	b.NodesMissing.Add(int64(missing))
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordBackendFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackendFetch(nodes int, compact bool, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if compact {
		b.FetchCompact.Add(1)
	}
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordLockFailure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLockFailure(write bool) {
	if write {
		b.WriteLockFailures.Add(1)
	} else {
		b.ReadLockFailures.Add(1)
	}
}

// RecordPopulate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPopulate(features int, committed bool) {
	if committed {
		b.NodesCommitted.Add(1)
		b.FeaturesPopulated.Add(int64(features))
	} else {
		b.NodesAbandoned.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		QueryCount:        b.QueryCount.Load(),
		QueryErrors:       b.QueryErrors.Load(),
		QueryAvgNanos:     avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		NodesFound:        b.NodesFound.Load(),
		NodesMissing:      b.NodesMissing.Load(),
		FetchCount:        b.FetchCount.Load(),
		FetchErrors:       b.FetchErrors.Load(),
		FetchCompact:      b.FetchCompact.Load(),
		FetchAvgNanos:     avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		ReadLockFailures:  b.ReadLockFailures.Load(),
		WriteLockFailures: b.WriteLockFailures.Load(),
		NodesCommitted:    b.NodesCommitted.Load(),
		NodesAbandoned:    b.NodesAbandoned.Load(),
		FeaturesPopulated: b.FeaturesPopulated.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount        int64
	QueryErrors       int64
	QueryAvgNanos     int64
	NodesFound        int64
	NodesMissing      int64
	FetchCount        int64
	FetchErrors       int64
	FetchCompact      int64
	FetchAvgNanos     int64
	ReadLockFailures  int64
	WriteLockFailures int64
	NodesCommitted    int64
	NodesAbandoned    int64
	FeaturesPopulated int64
}

// observer forwards engine events to a MetricsCollector.
type observer struct {
	mc MetricsCollector
}

var _ engine.MetricsObserver = (*observer)(nil)

func (o *observer) OnQuery(found, missing int, duration time.Duration, err error) {
	o.mc.RecordQuery(found, missing, duration, err)
}

func (o *observer) OnBackendFetch(nodes int, compact bool, duration time.Duration, err error) {
	o.mc.RecordBackendFetch(nodes, compact, duration, err)
}

func (o *observer) OnLockFailure(_ index.NodeID, write bool) {
	o.mc.RecordLockFailure(write)
}

func (o *observer) OnPopulate(_ index.NodeID, features int, committed bool) {
	o.mc.RecordPopulate(features, committed)
}
