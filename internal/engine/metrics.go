package engine

import (
	"time"

	"github.com/hupe1980/gridcache/index"
)

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnQuery is called when a query has acquired its nodes (or failed to).
	OnQuery(found, missing int, duration time.Duration, err error)

	// OnBackendFetch is called after a backend request was issued.
	OnBackendFetch(nodes int, compact bool, duration time.Duration, err error)

	// OnLockFailure is called when a node lock could not be taken.
	OnLockFailure(node index.NodeID, write bool)

	// OnPopulate is called when a populated node is committed or abandoned.
	OnPopulate(node index.NodeID, features int, committed bool)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnQuery(found, missing int, duration time.Duration, err error) {}
func (o *NoopMetricsObserver) OnBackendFetch(nodes int, compact bool, duration time.Duration, err error) {
}
func (o *NoopMetricsObserver) OnLockFailure(node index.NodeID, write bool)                {}
func (o *NoopMetricsObserver) OnPopulate(node index.NodeID, features int, committed bool) {}
