// Package prometheus exports cache metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	mc := gcprom.NewCollector(reg, "poi")
//	c, _ := gridcache.New(idx, src, gridcache.WithMetricsCollector(mc))
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/gridcache"
)

const namespace = "gridcache"

// Collector implements gridcache.MetricsCollector with Prometheus metrics.
type Collector struct {
	queryLatency *prometheus.HistogramVec
	fetchLatency *prometheus.HistogramVec
	nodes        *prometheus.CounterVec
	lockFailures *prometheus.CounterVec
	populated    *prometheus.CounterVec
	features     prometheus.Counter
}

var _ gridcache.MetricsCollector = (*Collector)(nil)

// NewCollector creates a collector and registers its metrics with reg.
// layer is attached to every metric as a constant label so several caches
// can share one registry. A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer, layer string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"layer": layer}

	c := &Collector{
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "query_latency_seconds",
			Help:        "Time to open a query, including lock acquisition and the backend request.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"status"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "backend_fetch_latency_seconds",
			Help:        "Time until the backend returned a feature stream.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"status", "compact"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "query_nodes_total",
			Help:        "Nodes touched by queries, by cache state.",
			ConstLabels: labels,
		}, []string{"state"}),
		lockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "lock_failures_total",
			Help:        "Node locks not acquired in time.",
			ConstLabels: labels,
		}, []string{"mode"}),
		populated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "populations_total",
			Help:        "Node populations by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		features: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "populated_features_total",
			Help:        "Features written into committed nodes.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(c.queryLatency, c.fetchLatency, c.nodes, c.lockFailures, c.populated, c.features)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordQuery implements gridcache.MetricsCollector.
func (c *Collector) RecordQuery(found, missing int, d time.Duration, err error) {
	c.queryLatency.WithLabelValues(status(err)).Observe(d.Seconds())
	c.nodes.WithLabelValues("found").Add(float64(found))
	c.nodes.WithLabelValues("missing").Add(float64(missing))
}

// RecordBackendFetch implements gridcache.MetricsCollector.
func (c *Collector) RecordBackendFetch(_ int, compact bool, d time.Duration, err error) {
	c.fetchLatency.WithLabelValues(status(err), strconv.FormatBool(compact)).Observe(d.Seconds())
}

// RecordLockFailure implements gridcache.MetricsCollector.
func (c *Collector) RecordLockFailure(write bool) {
	mode := "read"
	if write {
		mode = "write"
	}
	c.lockFailures.WithLabelValues(mode).Inc()
}

// RecordPopulate implements gridcache.MetricsCollector.
func (c *Collector) RecordPopulate(features int, committed bool) {
	if !committed {
		c.populated.WithLabelValues("abandoned").Inc()
		return
	}
	c.populated.WithLabelValues("committed").Inc()
	c.features.Add(float64(features))
}
