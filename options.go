package gridcache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/gridcache/internal/engine"
	"github.com/hupe1980/gridcache/resource"
	"github.com/hupe1980/gridcache/transform"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	compactThreshold int
	lockTimeout      time.Duration
	transforms       transform.Service
	resources        *resource.Controller
	warmConcurrency  int
}

// Option configures a Cache.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &gridcache.BasicMetricsCollector{}
//	c, _ := gridcache.New(idx, src, gridcache.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, fetches: %d\n", stats.QueryCount, stats.FetchCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := gridcache.NewJSONLogger(slog.LevelInfo)
//	c, _ := gridcache.New(idx, src, gridcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithCompactThreshold sets the largest number of missing nodes fetched as
// one exact box per node. Larger sets are fetched with a single box over
// their union. The default is 4.
func WithCompactThreshold(n int) Option {
	return func(o *options) {
		o.compactThreshold = n
	}
}

// WithLockTimeout bounds how long a query waits for a node lock. A node
// whose lock is not acquired in time is read from the backend and not
// cached. Zero waits until the query context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithTransformService sets the service used to reproject geometries for
// queries requesting another CRS. The default registry knows EPSG:4326 and
// EPSG:3857.
func WithTransformService(s transform.Service) Option {
	return func(o *options) {
		o.transforms = s
	}
}

// WithResourceController limits backend requests and warm concurrency.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithWarmConcurrency bounds the regions Warm fetches in parallel.
// The default is the number of background workers of the resource
// controller, or 4 without one.
func WithWarmConcurrency(n int) Option {
	return func(o *options) {
		o.warmConcurrency = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		compactThreshold: engine.DefaultCompactThreshold,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.warmConcurrency <= 0 {
		o.warmConcurrency = 4
		if n := o.resources.Config().MaxBackgroundWorkers; n > 0 {
			o.warmConcurrency = int(n)
		}
	}
	return o
}

func (o options) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(o.logger.Logger),
		engine.WithMetricsObserver(&observer{mc: o.metricsCollector}),
		engine.WithCompactThreshold(o.compactThreshold),
		engine.WithLockTimeout(o.lockTimeout),
		engine.WithResourceController(o.resources),
	}
	if o.transforms != nil {
		opts = append(opts, engine.WithTransformService(o.transforms))
	}
	return opts
}
