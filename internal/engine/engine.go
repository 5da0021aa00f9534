package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/resource"
	"github.com/hupe1980/gridcache/source"
	"github.com/hupe1980/gridcache/transform"
)

// DefaultCompactThreshold is the largest number of missing nodes fetched
// with one exact box per node. Larger sets are fetched with their union.
const DefaultCompactThreshold = 4

// Engine answers feature queries from a spatial index, fetching and caching
// the nodes the index is missing.
type Engine struct {
	idx    index.SpatialIndex
	src    source.FeatureSource
	schema *feature.Schema

	logger           *slog.Logger
	metrics          MetricsObserver
	compactThreshold int
	lockTimeout      time.Duration
	transforms       transform.Service
	rc               *resource.Controller

	// contained is true when every source feature lies inside the index
	// bounds, so queries can be clipped to them.
	contained bool
	closed    atomic.Bool

	stats engineStats
}

type engineStats struct {
	queries         atomic.Uint64
	cacheHits       atomic.Uint64
	bypassed        atomic.Uint64
	backendFetches  atomic.Uint64
	backendFailures atomic.Uint64
	lockFailures    atomic.Uint64
	populated       atomic.Uint64
	abandoned       atomic.Uint64
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Queries         uint64 // iterators opened
	CacheHits       uint64 // queries answered without a backend request
	Bypassed        uint64 // queries outside the index, sent to the backend
	BackendFetches  uint64 // backend requests issued
	BackendFailures uint64 // backend requests that failed
	LockFailures    uint64 // node locks not acquired in time
	Populated       uint64 // nodes committed
	Abandoned       uint64 // nodes unregistered without commit
}

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(e *Engine) {
		if observer != nil {
			e.metrics = observer
		}
	}
}

// WithCompactThreshold sets the largest missing-node count fetched as an OR
// of per-node boxes.
func WithCompactThreshold(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.compactThreshold = n
		}
	}
}

// WithLockTimeout bounds every node lock wait. Nodes whose lock cannot be
// taken in time are served from the backend without caching.
// Zero waits until the query context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTimeout = d
	}
}

// WithTransformService sets the service used to reproject geometries.
func WithTransformService(s transform.Service) Option {
	return func(e *Engine) {
		if s != nil {
			e.transforms = s
		}
	}
}

// WithResourceController sets the resource controller that limits backend
// requests.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) {
		e.rc = rc
	}
}

// New creates an engine serving src through idx.
//
// If src implements source.BoundsProvider and its extent lies inside the
// index bounds, unbounded queries are answered from the cache. Otherwise
// only queries inside the index bounds are cached.
func New(ctx context.Context, idx index.SpatialIndex, src source.FeatureSource, opts ...Option) (*Engine, error) {
	if idx == nil || src == nil {
		return nil, fmt.Errorf("engine: index and source are required")
	}
	schema := src.Schema()
	if schema == nil {
		return nil, fmt.Errorf("%w: source has no schema", ErrSchemaAdaptation)
	}

	e := &Engine{
		idx:              idx,
		src:              src,
		schema:           schema.Clone(),
		logger:           slog.New(slog.DiscardHandler),
		metrics:          &NoopMetricsObserver{},
		compactThreshold: DefaultCompactThreshold,
		transforms:       transform.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if bp, ok := src.(source.BoundsProvider); ok {
		b, err := bp.Bounds(ctx)
		switch {
		case err != nil:
			e.logger.Warn("Source bounds unavailable, unbounded queries bypass the cache", "error", err)
		case b.IsEmpty() || idx.Bounds().Contains(b):
			e.contained = true
		default:
			e.logger.Warn("Source extends beyond the index, unbounded queries bypass the cache",
				"source", b.String(), "index", idx.Bounds().String())
		}
	}
	return e, nil
}

// Schema returns the output schema of q.
func (e *Engine) Schema(q filter.Query) (*feature.Schema, error) {
	a, err := e.adapt(q)
	if err != nil {
		return nil, err
	}
	return a.schema, nil
}

// Open opens an iterator over the features matching q.
//
// Cached nodes are read-locked and fetched nodes write-locked until the
// iterator is closed, so Close must always be called.
func (e *Engine) Open(ctx context.Context, q filter.Query) (*Iterator, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	a, err := e.adapt(q)
	if err != nil {
		return nil, err
	}
	e.stats.queries.Add(1)

	region, cached := e.region(a.predicate)
	switch {
	case region.IsEmpty() && cached:
		e.stats.cacheHits.Add(1)
		return e.newIterator(ctx, a, &lockSet{}, feature.Empty(), nil), nil
	case !cached:
		return e.bypass(ctx, a)
	}

	start := time.Now()
	locks, err := e.acquire(ctx, region, a.cacheable)
	if err != nil {
		e.metrics.OnQuery(0, 0, time.Since(start), err)
		return nil, err
	}
	e.metrics.OnQuery(len(locks.found), len(locks.missing)+len(locks.passthrough), time.Since(start), nil)

	var backend feature.Iterator
	if len(locks.missing)+len(locks.passthrough) > 0 {
		backend, err = e.fetch(ctx, a, locks)
		if err != nil {
			// Only the caller's context ends up here.
			for _, h := range locks.missing {
				e.stats.abandoned.Add(1)
				e.metrics.OnPopulate(h.ID(), 0, false)
			}
			locks.abort(e.idx)
			return nil, err
		}
	} else {
		e.stats.cacheHits.Add(1)
	}

	cache := newCacheReader(ctx, e.idx, locks.found)
	return e.newIterator(ctx, a, locks, cache, backend), nil
}

// region returns the part of space the predicate can match, clipped to the
// index. cached is false when the query reaches outside the index.
func (e *Engine) region(pred filter.Filter) (region geom.Envelope, cached bool) {
	r := filter.Bounds(pred)
	bounds := e.idx.Bounds()
	switch {
	case r.IsEmpty():
		return r, true
	case e.contained:
		return r.Intersection(bounds), true
	case bounds.Contains(r):
		return r, true
	default:
		return r, false
	}
}

// bypass sends q straight to the backend.
func (e *Engine) bypass(ctx context.Context, a *adapted) (*Iterator, error) {
	e.stats.bypassed.Add(1)
	e.logger.Debug("Query bypasses the cache", "filter", a.predicate.String())

	bq := filter.Query{TypeName: a.query.TypeName, Filter: a.predicate, MaxFeatures: a.query.MaxFeatures}
	it, err := e.open(ctx, bq, 0, false)
	if err != nil {
		var be *BackendError
		if ctx.Err() != nil || !errors.As(err, &be) {
			return nil, err
		}
		it = feature.Empty()
	}
	return e.newIterator(ctx, a, &lockSet{}, feature.Empty(), it), nil
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Queries:         e.stats.queries.Load(),
		CacheHits:       e.stats.cacheHits.Load(),
		Bypassed:        e.stats.bypassed.Load(),
		BackendFetches:  e.stats.backendFetches.Load(),
		BackendFailures: e.stats.backendFailures.Load(),
		LockFailures:    e.stats.lockFailures.Load(),
		Populated:       e.stats.populated.Load(),
		Abandoned:       e.stats.abandoned.Load(),
	}
}

// Index returns the spatial index.
func (e *Engine) Index() index.SpatialIndex { return e.idx }

// Close rejects new queries. Open iterators stay usable and must still be
// closed. The index and source are owned by the caller.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}
