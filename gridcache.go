package gridcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/internal/engine"
	"github.com/hupe1980/gridcache/source"
)

// Cache is a spatial read-through cache in front of a feature source.
//
// It is safe for concurrent use.
type Cache struct {
	eng    *engine.Engine
	idx    index.SpatialIndex
	src    source.FeatureSource
	opts   options
	closed atomic.Bool
}

// Stats is a snapshot of cache statistics.
type Stats struct {
	Engine          engine.Stats
	Index           index.Stats
	InFlightFetches int64
}

// New creates a cache serving src through idx. The cache owns idx and
// closes it on Close; src is owned by the caller.
func New(idx index.SpatialIndex, src source.FeatureSource, optFns ...Option) (*Cache, error) {
	if idx == nil || src == nil {
		return nil, errors.New("gridcache: index and source are required")
	}
	o := applyOptions(optFns)
	if schema := src.Schema(); schema != nil {
		o.logger = o.logger.WithLayer(schema.Name)
	}

	eng, err := engine.New(context.Background(), idx, src, o.engineOptions()...)
	if err != nil {
		return nil, translateError(err, "")
	}
	return &Cache{eng: eng, idx: idx, src: src, opts: o}, nil
}

// Features returns the features matching q.
//
// The iterator holds node locks until it is closed; Close must always be
// called. Nodes fetched by the query are committed to the cache only when
// the iterator was read to the end before Close.
func (c *Cache) Features(ctx context.Context, q filter.Query) (feature.Iterator, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	it, err := c.eng.Open(ctx, q)
	c.opts.logger.LogQuery(ctx, q, time.Since(start), err)
	if err != nil {
		return nil, translateError(err, q.TypeName)
	}
	return it, nil
}

// Schema returns the schema of the features q produces.
func (c *Cache) Schema(q filter.Query) (*feature.Schema, error) {
	s, err := c.eng.Schema(q)
	if err != nil {
		return nil, translateError(err, q.TypeName)
	}
	return s, nil
}

// Warm populates the cache for regions, fetching them in parallel.
func (c *Cache) Warm(ctx context.Context, regions ...geom.Envelope) error {
	if c.closed.Load() {
		return ErrClosed
	}
	start := time.Now()

	var features atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.warmConcurrency)
	for _, r := range regions {
		g.Go(func() error {
			if err := c.opts.resources.AcquireBackground(gctx); err != nil {
				return err
			}
			defer c.opts.resources.ReleaseBackground()

			n, err := c.drain(gctx, filter.Query{Filter: filter.BBox(r)})
			features.Add(int64(n))
			return err
		})
	}
	err := g.Wait()
	c.opts.logger.LogWarm(ctx, len(regions), int(features.Load()), time.Since(start), err)
	return err
}

func (c *Cache) drain(ctx context.Context, q filter.Query) (n int, err error) {
	it, err := c.eng.Open(ctx, q)
	if err != nil {
		return 0, translateError(err, q.TypeName)
	}
	defer func() {
		err = errors.Join(err, it.Close())
	}()
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// Invalidate marks every cached node intersecting region as stale and
// returns how many nodes were dropped. Iterators already open keep their
// view.
func (c *Cache) Invalidate(region geom.Envelope) int {
	n := c.idx.Invalidate(region)
	c.opts.logger.LogInvalidate(context.Background(), region, n)
	return n
}

// Clear drops the whole cache content.
func (c *Cache) Clear() {
	c.idx.Clear()
	c.opts.logger.Debug("cache cleared")
}

// Flush persists buffered node storage writes.
func (c *Cache) Flush(ctx context.Context) error {
	return translateError(c.idx.Flush(ctx), "")
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Engine:          c.eng.Stats(),
		Index:           c.idx.Stats(),
		InFlightFetches: c.opts.resources.InFlightFetches(),
	}
}

// Close rejects new queries and closes the index. Open iterators must be
// closed first. Close is idempotent.
func (c *Cache) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(c.eng.Close(), c.idx.Close())
}
