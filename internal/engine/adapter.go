package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/metadata"
	"github.com/hupe1980/gridcache/source"
	"github.com/hupe1980/gridcache/transform"
)

// adapted is a validated query with its output schema and decorators.
// It is immutable once built.
type adapted struct {
	query     filter.Query
	predicate filter.Filter
	schema    *feature.Schema

	props     []string          // retyped attribute names, nil keeps all
	aliases   map[string]string // source name -> output name
	transform transform.Transform

	// cacheable is false for capped queries: a partially read region must
	// never look cached.
	cacheable bool
}

// adapt validates q and computes its output schema.
func (e *Engine) adapt(q filter.Query) (*adapted, error) {
	if !q.IsNaturalOrder() {
		return nil, fmt.Errorf("%w: sort by %v", ErrUnsupportedQuery, q.SortBy)
	}
	if q.StartIndex != 0 {
		return nil, fmt.Errorf("%w: start index %d", ErrUnsupportedQuery, q.StartIndex)
	}
	if q.MaxFeatures < 0 {
		return nil, fmt.Errorf("%w: negative max features %d", ErrUnsupportedQuery, q.MaxFeatures)
	}
	if err := source.CheckTypeName(e.schema, q); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaAdaptation, err)
	}

	q = q.Clone()
	schema, err := e.schema.Retype(q.Properties, q.Aliases)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaAdaptation, err)
	}

	a := &adapted{
		query:     q,
		predicate: q.Predicate(),
		schema:    schema,
		aliases:   q.Aliases,
		cacheable: q.MaxFeatures == 0,
	}
	if q.IsRetyping() {
		a.props = q.Properties
		if len(a.props) == 0 {
			a.props = e.schema.AttributeNames()
		}
	}

	if q.CRS != "" {
		native, target := transform.Normalize(e.schema.CRS), transform.Normalize(q.CRS)
		if native != target {
			if native == "" {
				return nil, fmt.Errorf("%w: source %q has no CRS to reproject from", ErrSchemaAdaptation, e.schema.Name)
			}
			t, err := e.transforms.Find(native, target)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSchemaAdaptation, err)
			}
			a.transform = t
		}
		a.schema.CRS = target
	}
	return a, nil
}

// backendFilter returns the filter fetching nodes from the backend.
//
// Up to the compact threshold it is the OR of the exact node boxes.
// Beyond it a single box over their union is sent, which may fetch
// features outside the nodes; the post-filter drops them. For queries that
// are not cached the predicate is pushed down as well.
func (e *Engine) backendFilter(a *adapted, nodes []index.NodeHandle) (f filter.Filter, compact bool) {
	compact = len(nodes) <= e.compactThreshold
	if compact {
		boxes := make([]filter.Filter, len(nodes))
		for i, h := range nodes {
			boxes[i] = filter.BBox(h.Shape())
		}
		f = filter.Or(boxes...)
	} else {
		u := geom.Empty()
		for _, h := range nodes {
			u = u.Union(h.Shape())
		}
		f = filter.BBox(u)
	}
	if !a.cacheable {
		f = filter.And(f, a.predicate)
	}
	return f, compact
}

// fetch opens the backend stream for the missing and passthrough nodes of
// ls. A backend failure abandons the missing nodes and yields an empty
// stream; only a done ctx is returned as an error.
func (e *Engine) fetch(ctx context.Context, a *adapted, ls *lockSet) (feature.Iterator, error) {
	nodes := ls.fetchNodes()
	f, compact := e.backendFilter(a, nodes)

	it, err := e.open(ctx, filter.Query{TypeName: a.query.TypeName, Filter: f}, len(nodes), compact)
	if err == nil {
		return it, nil
	}
	var be *BackendError
	if ctx.Err() != nil || !errors.As(err, &be) {
		return nil, err
	}

	for _, h := range ls.missing {
		e.idx.Unregister(h)
		h.Unlock()
		e.stats.abandoned.Add(1)
		e.metrics.OnPopulate(h.ID(), 0, false)
	}
	ls.missing = nil
	return feature.Empty(), nil
}

// open issues one backend request. It holds a fetch slot of the resource
// controller until the returned stream is closed. Source failures are
// logged and returned as *BackendError.
func (e *Engine) open(ctx context.Context, q filter.Query, nodes int, compact bool) (feature.Iterator, error) {
	if err := e.rc.AcquireFetch(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	e.stats.backendFetches.Add(1)
	it, err := e.src.Features(ctx, q)
	e.metrics.OnBackendFetch(nodes, compact, time.Since(start), err)
	if err != nil {
		e.rc.ReleaseFetch()
		e.stats.backendFailures.Add(1)
		e.logger.Warn("Backend fetch failed", "nodes", nodes, "filter", q.Predicate().String(), "error", err)
		return nil, &BackendError{Nodes: nodes, Err: err}
	}
	e.logger.Debug("Backend fetch", "nodes", nodes, "compact", compact, "filter", q.Predicate().String())

	return feature.NewFuncIterator(func() (*feature.Feature, error) {
		if it.Next() {
			return it.Feature(), nil
		}
		return nil, it.Err()
	}, func() error {
		defer e.rc.ReleaseFetch()
		return it.Close()
	}), nil
}

// decorate applies retyping, reprojection and the feature limit, in that
// order. Decorated features are copies.
func (a *adapted) decorate(it feature.Iterator) feature.Iterator {
	if a.props != nil {
		it = mapIterator(it, a.retype)
	}
	if a.transform != nil {
		it = mapIterator(it, a.reproject)
	}
	if a.query.MaxFeatures > 0 {
		it = source.Page(it, 0, a.query.MaxFeatures)
	}
	return it
}

func (a *adapted) retype(f *feature.Feature) (*feature.Feature, error) {
	attrs := make(metadata.Document, len(a.props))
	for _, p := range a.props {
		v, ok := f.Attributes[p]
		if !ok {
			continue
		}
		name := p
		if alias, ok := a.aliases[p]; ok && alias != "" {
			name = alias
		}
		attrs[name] = v
	}
	return &feature.Feature{ID: f.ID, Geometry: f.Geometry, Attributes: attrs}, nil
}

func (a *adapted) reproject(f *feature.Feature) (*feature.Feature, error) {
	g, err := a.transform.Apply(f.Geometry)
	if err != nil {
		return nil, fmt.Errorf("reproject feature %d to %s: %w", f.ID, a.transform.Target(), err)
	}
	return &feature.Feature{ID: f.ID, Geometry: g, Attributes: f.Attributes}, nil
}

func mapIterator(it feature.Iterator, fn func(*feature.Feature) (*feature.Feature, error)) feature.Iterator {
	return feature.NewFuncIterator(func() (*feature.Feature, error) {
		if !it.Next() {
			return nil, it.Err()
		}
		return fn(it.Feature())
	}, it.Close)
}
