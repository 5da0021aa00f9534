package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/source"
)

// Source is an in-process feature collection.
type Source struct {
	schema *feature.Schema

	mu       sync.RWMutex
	features map[feature.ID]*feature.Feature
}

var (
	_ source.FeatureSource  = (*Source)(nil)
	_ source.BoundsProvider = (*Source)(nil)
)

// New returns a source holding fs.
func New(schema *feature.Schema, fs ...*feature.Feature) *Source {
	s := &Source{
		schema:   schema.Clone(),
		features: make(map[feature.ID]*feature.Feature, len(fs)),
	}
	s.Add(fs...)
	return s
}

// Schema returns the feature type of the collection.
func (s *Source) Schema() *feature.Schema { return s.schema }

// Add inserts or replaces features. The source keeps copies.
func (s *Source) Add(fs ...*feature.Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fs {
		s.features[f.ID] = f.Clone()
	}
}

// Remove deletes the features with the given ids.
func (s *Source) Remove(ids ...feature.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.features, id)
	}
}

// Len returns the number of features.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.features)
}

// Bounds returns the union of all feature envelopes.
func (s *Source) Bounds(context.Context) (geom.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := geom.Empty()
	for _, f := range s.features {
		b = b.Union(f.Envelope())
	}
	return b, nil
}

// Features returns copies of the matching features in id order, or in the
// order requested by q.SortBy.
func (s *Source) Features(ctx context.Context, q filter.Query) (feature.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := source.CheckTypeName(s.schema, q); err != nil {
		return nil, err
	}

	pred := q.Predicate()

	s.mu.RLock()
	ids := slices.SortedFunc(maps.Keys(s.features), cmp.Compare[feature.ID])
	out := make([]*feature.Feature, 0, len(ids))
	for _, id := range ids {
		if f := s.features[id]; pred.Evaluate(f) {
			out = append(out, f.Clone())
		}
	}
	s.mu.RUnlock()

	if !q.IsNaturalOrder() {
		source.Sort(out, q.SortBy)
	}
	return source.Page(feature.NewSliceIterator(out), q.StartIndex, q.MaxFeatures), nil
}
