package engine

import (
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/index"
)

// mergingReader unions the cache stream with the backend stream.
//
// The cache stream is drained first. Backend features are written into
// every populating node they intersect before the predicate is applied,
// so a node receives its full content even when the caller asked for less.
type mergingReader struct {
	idx       index.SpatialIndex
	logger    *slog.Logger
	predicate filter.Filter

	cache   feature.Iterator
	backend feature.Iterator // nil when nothing was fetched

	populating []index.NodeHandle
	inserted   []int  // features written per populating node
	failed     []bool // populating nodes whose insert failed

	yielded   *roaring64.Bitmap
	cacheDone bool
	// drained is set once both streams ended without error.
	drained bool
}

func newMergingReader(idx index.SpatialIndex, logger *slog.Logger, predicate filter.Filter,
	cache, backend feature.Iterator, populating []index.NodeHandle,
) *mergingReader {
	return &mergingReader{
		idx:        idx,
		logger:     logger,
		predicate:  predicate,
		cache:      cache,
		backend:    backend,
		populating: populating,
		inserted:   make([]int, len(populating)),
		failed:     make([]bool, len(populating)),
		yielded:    roaring64.New(),
	}
}

// iterator exposes the merged stream.
func (m *mergingReader) iterator() feature.Iterator {
	return feature.NewFuncIterator(m.next, m.close)
}

func (m *mergingReader) next() (*feature.Feature, error) {
	if !m.cacheDone {
		for m.cache.Next() {
			if f := m.cache.Feature(); m.accept(f) {
				return f, nil
			}
		}
		if err := m.cache.Err(); err != nil {
			return nil, err
		}
		m.cacheDone = true
	}

	if m.backend != nil {
		for m.backend.Next() {
			f := m.backend.Feature()
			m.populate(f)
			if m.accept(f) {
				return f, nil
			}
		}
		if err := m.backend.Err(); err != nil {
			return nil, err
		}
	}
	m.drained = true
	return nil, nil
}

// accept applies the predicate and suppresses repeated ids.
func (m *mergingReader) accept(f *feature.Feature) bool {
	if !m.predicate.Evaluate(f) {
		return false
	}
	return m.yielded.CheckedAdd(uint64(f.ID))
}

// populate writes a copy of f into every populating node it intersects.
func (m *mergingReader) populate(f *feature.Feature) {
	if len(m.populating) == 0 {
		return
	}
	env := f.Envelope()
	var c *feature.Feature
	for i, h := range m.populating {
		if m.failed[i] || !h.Shape().Intersects(env) {
			continue
		}
		if c == nil {
			c = f.Clone()
		}
		if err := m.idx.Insert(h, c); err != nil {
			m.failed[i] = true
			m.logger.Warn("Failed to cache feature", "node", h.ID(), "feature", f.ID, "error", err)
			continue
		}
		m.inserted[i]++
	}
}

// complete reports whether the i-th populating node received its full
// content.
func (m *mergingReader) complete(i int) bool {
	return m.drained && !m.failed[i]
}

func (m *mergingReader) close() error {
	err := m.cache.Close()
	if m.backend != nil {
		if berr := m.backend.Close(); err == nil {
			err = berr
		}
	}
	return err
}
