package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/source"
)

// CountingSource wraps a FeatureSource, recording every request and
// optionally injecting failures.
type CountingSource struct {
	inner source.FeatureSource

	mu        sync.Mutex
	queries   []filter.Query
	failNext  []error
	failAll   error
	failAfter int
	streamErr error
	gate      chan struct{}
	open      int
}

var (
	_ source.FeatureSource  = (*CountingSource)(nil)
	_ source.BoundsProvider = (*CountingSource)(nil)
)

// NewCountingSource wraps inner.
func NewCountingSource(inner source.FeatureSource) *CountingSource {
	return &CountingSource{inner: inner}
}

// Schema implements source.FeatureSource.
func (s *CountingSource) Schema() *feature.Schema { return s.inner.Schema() }

// Bounds delegates to the wrapped source, or reports an unbounded extent.
func (s *CountingSource) Bounds(ctx context.Context) (geom.Envelope, error) {
	if bp, ok := s.inner.(source.BoundsProvider); ok {
		return bp.Bounds(ctx)
	}
	return geom.Infinite(), nil
}

// Features records q and delegates to the wrapped source.
func (s *CountingSource) Features(ctx context.Context, q filter.Query) (feature.Iterator, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q.Clone())
	var err error
	if len(s.failNext) > 0 {
		err, s.failNext = s.failNext[0], s.failNext[1:]
	} else if s.failAll != nil {
		err = s.failAll
	}
	gate := s.gate
	failAfter, streamErr := s.failAfter, s.streamErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	it, err := s.inner.Features(ctx, q)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.open++
	s.mu.Unlock()

	n := 0
	return feature.NewFuncIterator(func() (*feature.Feature, error) {
		if streamErr != nil && n >= failAfter {
			return nil, streamErr
		}
		if !it.Next() {
			return nil, it.Err()
		}
		n++
		return it.Feature(), nil
	}, func() error {
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
		return it.Close()
	}), nil
}

// Calls returns the number of Features requests.
func (s *CountingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// Queries returns the recorded requests.
func (s *CountingSource) Queries() []filter.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]filter.Query, len(s.queries))
	copy(out, s.queries)
	return out
}

// LastQuery returns the most recent request.
func (s *CountingSource) LastQuery() (filter.Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return filter.Query{}, false
	}
	return s.queries[len(s.queries)-1], true
}

// OpenStreams returns the number of returned iterators not yet closed.
func (s *CountingSource) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Reset forgets the recorded requests.
func (s *CountingSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = nil
}

// FailNext makes the next request fail with err.
func (s *CountingSource) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

// FailAlways makes every request fail with err. A nil err stops failing.
func (s *CountingSource) FailAlways(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

// FailStreamAfter makes returned streams fail with err after n features.
func (s *CountingSource) FailStreamAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter, s.streamErr = n, err
}

// Hold blocks subsequent requests until the returned release function is
// called.
func (s *CountingSource) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}
