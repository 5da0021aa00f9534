package engine

import (
	"context"
	"errors"

	"github.com/hupe1980/gridcache/feature"
)

// Iterator is the result stream of one query. It holds node locks until it
// is closed, so Close must always be called. It is not safe for concurrent
// use.
//
// Closing after the stream was fully drained commits the nodes it
// populated. Closing earlier, or after an error, abandons them.
type Iterator struct {
	e     *Engine
	ctx   context.Context
	locks *lockSet
	merge *mergingReader
	out   feature.Iterator

	cur      *feature.Feature
	err      error
	closed   bool
	closeErr error
}

var _ feature.Iterator = (*Iterator)(nil)

func (e *Engine) newIterator(ctx context.Context, a *adapted, locks *lockSet, cache, backend feature.Iterator) *Iterator {
	m := newMergingReader(e.idx, e.logger, a.predicate, cache, backend, locks.missing)
	return &Iterator{
		e:     e,
		ctx:   ctx,
		locks: locks,
		merge: m,
		out:   a.decorate(m.iterator()),
	}
}

// Next advances to the next feature. A stream error closes the iterator
// and is reported by Err.
func (it *Iterator) Next() bool {
	if it.closed {
		return false
	}
	if it.out.Next() {
		it.cur = it.out.Feature()
		return true
	}
	it.cur = nil
	if err := it.out.Err(); err != nil {
		it.err = err
		_ = it.Close()
	}
	return false
}

// Feature returns the current feature.
func (it *Iterator) Feature() *feature.Feature { return it.cur }

// Err returns the stream error, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases every lock held by the iterator exactly once. It is
// idempotent.
func (it *Iterator) Close() error {
	if it.closed {
		return it.closeErr
	}
	it.closed = true
	it.cur = nil

	var errs []error
	if err := it.out.Close(); err != nil {
		errs = append(errs, err)
	}

	for _, h := range it.locks.found {
		h.RUnlock()
	}

	// Commits run detached from the query context so a cancelled caller
	// cannot leave a drained node half written.
	ctx := context.WithoutCancel(it.ctx)
	e := it.e
	committed := false
	for i, h := range it.locks.missing {
		n := it.merge.inserted[i]
		if it.err == nil && it.merge.complete(i) {
			if err := e.idx.Commit(ctx, h); err != nil {
				e.logger.Warn("Failed to commit node", "node", h.ID(), "error", err)
				errs = append(errs, err)
				e.idx.Unregister(h)
				e.stats.abandoned.Add(1)
				e.metrics.OnPopulate(h.ID(), n, false)
			} else {
				committed = true
				e.stats.populated.Add(1)
				e.metrics.OnPopulate(h.ID(), n, true)
				e.logger.Debug("Node populated", "node", h.ID(), "features", n)
			}
		} else {
			e.idx.Unregister(h)
			e.stats.abandoned.Add(1)
			e.metrics.OnPopulate(h.ID(), n, false)
			e.logger.Debug("Node population abandoned", "node", h.ID(), "features", n)
		}
		h.Unlock()
	}
	it.locks.found, it.locks.missing = nil, nil

	if committed {
		if err := e.idx.Flush(ctx); err != nil {
			e.logger.Warn("Failed to flush index", "error", err)
			errs = append(errs, err)
		}
	}

	it.closeErr = errors.Join(errs...)
	return it.closeErr
}
