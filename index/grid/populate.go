package grid

import (
	"context"
	"fmt"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/index"
)

// BeginPopulate marks h as being populated. The caller holds h's write
// lock. Previous content is replaced on Commit.
func (x *Index) BeginPopulate(h index.NodeHandle) {
	n := x.own(h)
	n.startGen = n.generation()
	n.resetBuffers()
	n.seen = make(map[feature.ID]struct{})
	n.populating.Store(true)
}

// Insert adds f to the node being populated. Features spanning more than
// the configured number of cells are kept for the root instead.
func (x *Index) Insert(h index.NodeHandle, f *feature.Feature) error {
	if x.closed.Load() {
		return index.ErrClosed
	}
	n := x.own(h)
	if !n.populating.Load() {
		return fmt.Errorf("%w: %s", index.ErrNotPopulating, n.id)
	}
	if _, dup := n.seen[f.ID]; dup {
		return nil
	}
	n.seen[f.ID] = struct{}{}

	if x.maxSpan > 0 && x.span(f.Envelope()) > x.maxSpan {
		n.oversized = append(n.oversized, f)
		return nil
	}
	n.buf = append(n.buf, f)
	return nil
}

// Commit writes the populated content of h and marks it valid, unless h
// was invalidated while it was being populated.
func (x *Index) Commit(ctx context.Context, h index.NodeHandle) error {
	if x.closed.Load() {
		return index.ErrClosed
	}
	n := x.own(h)
	if !n.populating.Load() {
		return fmt.Errorf("%w: %s", index.ErrNotPopulating, n.id)
	}
	defer func() {
		n.populating.Store(false)
		n.resetBuffers()
	}()

	if n.generation() != n.startGen {
		x.abandon(n)
		return nil
	}

	now := x.now().UnixNano()
	buf := n.buf
	if buf == nil {
		buf = []*feature.Feature{}
	}
	if err := x.store.Put(ctx, n.id, buf); err != nil {
		x.aborts.Add(1)
		return fmt.Errorf("grid: commit node %s: %w", n.id, err)
	}

	ok, err := x.publish(ctx, n, now)
	if err != nil {
		x.aborts.Add(1)
		return fmt.Errorf("grid: commit node %s: %w", n.id, err)
	}
	if !ok {
		x.abandon(n)
		// Invalidate skipped the content while the populate held the lock.
		if err := x.store.Delete(ctx, n.id); err != nil {
			x.logger.Warn("Failed to delete node content", "node", n.id, "error", err)
		}
		return nil
	}
	n.lastRead.Store(x.clock.Add(1))
	x.commits.Add(1)

	if x.maxNodes > 0 {
		x.evict(ctx)
	}
	return nil
}

func (x *Index) abandon(n *node) {
	x.aborts.Add(1)
	x.logger.Debug("Node invalidated during populate", "node", n.id)
}

// Unregister abandons the population of h. h stays invalid.
func (x *Index) Unregister(h index.NodeHandle) {
	n := x.own(h)
	if !n.populating.CompareAndSwap(true, false) {
		return
	}
	n.resetBuffers()
	x.aborts.Add(1)
}

// evict invalidates the least recently read cells until at most maxNodes
// are valid. Cells whose write lock is busy are skipped.
func (x *Index) evict(ctx context.Context) {
	var valid []*node
	for _, n := range x.cells {
		if n.valid.Load() {
			valid = append(valid, n)
		}
	}
	excess := len(valid) - x.maxNodes
	if excess <= 0 {
		return
	}

	// Partial selection sort; excess is usually 1.
	for i := 0; i < len(valid) && excess > 0; i++ {
		oldest := i
		for j := i + 1; j < len(valid); j++ {
			if valid[j].lastRead.Load() < valid[oldest].lastRead.Load() {
				oldest = j
			}
		}
		valid[i], valid[oldest] = valid[oldest], valid[i]

		n := valid[i]
		if !n.TryLock() {
			continue
		}
		if n.invalidate() {
			x.evictions.Add(1)
			excess--
			if err := x.store.Delete(ctx, n.id); err != nil {
				x.logger.Warn("Failed to delete evicted node", "node", n.id, "error", err)
			}
		}
		n.Unlock()
	}
}
