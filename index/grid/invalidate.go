package grid

import (
	"context"

	"github.com/hupe1980/gridcache/geom"
)

// Invalidate marks every cell intersecting region invalid, together with
// root features touching it and the cells those features cover. It returns
// the number of cells that were valid.
func (x *Index) Invalidate(region geom.Envelope) int {
	if x.closed.Load() {
		return 0
	}
	ctx := context.Background()
	cells, count := x.invalidate(ctx, region)
	for _, n := range cells {
		x.discard(ctx, n)
	}
	x.invalidations.Add(uint64(count))
	return count
}

// Clear invalidates every cell and drops all root features.
func (x *Index) Clear() {
	if x.closed.Load() {
		return
	}
	ctx := context.Background()
	cells, count := x.invalidate(ctx, geom.Infinite())
	for _, n := range cells {
		x.discard(ctx, n)
	}
	x.invalidations.Add(uint64(count))
}

// invalidate drops the root features touching region and invalidates the
// cells covered by region and those features, all under the root write
// lock. It returns the covered cells and how many of them were valid.
func (x *Index) invalidate(ctx context.Context, region geom.Envelope) ([]*node, int) {
	x.root.Lock()
	defer x.root.Unlock()

	region = x.dropRoot(ctx, region)

	var cells []*node
	count := 0
	x.forEachCell(region, func(n *node) {
		if n.invalidate() {
			count++
		}
		cells = append(cells, n)
	})
	return cells, count
}

// discard deletes the stored content of an invalid cell when its write
// lock is free. Busy cells keep stale content until they are repopulated.
func (x *Index) discard(ctx context.Context, n *node) {
	if !n.TryLock() {
		return
	}
	defer n.Unlock()

	if n.valid.Load() || n.populating.Load() {
		return
	}
	if err := x.store.Delete(ctx, n.id); err != nil {
		x.logger.Warn("Failed to delete node content", "node", n.id, "error", err)
	}
}
