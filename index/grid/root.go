package grid

import (
	"cmp"
	"context"
	"slices"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
)

type rootEntry struct {
	f       *feature.Feature
	env     geom.Envelope
	addedAt int64 // unix nanos
}

// readRoot returns the unexpired root features in id order.
func (x *Index) readRoot() []*feature.Feature {
	view := *x.rootView.Load()
	if x.ttl <= 0 || len(view) == 0 {
		return view
	}

	// rootFeatures is guarded by the root write lock; the caller holds the
	// read lock.
	now := x.now().UnixNano()
	out := make([]*feature.Feature, 0, len(view))
	for _, f := range view {
		if e, ok := x.rootFeatures[f.ID]; ok && now-e.addedAt <= int64(x.ttl) {
			out = append(out, f)
		}
	}
	return out
}

// publish marks n valid and moves its oversized features to the root.
// Both happen under the root write lock, which Invalidate also holds while
// it drops root features and bumps cell generations, so a racing
// invalidation either aborts the commit or removes what it merged.
// It reports false when n was invalidated since BeginPopulate.
func (x *Index) publish(ctx context.Context, n *node, now int64) (bool, error) {
	x.root.Lock()
	defer x.root.Unlock()

	if n.generation() != n.startGen {
		return false, nil
	}
	if len(n.oversized) > 0 {
		for _, f := range n.oversized {
			x.rootFeatures[f.ID] = rootEntry{f: f, env: f.Envelope(), addedAt: now}
		}
		if err := x.publishRoot(ctx); err != nil {
			return false, err
		}
	}
	return n.validate(now), nil
}

// publishRoot rebuilds the root view and writes it to storage. The caller
// holds the root write lock.
func (x *Index) publishRoot(ctx context.Context) error {
	view := make([]*feature.Feature, 0, len(x.rootFeatures))
	for _, e := range x.rootFeatures {
		view = append(view, e.f)
	}
	slices.SortFunc(view, func(a, b *feature.Feature) int { return cmp.Compare(a.ID, b.ID) })
	x.rootView.Store(&view)

	if len(view) == 0 {
		return x.store.Delete(ctx, index.RootID)
	}
	return x.store.Put(ctx, index.RootID, view)
}

// dropRoot removes root features intersecting region and returns region
// grown to cover them, repeating until no further feature is hit. The
// caller holds the root write lock.
func (x *Index) dropRoot(ctx context.Context, region geom.Envelope) geom.Envelope {
	removed := false
	for {
		grown := region
		for id, e := range x.rootFeatures {
			if e.env.Intersects(region) {
				grown = grown.Union(e.env)
				delete(x.rootFeatures, id)
				removed = true
			}
		}
		if grown.Equal(region) {
			break
		}
		region = grown
	}

	if removed {
		if err := x.publishRoot(ctx); err != nil {
			x.logger.Warn("Failed to persist root", "error", err)
		}
	}
	return region
}
