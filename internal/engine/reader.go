package engine

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/index"
)

// cacheReader drains the root and a set of read-locked nodes, yielding each
// feature id once.
type cacheReader struct {
	ctx   context.Context
	idx   index.SpatialIndex
	nodes []index.NodeHandle

	rootDone bool
	pos      int
	buf      []*feature.Feature
	seen     *roaring64.Bitmap
}

// newCacheReader returns a stream over the root and nodes. The caller holds
// the read lock of every node until the stream is closed.
func newCacheReader(ctx context.Context, idx index.SpatialIndex, nodes []index.NodeHandle) feature.Iterator {
	r := &cacheReader{
		ctx:   ctx,
		idx:   idx,
		nodes: nodes,
		seen:  roaring64.New(),
	}
	return feature.NewFuncIterator(r.next, nil)
}

func (r *cacheReader) next() (*feature.Feature, error) {
	for {
		for len(r.buf) > 0 {
			f := r.buf[0]
			r.buf = r.buf[1:]
			if r.seen.CheckedAdd(uint64(f.ID)) {
				return f.Clone(), nil
			}
		}
		if err := r.fill(); err != nil || r.buf == nil {
			return nil, err
		}
	}
}

// fill loads the next node into buf. buf stays nil once every node is read.
func (r *cacheReader) fill() error {
	if !r.rootDone {
		r.rootDone = true
		root := r.idx.Root()
		root.RLock()
		fs, err := r.idx.ReadNode(r.ctx, root)
		root.RUnlock()
		if err != nil {
			return err
		}
		r.buf = nonNil(fs)
		return nil
	}

	if r.pos >= len(r.nodes) {
		r.buf = nil
		return nil
	}
	h := r.nodes[r.pos]
	r.pos++
	fs, err := r.idx.ReadNode(r.ctx, h)
	if err != nil {
		return err
	}
	r.buf = nonNil(fs)
	return nil
}

func nonNil(fs []*feature.Feature) []*feature.Feature {
	if fs == nil {
		return []*feature.Feature{}
	}
	return fs
}
