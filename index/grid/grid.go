package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/storage"
)

// MaxCells bounds cols*rows. Cells are allocated up front.
const MaxCells = 1 << 22

// ErrInvalidGrid is returned by New for unusable bounds or dimensions.
var ErrInvalidGrid = errors.New("grid: invalid grid")

// Index is a fixed cols x rows partition of a bounded region.
//
// Cell ids are row*cols+col, which is also the lock order. The root holds
// features that span more than WithMaxSpan cells.
type Index struct {
	bounds       geom.Envelope
	cols, rows   int
	cellW, cellH float64

	cells []*node
	root  *node
	// rootFeatures is guarded by the root's write lock.
	rootFeatures map[feature.ID]rootEntry
	rootView     atomic.Pointer[[]*feature.Feature]

	store    storage.Storage
	ttl      time.Duration
	now      func() time.Time
	maxNodes int
	maxSpan  int
	logger   *slog.Logger

	clock  atomic.Uint64
	closed atomic.Bool

	commits       atomic.Uint64
	aborts        atomic.Uint64
	invalidations atomic.Uint64
	evictions     atomic.Uint64
	expirations   atomic.Uint64
}

var _ index.SpatialIndex = (*Index)(nil)

// New creates a grid over bounds with cols x rows cells.
func New(bounds geom.Envelope, cols, rows int, opts ...Option) (*Index, error) {
	if bounds.IsEmpty() || bounds.IsInfinite() || bounds.Width() <= 0 || bounds.Height() <= 0 {
		return nil, fmt.Errorf("%w: bounds %s", ErrInvalidGrid, bounds)
	}
	if cols <= 0 || rows <= 0 || cols > MaxCells/rows {
		return nil, fmt.Errorf("%w: %dx%d cells", ErrInvalidGrid, cols, rows)
	}

	x := &Index{
		bounds:       bounds,
		cols:         cols,
		rows:         rows,
		cellW:        bounds.Width() / float64(cols),
		cellH:        bounds.Height() / float64(rows),
		rootFeatures: make(map[feature.ID]rootEntry),
		now:          time.Now,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.store == nil {
		x.store = storage.NewMemory()
	}

	x.cells = make([]*node, cols*rows)
	for r := range rows {
		for c := range cols {
			id := r*cols + c
			x.cells[id] = &node{
				idx: x,
				id:  index.NodeID(id),
				shape: geom.NewEnvelope(
					bounds.MinX+float64(c)*x.cellW,
					bounds.MinY+float64(r)*x.cellH,
					bounds.MinX+float64(c+1)*x.cellW,
					bounds.MinY+float64(r+1)*x.cellH,
				),
			}
		}
	}
	x.root = &node{idx: x, id: index.RootID, shape: bounds}
	x.rootView.Store(&[]*feature.Feature{})

	return x, nil
}

// Bounds returns the region covered by the grid.
func (x *Index) Bounds() geom.Envelope { return x.bounds }

// Root returns the root handle.
func (x *Index) Root() index.NodeHandle { return x.root }

// Dimensions returns the number of columns and rows.
func (x *Index) Dimensions() (cols, rows int) { return x.cols, x.rows }

// Node returns the cell with the given id.
func (x *Index) Node(id index.NodeID) (index.NodeHandle, bool) {
	if id == index.RootID {
		return x.root, true
	}
	if uint64(id) >= uint64(len(x.cells)) {
		return nil, false
	}
	return x.cells[id], true
}

// cellRange returns the inclusive column and row range of cells
// intersecting e. Cells touching e are included.
func (x *Index) cellRange(e geom.Envelope) (c1, r1, c2, r2 int, ok bool) {
	e = e.Intersection(x.bounds)
	if e.IsEmpty() {
		return 0, 0, 0, 0, false
	}
	c1 = x.clampCol(math.Floor((e.MinX - x.bounds.MinX) / x.cellW))
	c2 = x.clampCol(math.Floor((e.MaxX - x.bounds.MinX) / x.cellW))
	r1 = x.clampRow(math.Floor((e.MinY - x.bounds.MinY) / x.cellH))
	r2 = x.clampRow(math.Floor((e.MaxY - x.bounds.MinY) / x.cellH))
	return c1, r1, c2, r2, true
}

func (x *Index) clampCol(v float64) int {
	return int(min(max(v, 0), float64(x.cols-1)))
}

func (x *Index) clampRow(v float64) int {
	return int(min(max(v, 0), float64(x.rows-1)))
}

// span returns how many cells e covers.
func (x *Index) span(e geom.Envelope) int {
	c1, r1, c2, r2, ok := x.cellRange(e)
	if !ok {
		return 0
	}
	return (c2 - c1 + 1) * (r2 - r1 + 1)
}

func (x *Index) forEachCell(e geom.Envelope, fn func(n *node)) {
	c1, r1, c2, r2, ok := x.cellRange(e)
	if !ok {
		return
	}
	for r := r1; r <= r2; r++ {
		for c := c1; c <= c2; c++ {
			fn(x.cells[r*x.cols+c])
		}
	}
}

func (x *Index) expired(n *node) bool {
	if x.ttl <= 0 {
		return false
	}
	return x.now().UnixNano()-n.populatedAt.Load() > int64(x.ttl)
}

// Resolve returns the cells intersecting region split by validity, in
// ascending id order. Cells found expired are invalidated.
func (x *Index) Resolve(region geom.Envelope) (valid, invalid []index.NodeHandle) {
	if x.closed.Load() {
		return nil, nil
	}
	x.forEachCell(region, func(n *node) {
		if n.valid.Load() && x.expired(n) {
			if n.invalidate() {
				x.expirations.Add(1)
				x.logger.Debug("Node expired", "node", n.id)
			}
		}
		if n.valid.Load() {
			valid = append(valid, n)
		} else {
			invalid = append(invalid, n)
		}
	})
	return valid, invalid
}

// ReadNode returns the cached features of h. The caller holds h's read
// lock.
func (x *Index) ReadNode(ctx context.Context, h index.NodeHandle) ([]*feature.Feature, error) {
	if x.closed.Load() {
		return nil, index.ErrClosed
	}
	n := x.own(h)
	if n == x.root {
		return x.readRoot(), nil
	}

	n.lastRead.Store(x.clock.Add(1))
	fs, err := x.store.Get(ctx, n.id)
	if errors.Is(err, storage.ErrNotFound) {
		return []*feature.Feature{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("grid: read node %s: %w", n.id, err)
	}
	return fs, nil
}

// Flush flushes the node storage.
func (x *Index) Flush(ctx context.Context) error {
	if x.closed.Load() {
		return index.ErrClosed
	}
	return x.store.Flush(ctx)
}

// Stats returns a snapshot of index statistics.
func (x *Index) Stats() index.Stats {
	st := index.Stats{
		Nodes:         len(x.cells),
		RootFeatures:  len(*x.rootView.Load()),
		Commits:       x.commits.Load(),
		Aborts:        x.aborts.Load(),
		Invalidations: x.invalidations.Load(),
		Evictions:     x.evictions.Load(),
		Expirations:   x.expirations.Load(),
	}
	for _, n := range x.cells {
		if n.IsValid() {
			st.ValidNodes++
		}
		if n.populating.Load() {
			st.PopulatingNodes++
		}
	}
	return st
}

// Close closes the index and its storage. Close is idempotent.
func (x *Index) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}
	return x.store.Close()
}

// own returns the grid node behind h. Handles of other indexes are a
// programming error.
func (x *Index) own(h index.NodeHandle) *node {
	n, ok := h.(*node)
	if !ok || n.idx != x {
		panic(fmt.Sprintf("grid: foreign node handle %T", h))
	}
	return n
}
