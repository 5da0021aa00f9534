package grid

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
)

// node is a grid cell (or the root) and its populate state.
type node struct {
	sync.RWMutex

	idx   *Index
	id    index.NodeID
	shape geom.Envelope

	valid       atomic.Bool
	populating  atomic.Bool
	populatedAt atomic.Int64 // unix nanos
	lastRead    atomic.Uint64

	// state serializes validity transitions. gen is bumped by every
	// invalidation so a commit can tell whether it raced with one.
	state sync.Mutex
	gen   uint64

	// Populate buffers, guarded by the write lock.
	startGen  uint64
	buf       []*feature.Feature
	seen      map[feature.ID]struct{}
	oversized []*feature.Feature
}

var _ index.NodeHandle = (*node)(nil)

func (n *node) ID() index.NodeID { return n.id }

func (n *node) Shape() geom.Envelope { return n.shape }

// IsValid reports whether the node holds complete, unexpired content.
// The root is always valid.
func (n *node) IsValid() bool {
	if n.id == index.RootID {
		return true
	}
	return n.valid.Load() && !n.idx.expired(n)
}

func (n *node) String() string {
	return "node(" + n.id.String() + ")"
}

// invalidate clears the valid flag. It reports whether the node was valid.
func (n *node) invalidate() bool {
	n.state.Lock()
	defer n.state.Unlock()

	n.gen++
	return n.valid.CompareAndSwap(true, false)
}

// validate sets the valid flag unless the node was invalidated since
// startGen was taken.
func (n *node) validate(now int64) bool {
	n.state.Lock()
	defer n.state.Unlock()

	if n.gen != n.startGen {
		return false
	}
	n.populatedAt.Store(now)
	n.valid.Store(true)
	return true
}

func (n *node) generation() uint64 {
	n.state.Lock()
	defer n.state.Unlock()
	return n.gen
}

func (n *node) resetBuffers() {
	n.buf = nil
	n.seen = nil
	n.oversized = nil
}
