package index

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
)

var (
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index: closed")
	// ErrNotPopulating is returned when features are inserted into, or
	// committed for, a node that is not being populated.
	ErrNotPopulating = errors.New("index: node is not being populated")
)

// NodeID identifies a node. IDs define the global lock order.
type NodeID uint64

// RootID is the id of the root node.
const RootID NodeID = math.MaxUint64

func (id NodeID) String() string {
	if id == RootID {
		return "root"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// NodeHandle is an index node (a region of space) with its own
// reader/writer lock.
//
// A caller never holds both the read and the write lock of one handle.
type NodeHandle interface {
	ID() NodeID
	// Shape returns the region covered by the node.
	Shape() geom.Envelope
	// IsValid reports whether the node's cached content is complete and
	// current. It may change at any time unless the caller holds a lock.
	IsValid() bool

	RLock()
	RUnlock()
	TryRLock() bool
	Lock()
	Unlock()
	TryLock() bool
}

// SpatialIndex partitions space into nodes and stores their cached content.
//
// Write operations on a node (BeginPopulate, Insert, Commit, Unregister)
// require the caller to hold that node's write lock. ReadNode requires the
// read lock.
type SpatialIndex interface {
	// Bounds returns the region covered by the index.
	Bounds() geom.Envelope
	// Root returns the root handle. It holds features too large to be
	// assigned to a single node.
	Root() NodeHandle
	// Resolve returns the nodes intersecting region, split by their validity
	// at the time of the call. Both lists are in ascending id order.
	Resolve(region geom.Envelope) (valid, invalid []NodeHandle)
	// ReadNode returns the cached features of h. The result is shared and
	// must not be modified.
	ReadNode(ctx context.Context, h NodeHandle) ([]*feature.Feature, error)
	// BeginPopulate marks h as being populated and discards its content.
	BeginPopulate(h NodeHandle)
	// Insert adds f to the node being populated. f is owned by the index.
	Insert(h NodeHandle, f *feature.Feature) error
	// Commit stores the populated content and marks h valid.
	Commit(ctx context.Context, h NodeHandle) error
	// Unregister abandons population of h. h stays invalid.
	Unregister(h NodeHandle)
	// Invalidate marks every node intersecting region invalid and returns
	// how many nodes changed state.
	Invalidate(region geom.Envelope) int
	// Clear invalidates every node and drops all content.
	Clear()
	// Flush persists buffered storage writes.
	Flush(ctx context.Context) error
	// Stats returns a snapshot of index statistics.
	Stats() Stats
	Close() error
}

// Stats is a snapshot of index statistics.
type Stats struct {
	Nodes           int    // total nodes, root excluded
	ValidNodes      int    // nodes with complete content
	PopulatingNodes int    // nodes currently being populated
	RootFeatures    int    // features stored on the root
	Commits         uint64 // successful populations
	Aborts          uint64 // abandoned populations
	Invalidations   uint64 // nodes invalidated by Invalidate or Clear
	Evictions       uint64 // nodes evicted to respect the node limit
	Expirations     uint64 // nodes found expired on access
}
