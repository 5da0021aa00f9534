package storage

import (
	"context"
	"errors"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/index"
)

// ErrNotFound is returned by Get for a node without stored content.
var ErrNotFound = errors.New("storage: node not found")

// Storage persists the content of index nodes.
//
// Put replaces the whole content of a node. Get returns features that are
// shared with other readers and must not be modified.
// Implementations must be safe for concurrent use; writes to one node are
// serialized by the caller.
type Storage interface {
	Get(ctx context.Context, id index.NodeID) ([]*feature.Feature, error)
	Put(ctx context.Context, id index.NodeID, fs []*feature.Feature) error
	Delete(ctx context.Context, id index.NodeID) error
	Flush(ctx context.Context) error
	Close() error
}
