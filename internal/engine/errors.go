package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/gridcache/index"
)

var (
	// ErrClosed is returned when a query is started on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrLockTimeout is returned when a node lock could not be taken within
	// the configured lock timeout.
	ErrLockTimeout = errors.New("lock wait timed out")

	// ErrSchemaAdaptation is returned when no output schema can be computed
	// for a query (unknown property, unknown type, no CRS transform).
	ErrSchemaAdaptation = errors.New("schema adaptation failed")

	// ErrUnsupportedQuery is returned for queries the merge protocol cannot
	// answer: an explicit sort order or a non-zero start index.
	ErrUnsupportedQuery = errors.New("unsupported query")
)

// LockError reports a node lock that could not be acquired.
// The node is served from the backend without caching.
type LockError struct {
	Node  index.NodeID
	Write bool
	Err   error
}

func (e *LockError) Error() string {
	kind := "read"
	if e.Write {
		kind = "write"
	}
	return fmt.Sprintf("%s lock on node %s: %v", kind, e.Node, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// BackendError reports a failed backend request. The affected nodes are
// left uncached and the request yields no features.
type BackendError struct {
	Nodes int
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend request for %d nodes: %v", e.Nodes, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
