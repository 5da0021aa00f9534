package engine

import (
	"cmp"
	"context"
	"slices"

	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
)

// lockSet holds the nodes of one query.
//
// found nodes are read-locked and valid. missing nodes are write-locked and
// being populated. passthrough nodes hold no lock; their region is read from
// the backend and never cached.
type lockSet struct {
	found       []index.NodeHandle
	missing     []index.NodeHandle
	passthrough []index.NodeHandle
}

// fetchNodes returns the nodes that must be read from the backend, in
// ascending id order.
func (ls *lockSet) fetchNodes() []index.NodeHandle {
	nodes := make([]index.NodeHandle, 0, len(ls.missing)+len(ls.passthrough))
	nodes = append(nodes, ls.missing...)
	nodes = append(nodes, ls.passthrough...)
	slices.SortFunc(nodes, byID)
	return nodes
}

// abort releases every lock and abandons every population.
func (ls *lockSet) abort(idx index.SpatialIndex) {
	for _, h := range ls.found {
		h.RUnlock()
	}
	for _, h := range ls.missing {
		idx.Unregister(h)
		h.Unlock()
	}
	ls.found, ls.missing = nil, nil
}

func byID(a, b index.NodeHandle) int {
	return cmp.Compare(a.ID(), b.ID())
}

// acquire classifies the nodes intersecting region into found and missing
// and takes their locks.
//
// The optimistic phase read-locks the nodes that appear valid. If every
// node turns out valid the query is a pure cache hit. Otherwise all read
// locks are dropped and a single pessimistic pass, in ascending node id
// order, read-locks valid nodes and write-locks the rest. A node found
// valid under its write lock was populated by another caller in between;
// it is downgraded by unlocking and read-locking again, never in place.
//
// With populate false, missing nodes become passthrough and no write lock
// is taken.
//
// On error (only ctx errors) or panic every lock taken so far is released.
func (e *Engine) acquire(ctx context.Context, region geom.Envelope, populate bool) (*lockSet, error) {
	valid, invalid := e.idx.Resolve(region)
	ls := &lockSet{}

	done := false
	defer func() {
		if !done {
			ls.abort(e.idx)
		}
	}()

	missing := slices.Clone(invalid)
	for _, h := range valid {
		if err := e.lock(ctx, h, false); err != nil {
			if !isLockError(err) {
				return nil, err
			}
			e.lockFailed(h, false, err)
			ls.passthrough = append(ls.passthrough, h)
			continue
		}
		if !h.IsValid() {
			h.RUnlock()
			missing = append(missing, h)
			continue
		}
		ls.found = append(ls.found, h)
	}

	if len(missing) == 0 {
		done = true
		return ls, nil
	}
	if !populate {
		ls.passthrough = append(ls.passthrough, missing...)
		slices.SortFunc(ls.passthrough, byID)
		done = true
		return ls, nil
	}

	candidates := make([]index.NodeHandle, 0, len(ls.found)+len(missing))
	candidates = append(candidates, ls.found...)
	candidates = append(candidates, missing...)
	slices.SortFunc(candidates, byID)

	wasFound := make(map[index.NodeID]bool, len(ls.found))
	for _, h := range ls.found {
		wasFound[h.ID()] = true
		h.RUnlock()
	}
	ls.found = nil

	for _, h := range candidates {
		if wasFound[h.ID()] {
			ok, err := e.readValid(ctx, ls, h)
			if err != nil {
				return nil, err
			}
			if ok {
				continue
			}
		}
		if err := e.claim(ctx, ls, h); err != nil {
			return nil, err
		}
	}

	done = true
	return ls, nil
}

// readValid read-locks h and keeps it as found if it is still valid.
// It reports false, holding no lock, when h must be populated.
func (e *Engine) readValid(ctx context.Context, ls *lockSet, h index.NodeHandle) (bool, error) {
	if err := e.lock(ctx, h, false); err != nil {
		if !isLockError(err) {
			return false, err
		}
		e.lockFailed(h, false, err)
		ls.passthrough = append(ls.passthrough, h)
		return true, nil
	}
	if h.IsValid() {
		ls.found = append(ls.found, h)
		return true, nil
	}
	h.RUnlock()
	return false, nil
}

// claim write-locks h and marks it as being populated, unless another
// caller populated it first.
func (e *Engine) claim(ctx context.Context, ls *lockSet, h index.NodeHandle) error {
	if err := e.lock(ctx, h, true); err != nil {
		if !isLockError(err) {
			return err
		}
		e.lockFailed(h, true, err)
		ls.passthrough = append(ls.passthrough, h)
		return nil
	}

	if !h.IsValid() {
		e.idx.BeginPopulate(h)
		ls.missing = append(ls.missing, h)
		return nil
	}

	h.Unlock()
	if err := e.lock(ctx, h, false); err != nil {
		if !isLockError(err) {
			return err
		}
		e.lockFailed(h, false, err)
		ls.passthrough = append(ls.passthrough, h)
		return nil
	}
	if h.IsValid() {
		ls.found = append(ls.found, h)
		return nil
	}
	// Invalidated again while unlocked. Serve it uncached rather than loop.
	h.RUnlock()
	ls.passthrough = append(ls.passthrough, h)
	return nil
}
