package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
)

// LockCounter wraps a SpatialIndex and counts lock operations per node.
type LockCounter struct {
	index.SpatialIndex

	mu      sync.Mutex
	handles map[index.NodeID]*CountingHandle
}

var _ index.SpatialIndex = (*LockCounter)(nil)

// NewLockCounter wraps idx.
func NewLockCounter(idx index.SpatialIndex) *LockCounter {
	return &LockCounter{
		SpatialIndex: idx,
		handles:      make(map[index.NodeID]*CountingHandle),
	}
}

// CountingHandle is a NodeHandle that counts its lock operations.
type CountingHandle struct {
	index.NodeHandle

	RLocks, RUnlocks atomic.Int64
	Locks, Unlocks   atomic.Int64
	Begins, Ends     atomic.Int64
}

// RLock implements index.NodeHandle.
func (h *CountingHandle) RLock() {
	h.NodeHandle.RLock()
	h.RLocks.Add(1)
}

// RUnlock implements index.NodeHandle.
func (h *CountingHandle) RUnlock() {
	h.RUnlocks.Add(1)
	h.NodeHandle.RUnlock()
}

// TryRLock implements index.NodeHandle.
func (h *CountingHandle) TryRLock() bool {
	if !h.NodeHandle.TryRLock() {
		return false
	}
	h.RLocks.Add(1)
	return true
}

// Lock implements index.NodeHandle.
func (h *CountingHandle) Lock() {
	h.NodeHandle.Lock()
	h.Locks.Add(1)
}

// Unlock implements index.NodeHandle.
func (h *CountingHandle) Unlock() {
	h.Unlocks.Add(1)
	h.NodeHandle.Unlock()
}

// TryLock implements index.NodeHandle.
func (h *CountingHandle) TryLock() bool {
	if !h.NodeHandle.TryLock() {
		return false
	}
	h.Locks.Add(1)
	return true
}

func (c *LockCounter) wrap(h index.NodeHandle) index.NodeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.handles[h.ID()]
	if !ok {
		ch = &CountingHandle{NodeHandle: h}
		c.handles[h.ID()] = ch
	}
	return ch
}

func (c *LockCounter) wrapAll(hs []index.NodeHandle) []index.NodeHandle {
	out := make([]index.NodeHandle, len(hs))
	for i, h := range hs {
		out[i] = c.wrap(h)
	}
	return out
}

func unwrap(h index.NodeHandle) index.NodeHandle {
	if ch, ok := h.(*CountingHandle); ok {
		return ch.NodeHandle
	}
	return h
}

func counting(h index.NodeHandle) *CountingHandle {
	ch, _ := h.(*CountingHandle)
	return ch
}

// Root implements index.SpatialIndex.
func (c *LockCounter) Root() index.NodeHandle {
	return c.wrap(c.SpatialIndex.Root())
}

// Resolve implements index.SpatialIndex.
func (c *LockCounter) Resolve(region geom.Envelope) (valid, invalid []index.NodeHandle) {
	valid, invalid = c.SpatialIndex.Resolve(region)
	return c.wrapAll(valid), c.wrapAll(invalid)
}

// ReadNode implements index.SpatialIndex.
func (c *LockCounter) ReadNode(ctx context.Context, h index.NodeHandle) ([]*feature.Feature, error) {
	return c.SpatialIndex.ReadNode(ctx, unwrap(h))
}

// BeginPopulate implements index.SpatialIndex.
func (c *LockCounter) BeginPopulate(h index.NodeHandle) {
	if ch := counting(h); ch != nil {
		ch.Begins.Add(1)
	}
	c.SpatialIndex.BeginPopulate(unwrap(h))
}

// Insert implements index.SpatialIndex.
func (c *LockCounter) Insert(h index.NodeHandle, f *feature.Feature) error {
	return c.SpatialIndex.Insert(unwrap(h), f)
}

// Commit implements index.SpatialIndex.
func (c *LockCounter) Commit(ctx context.Context, h index.NodeHandle) error {
	if ch := counting(h); ch != nil {
		ch.Ends.Add(1)
	}
	return c.SpatialIndex.Commit(ctx, unwrap(h))
}

// Unregister implements index.SpatialIndex.
func (c *LockCounter) Unregister(h index.NodeHandle) {
	if ch := counting(h); ch != nil {
		ch.Ends.Add(1)
	}
	c.SpatialIndex.Unregister(unwrap(h))
}

// Handle returns the counting handle of id, if it was ever handed out.
func (c *LockCounter) Handle(id index.NodeID) (*CountingHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

// Touched returns the ids of every node handed out, in ascending order.
func (c *LockCounter) Touched() []index.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]index.NodeID, 0, len(c.handles))
	for id := range c.handles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CheckBalanced returns an error naming the first node whose lock and
// unlock counts differ, or whose populate was neither committed nor
// unregistered.
func (c *LockCounter) CheckBalanced() error {
	for _, id := range c.Touched() {
		h, _ := c.Handle(id)
		if rl, ru := h.RLocks.Load(), h.RUnlocks.Load(); rl != ru {
			return fmt.Errorf("node %s: %d read locks, %d read unlocks", id, rl, ru)
		}
		if l, u := h.Locks.Load(), h.Unlocks.Load(); l != u {
			return fmt.Errorf("node %s: %d write locks, %d write unlocks", id, l, u)
		}
		if b, e := h.Begins.Load(), h.Ends.Load(); b != e {
			return fmt.Errorf("node %s: %d populates begun, %d ended", id, b, e)
		}
	}
	return nil
}
