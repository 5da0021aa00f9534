package storage

import (
	"context"
	"sync"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/index"
)

// Memory keeps node content in process memory.
type Memory struct {
	mu    sync.RWMutex
	nodes map[index.NodeID][]*feature.Feature
}

// NewMemory returns an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[index.NodeID][]*feature.Feature)}
}

// Get returns the stored features of id.
func (m *Memory) Get(_ context.Context, id index.NodeID) ([]*feature.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fs, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return fs, nil
}

// Put stores fs as the content of id. The slice is retained.
func (m *Memory) Put(_ context.Context, id index.NodeID, fs []*feature.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fs == nil {
		fs = []*feature.Feature{}
	}
	m.nodes[id] = fs
	return nil
}

// Delete removes the content of id.
func (m *Memory) Delete(_ context.Context, id index.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, id)
	return nil
}

// Flush is a no-op.
func (m *Memory) Flush(context.Context) error { return nil }

// Close drops all content.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.nodes)
	return nil
}

// Len returns the number of stored nodes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
