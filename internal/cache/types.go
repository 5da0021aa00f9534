package cache

import (
	"context"
)

// CacheKind separates key spaces sharing one cache.
type CacheKind uint8

const (
	CacheKindUnknown CacheKind = iota
	CacheKindBlob              // raw blob store blocks
	CacheKindPage              // decompressed node pages
)

// CacheKey identifies a cached block.
type CacheKey struct {
	Kind CacheKind
	// Path identifies the source (blob name or storage prefix).
	Path string
	// Offset is a logical block identifier (block index or node id).
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	// Set caches a block. The cache retains b; callers must not modify it.
	Set(ctx context.Context, key CacheKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key CacheKey) bool)
	// Close releases any resources.
	Close() error
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}

// MatchPath returns an Invalidate predicate for every block of path.
func MatchPath(kind CacheKind, path string) func(CacheKey) bool {
	return func(k CacheKey) bool {
		return k.Kind == kind && k.Path == path
	}
}
