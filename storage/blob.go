package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/gridcache/blobstore"
	"github.com/hupe1980/gridcache/codec"
	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/internal/cache"
	"github.com/hupe1980/gridcache/resource"
)

// Page layout:
//
//	[magic "GCPG"][version u8][compression u8][codec len u8][codec name]
//	[block: uncompressed u32 | compressed u32 | payload]
const (
	pageMagic   = "GCPG"
	pageVersion = 1
)

var errBadPage = errors.New("storage: malformed page")

// page is the encoded body of a node page.
type page struct {
	Node     uint64             `json:"node"`
	Features []*feature.Feature `json:"features"`
}

// BlobOption configures a Blob storage.
type BlobOption func(*Blob)

// WithCodec sets the codec used for new pages. Existing pages are decoded
// with the codec named in their header.
func WithCodec(c codec.Codec) BlobOption {
	return func(b *Blob) {
		if c != nil {
			b.codec = c
		}
	}
}

// WithCompression sets the compression used for new pages.
func WithCompression(c Compression) BlobOption {
	return func(b *Blob) { b.compression = c }
}

// WithPrefix sets the blob name prefix (e.g. "layers/roads/").
func WithPrefix(prefix string) BlobOption {
	return func(b *Blob) { b.prefix = prefix }
}

// WithResourceController paces page IO and charges the page cache against
// the controller's memory budget.
func WithResourceController(rc *resource.Controller) BlobOption {
	return func(b *Blob) { b.rc = rc }
}

// WithPageCache keeps up to bytes of decompressed pages in memory.
func WithPageCache(bytes int64) BlobOption {
	return func(b *Blob) { b.pageCacheBytes = bytes }
}

// BlobStats reports page traffic.
type BlobStats struct {
	PagesRead    int64
	PagesWritten int64
	BytesRead    int64
	BytesWritten int64
	CacheHits    int64
	CacheMisses  int64
}

// Blob stores one page per node in a blobstore.BlobStore.
type Blob struct {
	store          blobstore.BlobStore
	codec          codec.Codec
	compression    Compression
	prefix         string
	rc             *resource.Controller
	pageCacheBytes int64
	pages          cache.BlockCache

	pagesRead    atomic.Int64
	pagesWritten atomic.Int64
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// NewBlob returns a storage writing pages to store.
func NewBlob(store blobstore.BlobStore, opts ...BlobOption) *Blob {
	b := &Blob{
		store:       store,
		codec:       codec.Default,
		compression: CompressionZstd,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.pageCacheBytes > 0 {
		b.pages = cache.NewShardedLRUBlockCache(b.pageCacheBytes, b.rc)
	}
	return b
}

func (b *Blob) name(id index.NodeID) string {
	return fmt.Sprintf("%s%016x.page", b.prefix, uint64(id))
}

func (b *Blob) cacheKey(id index.NodeID) cache.CacheKey {
	return cache.CacheKey{Kind: cache.CacheKindPage, Path: b.prefix, Offset: uint64(id)}
}

// Get reads and decodes the page of id.
func (b *Blob) Get(ctx context.Context, id index.NodeID) ([]*feature.Feature, error) {
	if b.pages != nil {
		if cached, ok := b.pages.Get(ctx, b.cacheKey(id)); ok {
			if c, body, ok := splitCached(cached); ok {
				return decodeBody(body, c)
			}
		}
	}

	raw, err := blobstore.ReadAll(ctx, b.store, b.name(id))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read page %s: %w", id, err)
	}
	if err := b.rc.AcquireIO(ctx, len(raw)); err != nil {
		return nil, err
	}
	b.pagesRead.Add(1)
	b.bytesRead.Add(int64(len(raw)))

	name, body, err := decodePage(raw)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", id, err)
	}
	c, ok := codec.ByName(name)
	if !ok {
		return nil, fmt.Errorf("page %s: unknown codec %q", id, name)
	}

	fs, err := decodeBody(body, c)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", id, err)
	}
	if b.pages != nil {
		b.pages.Set(ctx, b.cacheKey(id), encodeCached(name, body))
	}
	return fs, nil
}

func decodeBody(body []byte, c codec.Codec) ([]*feature.Feature, error) {
	var p page
	if err := c.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	if p.Features == nil {
		p.Features = []*feature.Feature{}
	}
	return p.Features, nil
}

// Cached pages are stored as [codec len u8][codec name][body].
func encodeCached(name string, body []byte) []byte {
	out := make([]byte, 0, 1+len(name)+len(body))
	out = append(out, byte(len(name)))
	out = append(out, name...)
	return append(out, body...)
}

func splitCached(cached []byte) (codec.Codec, []byte, bool) {
	if len(cached) == 0 {
		return nil, nil, false
	}
	n := int(cached[0])
	if len(cached) < 1+n {
		return nil, nil, false
	}
	c, ok := codec.ByName(string(cached[1 : 1+n]))
	return c, cached[1+n:], ok
}

// Put encodes fs and writes the page of id.
func (b *Blob) Put(ctx context.Context, id index.NodeID, fs []*feature.Feature) error {
	if fs == nil {
		fs = []*feature.Feature{}
	}
	body, err := b.codec.Marshal(page{Node: uint64(id), Features: fs})
	if err != nil {
		return fmt.Errorf("encode page %s: %w", id, err)
	}
	raw, err := encodePage(b.codec.Name(), b.compression, body)
	if err != nil {
		return fmt.Errorf("encode page %s: %w", id, err)
	}
	if err := b.rc.AcquireIO(ctx, len(raw)); err != nil {
		return err
	}
	if err := b.store.Put(ctx, b.name(id), raw); err != nil {
		return fmt.Errorf("write page %s: %w", id, err)
	}
	b.pagesWritten.Add(1)
	b.bytesWritten.Add(int64(len(raw)))

	if b.pages != nil {
		b.pages.Invalidate(func(k cache.CacheKey) bool { return k == b.cacheKey(id) })
	}
	return nil
}

// Delete removes the page of id.
func (b *Blob) Delete(ctx context.Context, id index.NodeID) error {
	if b.pages != nil {
		b.pages.Invalidate(func(k cache.CacheKey) bool { return k == b.cacheKey(id) })
	}
	if err := b.store.Delete(ctx, b.name(id)); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("delete page %s: %w", id, err)
	}
	return nil
}

// Flush is a no-op: pages are written synchronously by Put.
func (b *Blob) Flush(context.Context) error { return nil }

// Close releases the page cache. The blob store is owned by the caller.
func (b *Blob) Close() error {
	if b.pages != nil {
		return b.pages.Close()
	}
	return nil
}

// Stats returns page traffic counters.
func (b *Blob) Stats() BlobStats {
	s := BlobStats{
		PagesRead:    b.pagesRead.Load(),
		PagesWritten: b.pagesWritten.Load(),
		BytesRead:    b.bytesRead.Load(),
		BytesWritten: b.bytesWritten.Load(),
	}
	if b.pages != nil {
		s.CacheHits, s.CacheMisses = b.pages.Stats()
	}
	return s
}

func encodePage(codecName string, c Compression, body []byte) ([]byte, error) {
	if len(codecName) > 255 {
		return nil, fmt.Errorf("codec name too long: %q", codecName)
	}
	block, err := compressBlock(body, c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(pageMagic)+3+len(codecName)+len(block))
	out = append(out, pageMagic...)
	out = append(out, pageVersion, byte(c), byte(len(codecName)))
	out = append(out, codecName...)
	return append(out, block...), nil
}

// decodePage returns the codec name and decompressed body of raw.
func decodePage(raw []byte) (string, []byte, error) {
	const fixed = len(pageMagic) + 3
	if len(raw) < fixed || string(raw[:len(pageMagic)]) != pageMagic {
		return "", nil, errBadPage
	}
	if v := raw[len(pageMagic)]; v != pageVersion {
		return "", nil, fmt.Errorf("storage: unsupported page version %d", v)
	}
	c := Compression(raw[len(pageMagic)+1])
	n := int(raw[len(pageMagic)+2])
	if len(raw) < fixed+n+blockHeaderSize {
		return "", nil, errBadPage
	}
	name := string(raw[fixed : fixed+n])
	body, err := decompressBlock(raw[fixed+n:], c)
	if err != nil {
		return "", nil, err
	}
	return name, body, nil
}
