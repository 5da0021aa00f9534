package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gridcache/blobstore"
	"github.com/hupe1980/gridcache/codec"
	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/metadata"
	"github.com/hupe1980/gridcache/resource"
)

func sampleFeatures() []*feature.Feature {
	return []*feature.Feature{
		feature.New(1, geom.NewPoint(1, 2), metadata.Document{"class": metadata.String("road")}),
		feature.New(2, geom.NewLineString(geom.Point{X: 0, Y: 0}, geom.Point{X: 3, Y: 4}), metadata.Document{
			"lanes": metadata.Int(2),
			"speed": metadata.Float(13.5),
		}),
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, 7)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, 7, sampleFeatures()))
	fs, err := m.Get(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, fs, 2)

	require.NoError(t, m.Put(ctx, index.RootID, nil))
	fs, err = m.Get(ctx, index.RootID)
	require.NoError(t, err)
	assert.NotNil(t, fs)
	assert.Empty(t, fs)
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete(ctx, 7))
	_, err = m.Get(ctx, 7)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
}

func TestCompressBlock(t *testing.T) {
	data := bytes.Repeat([]byte("gridcache "), 200)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			block, err := compressBlock(data, c)
			require.NoError(t, err)
			if c != CompressionNone {
				assert.Less(t, len(block), len(data))
			}

			out, err := decompressBlock(block, c)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestCompressBlockIncompressible(t *testing.T) {
	data := []byte{0x01, 0x9f, 0x33, 0x70}

	block, err := compressBlock(data, CompressionZstd)
	require.NoError(t, err)
	assert.Len(t, block, blockHeaderSize+len(data))

	out, err := decompressBlock(block, CompressionZstd)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressBlockCorrupt(t *testing.T) {
	_, err := decompressBlock([]byte{1, 2}, CompressionLZ4)
	require.ErrorIs(t, err, errCorruptBlock)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)

	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	_, err = ParseCompression("brotli")
	require.Error(t, err)
}

func TestBlobRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			b := NewBlob(store, WithCompression(c), WithPrefix("roads/"))
			defer func() { _ = b.Close() }()

			require.NoError(t, b.Put(ctx, 42, sampleFeatures()))

			names, err := store.List(ctx, "roads/")
			require.NoError(t, err)
			assert.Equal(t, []string{"roads/000000000000002a.page"}, names)

			fs, err := b.Get(ctx, 42)
			require.NoError(t, err)
			require.Len(t, fs, 2)
			assert.Equal(t, feature.ID(1), fs[0].ID)
			assert.Equal(t, "road", fs[0].Attributes["class"].StringValue())
			assert.Equal(t, metadata.Int(2), fs[1].Attributes["lanes"])
			assert.True(t, fs[1].Envelope().Equal(geom.NewEnvelope(0, 0, 3, 4)))
		})
	}
}

func TestBlobNotFound(t *testing.T) {
	b := NewBlob(blobstore.NewMemoryStore())
	_, err := b.Get(context.Background(), 3)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBlobDelete(t *testing.T) {
	ctx := context.Background()
	b := NewBlob(blobstore.NewMemoryStore(), WithPageCache(1<<20))

	require.NoError(t, b.Put(ctx, 1, sampleFeatures()))
	_, err := b.Get(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, 1))
	_, err = b.Get(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	require.NoError(t, b.Delete(ctx, 1))
}

func TestBlobPageCache(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	b := NewBlob(blobstore.NewMemoryStore(), WithPageCache(1<<20), WithResourceController(rc))
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Put(ctx, 5, sampleFeatures()))

	for range 3 {
		fs, err := b.Get(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, fs, 2)
	}

	st := b.Stats()
	assert.Equal(t, int64(1), st.PagesRead)
	assert.Equal(t, int64(1), st.PagesWritten)
	assert.Equal(t, int64(2), st.CacheHits)
	assert.Positive(t, rc.MemoryUsage())

	// A rewrite must not be served from the stale cached page.
	require.NoError(t, b.Put(ctx, 5, sampleFeatures()[:1]))
	fs, err := b.Get(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, fs, 1)
}

func TestBlobReadsOtherCodec(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	w := NewBlob(store, WithCodec(codec.JSON{}), WithCompression(CompressionLZ4))
	require.NoError(t, w.Put(ctx, 9, sampleFeatures()))

	r := NewBlob(store, WithCodec(codec.GoJSON{}), WithCompression(CompressionZstd))
	fs, err := r.Get(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, fs, 2)
}

func TestBlobMalformedPage(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "0000000000000001.page", []byte("not a page")))

	b := NewBlob(store)
	_, err := b.Get(ctx, 1)
	require.ErrorIs(t, err, errBadPage)
}

func TestBlobLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	b := NewBlob(store, WithPrefix("layer/"))
	require.NoError(t, b.Put(ctx, index.RootID, sampleFeatures()))

	fs, err := b.Get(ctx, index.RootID)
	require.NoError(t, err)
	assert.Len(t, fs, 2)
}
