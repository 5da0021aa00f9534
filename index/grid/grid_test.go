package grid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gridcache/blobstore"
	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/storage"
)

func newTestGrid(t *testing.T, opts ...Option) *Index {
	t.Helper()
	x, err := New(geom.NewEnvelope(0, 0, 40, 40), 4, 4, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func point(id feature.ID, px, py float64) *feature.Feature {
	return feature.New(id, geom.NewPoint(px, py), nil)
}

func ids(hs []index.NodeHandle) []index.NodeID {
	out := make([]index.NodeID, len(hs))
	for i, h := range hs {
		out[i] = h.ID()
	}
	return out
}

// populate fills h with fs under its write lock and commits.
func populate(t *testing.T, x *Index, h index.NodeHandle, fs ...*feature.Feature) {
	t.Helper()
	h.Lock()
	defer h.Unlock()

	x.BeginPopulate(h)
	for _, f := range fs {
		require.NoError(t, x.Insert(h, f))
	}
	require.NoError(t, x.Commit(context.Background(), h))
}

func read(t *testing.T, x *Index, h index.NodeHandle) []*feature.Feature {
	t.Helper()
	h.RLock()
	defer h.RUnlock()

	fs, err := x.ReadNode(context.Background(), h)
	require.NoError(t, err)
	return fs
}

func TestNewInvalid(t *testing.T) {
	_, err := New(geom.Empty(), 2, 2)
	require.ErrorIs(t, err, ErrInvalidGrid)

	_, err = New(geom.Infinite(), 2, 2)
	require.ErrorIs(t, err, ErrInvalidGrid)

	_, err = New(geom.NewEnvelope(0, 0, 1, 1), 0, 2)
	require.ErrorIs(t, err, ErrInvalidGrid)

	_, err = New(geom.NewEnvelope(0, 0, 1, 1), MaxCells, 2)
	require.ErrorIs(t, err, ErrInvalidGrid)
}

func TestCellShapes(t *testing.T) {
	x := newTestGrid(t)

	h, ok := x.Node(5)
	require.True(t, ok)
	assert.True(t, h.Shape().Equal(geom.NewEnvelope(10, 10, 20, 20)))

	_, ok = x.Node(16)
	assert.False(t, ok)

	root, ok := x.Node(index.RootID)
	require.True(t, ok)
	assert.Equal(t, x.Root(), root)
	assert.True(t, root.IsValid())
	assert.Equal(t, "root", root.ID().String())
}

func TestResolve(t *testing.T) {
	x := newTestGrid(t)

	valid, invalid := x.Resolve(geom.NewEnvelope(1, 1, 15, 5))
	assert.Empty(t, valid)
	assert.Equal(t, []index.NodeID{0, 1}, ids(invalid))

	// Touching cells are included.
	_, invalid = x.Resolve(geom.NewEnvelope(1, 1, 10, 10))
	assert.Equal(t, []index.NodeID{0, 1, 4, 5}, ids(invalid))

	// Outside the bounds.
	valid, invalid = x.Resolve(geom.NewEnvelope(100, 100, 110, 110))
	assert.Empty(t, valid)
	assert.Empty(t, invalid)

	_, invalid = x.Resolve(geom.Infinite())
	assert.Len(t, invalid, 16)
}

func TestPopulateAndRead(t *testing.T) {
	x := newTestGrid(t)
	_, invalid := x.Resolve(geom.NewEnvelope(1, 1, 5, 5))
	require.Len(t, invalid, 1)
	h := invalid[0]

	populate(t, x, h, point(1, 2, 2), point(2, 3, 3), point(1, 2, 2))
	assert.True(t, h.IsValid())

	valid, invalid := x.Resolve(geom.NewEnvelope(1, 1, 5, 5))
	assert.Equal(t, []index.NodeID{0}, ids(valid))
	assert.Empty(t, invalid)

	fs := read(t, x, h)
	require.Len(t, fs, 2)
	assert.Equal(t, feature.ID(1), fs[0].ID)
	assert.Equal(t, feature.ID(2), fs[1].ID)

	st := x.Stats()
	assert.Equal(t, 16, st.Nodes)
	assert.Equal(t, 1, st.ValidNodes)
	assert.Equal(t, uint64(1), st.Commits)
}

func TestPopulateEmptyNode(t *testing.T) {
	x := newTestGrid(t)
	h, _ := x.Node(3)

	populate(t, x, h)
	assert.True(t, h.IsValid())
	assert.Empty(t, read(t, x, h))
}

func TestInsertRequiresPopulate(t *testing.T) {
	x := newTestGrid(t)
	h, _ := x.Node(0)

	h.Lock()
	defer h.Unlock()
	require.ErrorIs(t, x.Insert(h, point(1, 1, 1)), index.ErrNotPopulating)
	require.ErrorIs(t, x.Commit(context.Background(), h), index.ErrNotPopulating)
}

func TestUnregister(t *testing.T) {
	x := newTestGrid(t)
	h, _ := x.Node(0)

	h.Lock()
	x.BeginPopulate(h)
	require.NoError(t, x.Insert(h, point(1, 1, 1)))
	assert.Equal(t, 1, x.Stats().PopulatingNodes)
	x.Unregister(h)
	x.Unregister(h)
	h.Unlock()

	assert.False(t, h.IsValid())
	st := x.Stats()
	assert.Equal(t, 0, st.PopulatingNodes)
	assert.Equal(t, uint64(1), st.Aborts)
}

func TestInvalidate(t *testing.T) {
	x := newTestGrid(t)
	a, _ := x.Node(0)
	b, _ := x.Node(1)
	populate(t, x, a, point(1, 1, 1))
	populate(t, x, b, point(2, 11, 1))

	n := x.Invalidate(geom.NewEnvelope(1, 1, 2, 2))
	assert.Equal(t, 1, n)
	assert.False(t, a.IsValid())
	assert.True(t, b.IsValid())
	assert.Equal(t, uint64(1), x.Stats().Invalidations)

	// Already invalid.
	assert.Equal(t, 0, x.Invalidate(geom.NewEnvelope(1, 1, 2, 2)))
}

func TestInvalidateDuringPopulate(t *testing.T) {
	x := newTestGrid(t)
	h, _ := x.Node(0)

	h.Lock()
	x.BeginPopulate(h)
	require.NoError(t, x.Insert(h, point(1, 1, 1)))

	// A concurrent invalidation must win over the running populate.
	x.Invalidate(h.Shape())

	require.NoError(t, x.Commit(context.Background(), h))
	h.Unlock()

	assert.False(t, h.IsValid())
	assert.Equal(t, uint64(1), x.Stats().Aborts)
}

func TestInvalidateDuringPopulateKeepsRootClean(t *testing.T) {
	x := newTestGrid(t, WithMaxSpan(1))
	h, _ := x.Node(0)
	// Spans cells 0, 1 and 2.
	big := feature.New(9, geom.FromEnvelope(geom.NewEnvelope(5, 1, 25, 5)), nil)

	h.Lock()
	x.BeginPopulate(h)
	require.NoError(t, x.Insert(h, point(1, 1, 1)))
	require.NoError(t, x.Insert(h, big))

	x.Invalidate(geom.NewEnvelope(0, 0, 40, 40))

	require.NoError(t, x.Commit(context.Background(), h))
	h.Unlock()

	assert.False(t, h.IsValid())
	assert.Empty(t, read(t, x, x.Root()))
	assert.Equal(t, 0, x.Stats().RootFeatures)

	// An invalidation elsewhere does not abort the populate.
	h.Lock()
	x.BeginPopulate(h)
	require.NoError(t, x.Insert(h, big))
	x.Invalidate(geom.NewEnvelope(31, 31, 39, 39))
	require.NoError(t, x.Commit(context.Background(), h))
	h.Unlock()

	assert.True(t, h.IsValid())
	assert.Len(t, read(t, x, x.Root()), 1)
}

func TestClear(t *testing.T) {
	x := newTestGrid(t, WithMaxSpan(2))
	a, _ := x.Node(0)
	b, _ := x.Node(5)
	big := feature.New(9, geom.FromEnvelope(geom.NewEnvelope(1, 1, 35, 35)), nil)
	populate(t, x, a, point(1, 1, 1), big)
	populate(t, x, b, point(2, 15, 15))

	x.Clear()
	st := x.Stats()
	assert.Equal(t, 0, st.ValidNodes)
	assert.Equal(t, 0, st.RootFeatures)
	assert.Equal(t, uint64(2), st.Invalidations)
}

func TestOversizedFeaturesGoToRoot(t *testing.T) {
	x := newTestGrid(t, WithMaxSpan(2))
	a, _ := x.Node(0)
	big := feature.New(9, geom.FromEnvelope(geom.NewEnvelope(1, 1, 25, 5)), nil)

	populate(t, x, a, point(1, 1, 1), big)

	assert.Len(t, read(t, x, a), 1)
	root := read(t, x, x.Root())
	require.Len(t, root, 1)
	assert.Equal(t, feature.ID(9), root[0].ID)
	assert.Equal(t, 1, x.Stats().RootFeatures)

	// Another cell inserting the same feature keeps a single root copy.
	b, _ := x.Node(1)
	populate(t, x, b, big)
	assert.Len(t, read(t, x, x.Root()), 1)
	assert.Empty(t, read(t, x, b))
}

func TestInvalidateExpandsThroughRootFeatures(t *testing.T) {
	x := newTestGrid(t, WithMaxSpan(1))
	// Spans cells 0, 1 and 2 (x in [5, 25]).
	big := feature.New(9, geom.FromEnvelope(geom.NewEnvelope(5, 1, 25, 5)), nil)
	for _, id := range []index.NodeID{0, 1, 2, 3} {
		h, _ := x.Node(id)
		populate(t, x, h, big)
	}

	// Invalidating cell 0 also invalidates cells 1 and 2, which relied on the
	// dropped root copy. Cell 3 is untouched.
	n := x.Invalidate(geom.NewEnvelope(6, 1, 7, 2))
	assert.Equal(t, 3, n)
	assert.Empty(t, read(t, x, x.Root()))

	h3, _ := x.Node(3)
	assert.True(t, h3.IsValid())
}

func TestTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	x := newTestGrid(t, WithTTL(time.Minute), WithClock(clock), WithMaxSpan(1))

	h, _ := x.Node(0)
	big := feature.New(9, geom.FromEnvelope(geom.NewEnvelope(1, 1, 25, 5)), nil)
	populate(t, x, h, point(1, 1, 1), big)
	assert.True(t, h.IsValid())
	assert.Len(t, read(t, x, x.Root()), 1)

	now = now.Add(2 * time.Minute)
	assert.False(t, h.IsValid())
	assert.Empty(t, read(t, x, x.Root()))

	valid, invalid := x.Resolve(h.Shape())
	assert.Empty(t, valid)
	assert.NotEmpty(t, invalid)
	assert.Equal(t, uint64(1), x.Stats().Expirations)

	// Repopulating makes it valid again.
	populate(t, x, h, point(1, 1, 1))
	assert.True(t, h.IsValid())
}

func TestEviction(t *testing.T) {
	x := newTestGrid(t, WithMaxNodes(2))
	a, _ := x.Node(0)
	b, _ := x.Node(1)
	c, _ := x.Node(2)

	populate(t, x, a, point(1, 1, 1))
	populate(t, x, b, point(2, 11, 1))
	read(t, x, a) // a is now more recent than b

	populate(t, x, c, point(3, 21, 1))

	assert.True(t, a.IsValid())
	assert.False(t, b.IsValid())
	assert.True(t, c.IsValid())
	assert.Equal(t, uint64(1), x.Stats().Evictions)
}

func TestEvictionSkipsBusyNodes(t *testing.T) {
	x := newTestGrid(t, WithMaxNodes(1))
	a, _ := x.Node(0)
	b, _ := x.Node(1)
	populate(t, x, a, point(1, 1, 1))

	a.RLock()
	populate(t, x, b, point(2, 11, 1))
	a.RUnlock()

	// a is read-locked and cannot be evicted; b is write-locked by its own
	// commit. Both stay valid until the next commit.
	assert.True(t, a.IsValid())
	assert.True(t, b.IsValid())
	assert.Equal(t, uint64(0), x.Stats().Evictions)
}

func TestBlobStorage(t *testing.T) {
	store := blobstore.NewMemoryStore()
	x := newTestGrid(t, WithStorage(storage.NewBlob(store, storage.WithCompression(storage.CompressionLZ4))))

	h, _ := x.Node(6)
	populate(t, x, h, point(1, 21, 11), point(2, 22, 12))
	assert.Equal(t, 1, store.Len())

	fs := read(t, x, h)
	require.Len(t, fs, 2)
	assert.Equal(t, feature.ID(2), fs[1].ID)

	x.Invalidate(h.Shape())
	assert.Equal(t, 0, store.Len())
}

func TestClosed(t *testing.T) {
	x := newTestGrid(t)
	h, _ := x.Node(0)
	require.NoError(t, x.Close())
	require.NoError(t, x.Close())

	_, err := x.ReadNode(context.Background(), h)
	require.ErrorIs(t, err, index.ErrClosed)
	require.ErrorIs(t, x.Flush(context.Background()), index.ErrClosed)

	valid, invalid := x.Resolve(geom.Infinite())
	assert.Empty(t, valid)
	assert.Empty(t, invalid)
}

func TestForeignHandlePanics(t *testing.T) {
	x := newTestGrid(t)
	y := newTestGrid(t)
	h, _ := y.Node(0)

	assert.Panics(t, func() { x.BeginPopulate(h) })
}

func TestConcurrentPopulateAndRead(t *testing.T) {
	x := newTestGrid(t, WithMaxNodes(8))

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Go(func() {
			for i := range 50 {
				id := index.NodeID((w + i) % 16)
				h, _ := x.Node(id)
				if h.TryLock() {
					x.BeginPopulate(h)
					_ = x.Insert(h, point(feature.ID(i), h.Shape().Center().X, h.Shape().Center().Y))
					_ = x.Commit(context.Background(), h)
					h.Unlock()
					continue
				}
				h.RLock()
				if h.IsValid() {
					_, err := x.ReadNode(context.Background(), h)
					assert.NoError(t, err)
				}
				h.RUnlock()
				if i%10 == 0 {
					x.Invalidate(h.Shape())
				}
			}
		})
	}
	wg.Wait()

	st := x.Stats()
	assert.LessOrEqual(t, st.ValidNodes, 16)
	assert.Equal(t, 0, st.PopulatingNodes)
}
