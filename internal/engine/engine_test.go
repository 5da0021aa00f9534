package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/index/grid"
	"github.com/hupe1980/gridcache/metadata"
	"github.com/hupe1980/gridcache/source/memory"
	"github.com/hupe1980/gridcache/testutil"
	"github.com/hupe1980/gridcache/transform"
)

var errBackend = errors.New("backend down")

var testSchema = &feature.Schema{
	Name:         "poi",
	GeometryName: "geom",
	CRS:          transform.WGS84,
	Attributes: []feature.AttributeDescriptor{
		{Name: "name", Kind: metadata.KindString},
		{Name: "class", Kind: metadata.KindString},
		{Name: "rank", Kind: metadata.KindInt},
	},
}

type fixture struct {
	grid *grid.Index
	idx  *testutil.LockCounter
	mem  *memory.Source
	src  *testutil.CountingSource
	eng  *Engine
}

func newFixture(t *testing.T, bounds geom.Envelope, cols, rows int, fs []*feature.Feature, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithGrid(t, bounds, cols, rows, nil, fs, opts...)
}

func newFixtureWithGrid(t *testing.T, bounds geom.Envelope, cols, rows int, gopts []grid.Option, fs []*feature.Feature, opts ...Option) *fixture {
	t.Helper()

	g, err := grid.New(bounds, cols, rows, gopts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	f := &fixture{
		grid: g,
		idx:  testutil.NewLockCounter(g),
		mem:  memory.New(testSchema, fs...),
	}
	f.src = testutil.NewCountingSource(f.mem)

	f.eng, err = New(context.Background(), f.idx, f.src, opts...)
	require.NoError(t, err)
	return f
}

// threeCells is a 3x1 grid of 10x10 cells over (0,0)-(30,10).
func threeCells(t *testing.T, fs []*feature.Feature, opts ...Option) *fixture {
	t.Helper()
	return newFixture(t, geom.NewEnvelope(0, 0, 30, 10), 3, 1, fs, opts...)
}

// tenPoints places ids 1-3 in cell 0, 4-7 in cell 1 and 8-10 in cell 2.
func tenPoints() []*feature.Feature {
	return testutil.Features(
		1, 1, 5, 5, 8, 2,
		11, 1, 12, 5, 15, 5, 18, 8,
		21, 1, 25, 5, 28, 9,
	)
}

func (f *fixture) query(t *testing.T, q filter.Query) []*feature.Feature {
	t.Helper()
	it, err := f.eng.Open(context.Background(), q)
	require.NoError(t, err)
	fs, err := feature.Collect(it)
	require.NoError(t, err)
	require.NoError(t, f.idx.CheckBalanced())
	return fs
}

func (f *fixture) valid(t *testing.T, id index.NodeID) bool {
	t.Helper()
	h, ok := f.grid.Node(id)
	require.True(t, ok)
	return h.IsValid()
}

func sortedIDs(fs []*feature.Feature) []feature.ID {
	ids := testutil.IDs(fs)
	slices.Sort(ids)
	return ids
}

func idRange(from, to feature.ID) []feature.ID {
	var out []feature.ID
	for id := from; id <= to; id++ {
		out = append(out, id)
	}
	return out
}

func cellBox(x0 float64) filter.Filter {
	return filter.BBox(geom.NewEnvelope(x0, 0, x0+10, 10))
}

func TestScenario(t *testing.T) {
	f := threeCells(t, tenPoints())

	// Warm cell 0 only.
	warm := f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 9, 9))})
	assert.Equal(t, []feature.ID{1, 2, 3}, sortedIDs(warm))
	require.True(t, f.valid(t, 0))
	require.False(t, f.valid(t, 1))
	require.False(t, f.valid(t, 2))
	f.src.Reset()

	fs := f.query(t, filter.All())
	assert.Equal(t, idRange(1, 10), sortedIDs(fs))

	queries := f.src.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, filter.Or(cellBox(10), cellBox(20)), queries[0].Filter)

	f.src.Reset()
	again := f.query(t, filter.All())
	assert.Equal(t, idRange(1, 10), sortedIDs(again))
	assert.Zero(t, f.src.Calls())

	st := f.eng.Stats()
	assert.Equal(t, uint64(3), st.Queries)
	assert.Equal(t, uint64(1), st.CacheHits)
	assert.Equal(t, uint64(2), st.BackendFetches)
	assert.Equal(t, uint64(3), st.Populated)
}

func TestNoDuplicates(t *testing.T) {
	bounds := geom.NewEnvelope(0, 0, 100, 100)
	rng := testutil.NewRNG(7)
	fs := rng.BoxFeatures(1, 200, bounds, 30)

	for _, maxSpan := range []int{0, 2} {
		f := newFixtureWithGrid(t, bounds, 5, 5, []grid.Option{grid.WithMaxSpan(maxSpan)}, fs)

		for _, region := range []geom.Envelope{
			geom.NewEnvelope(10, 10, 45, 45),
			geom.NewEnvelope(0, 0, 100, 100),
			geom.NewEnvelope(30, 30, 70, 90),
		} {
			q := filter.Query{Filter: filter.BBox(region)}
			want, err := feature.Collect(mustFeatures(t, f.mem, q))
			require.NoError(t, err)

			for range 2 {
				got := f.query(t, q)
				ids := testutil.IDs(got)
				assert.Len(t, ids, len(slices.Compact(slices.Sorted(slices.Values(ids)))), "duplicate ids in %s", region)
				assert.Equal(t, sortedIDs(want), sortedIDs(got))
			}
		}
	}
}

func mustFeatures(t *testing.T, src *memory.Source, q filter.Query) feature.Iterator {
	t.Helper()
	it, err := src.Features(context.Background(), q)
	require.NoError(t, err)
	return it
}

func TestBackendFilter(t *testing.T) {
	bounds := geom.NewEnvelope(0, 0, 80, 10)

	t.Run("compact up to threshold", func(t *testing.T) {
		f := newFixture(t, bounds, 8, 1, nil)
		f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 39, 9))})

		q, ok := f.src.LastQuery()
		require.True(t, ok)
		assert.Equal(t, filter.Or(cellBox(0), cellBox(10), cellBox(20), cellBox(30)), q.Filter)
	})

	t.Run("union beyond threshold", func(t *testing.T) {
		f := newFixture(t, bounds, 8, 1, nil)
		f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 49, 9))})

		q, ok := f.src.LastQuery()
		require.True(t, ok)
		assert.Equal(t, filter.BBox(geom.NewEnvelope(0, 0, 50, 10)), q.Filter)
	})

	t.Run("custom threshold", func(t *testing.T) {
		f := newFixture(t, bounds, 8, 1, nil, WithCompactThreshold(1))
		f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 19, 9))})

		q, ok := f.src.LastQuery()
		require.True(t, ok)
		assert.Equal(t, filter.BBox(geom.NewEnvelope(0, 0, 20, 10)), q.Filter)
	})
}

func TestPostFilter(t *testing.T) {
	bounds := geom.NewEnvelope(0, 0, 100, 100)
	fs := testutil.NewRNG(3).PointFeatures(300, bounds)
	f := newFixture(t, bounds, 10, 10, fs, WithCompactThreshold(0))

	roads := filter.And(
		filter.BBox(geom.NewEnvelope(5, 5, 60, 60)),
		filter.Attr("class", metadata.OpEqual, metadata.String("road")),
	)
	got := f.query(t, filter.Query{Filter: roads})
	require.NotEmpty(t, got)
	for _, g := range got {
		assert.True(t, roads.Evaluate(g), "feature %d does not match", g.ID)
	}

	// The loose fetch cached whole cells; a second run still only yields
	// matching features, now from the cache.
	f.src.Reset()
	again := f.query(t, filter.Query{Filter: roads})
	assert.Equal(t, sortedIDs(got), sortedIDs(again))
	assert.Zero(t, f.src.Calls())

	// Cached cells hold every class.
	all := f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(10, 10, 50, 50))})
	assert.Greater(t, len(all), len(got))
	assert.Zero(t, f.src.Calls())
}

func TestRootFeaturesServedOnce(t *testing.T) {
	fs := append(tenPoints(), feature.New(11, geom.FromEnvelope(geom.NewEnvelope(2, 2, 28, 8)), nil))
	f := newFixtureWithGrid(t, geom.NewEnvelope(0, 0, 30, 10), 3, 1, []grid.Option{grid.WithMaxSpan(1)}, fs)

	got := f.query(t, filter.All())
	assert.Equal(t, idRange(1, 11), sortedIDs(got))
	assert.Equal(t, 1, f.grid.Stats().RootFeatures)

	f.src.Reset()
	again := f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(10.5, 0.5, 19.5, 9.5))})
	assert.Equal(t, []feature.ID{4, 5, 6, 7, 11}, sortedIDs(again))
	assert.Zero(t, f.src.Calls())
}

func TestEmptyRegion(t *testing.T) {
	f := threeCells(t, tenPoints())

	got := f.query(t, filter.Query{Filter: filter.Exclude})
	assert.Empty(t, got)
	assert.Zero(t, f.src.Calls())
	assert.Empty(t, f.idx.Touched())
}

func TestMaxFeaturesDisablesCaching(t *testing.T) {
	f := threeCells(t, tenPoints())

	got := f.query(t, filter.Query{MaxFeatures: 4})
	assert.Len(t, got, 4)
	for _, id := range []index.NodeID{0, 1, 2} {
		assert.False(t, f.valid(t, id))
		h, ok := f.idx.Handle(id)
		require.True(t, ok)
		assert.Zero(t, h.Begins.Load())
		assert.Zero(t, h.Locks.Load())
	}

	// Valid cells are still read from the cache.
	f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 9, 9))})
	f.src.Reset()
	capped := f.query(t, filter.Query{
		Filter:      filter.Attr("name", metadata.OpNotEqual, metadata.String("x")),
		MaxFeatures: 10,
	})
	assert.Equal(t, idRange(1, 10), sortedIDs(capped))
	q, ok := f.src.LastQuery()
	require.True(t, ok)
	assert.Equal(t, filter.And(filter.Or(cellBox(10), cellBox(20)), filter.Attr("name", metadata.OpNotEqual, metadata.String("x"))).String(), q.Filter.String())
}

func TestRetypeAndReproject(t *testing.T) {
	f := threeCells(t, tenPoints())

	q := filter.Query{
		Filter:     filter.BBox(geom.NewEnvelope(1, 1, 9, 9)),
		CRS:        "epsg:3857",
		Properties: []string{"name"},
		Aliases:    map[string]string{"name": "label"},
	}
	schema, err := f.eng.Schema(q)
	require.NoError(t, err)
	assert.Equal(t, transform.WebMercator, schema.CRS)
	assert.Equal(t, []string{"label"}, schema.AttributeNames())

	got := f.query(t, q)
	require.Len(t, got, 3)
	for _, g := range got {
		assert.Equal(t, []string{"label"}, keys(g.Attributes))
		src := tenPoints()[g.ID-1]
		want, err := transform.ToWebMercator(src.Geometry.Coords[0])
		require.NoError(t, err)
		assert.InDelta(t, want.X, g.Geometry.Coords[0].X, 1e-6)
		assert.InDelta(t, want.Y, g.Geometry.Coords[0].Y, 1e-6)
	}

	// The cache keeps native features.
	plain := f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 9, 9))})
	for _, p := range plain {
		assert.Contains(t, p.Attributes, "name")
		assert.Equal(t, tenPoints()[p.ID-1].Geometry, p.Geometry)
	}
}

func keys(d metadata.Document) []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func TestQueryValidation(t *testing.T) {
	f := threeCells(t, tenPoints())

	tests := []struct {
		name string
		q    filter.Query
		want error
	}{
		{"sort", filter.Query{SortBy: []filter.SortBy{{Property: "name"}}}, ErrUnsupportedQuery},
		{"start index", filter.Query{StartIndex: 5}, ErrUnsupportedQuery},
		{"negative max", filter.Query{MaxFeatures: -1}, ErrUnsupportedQuery},
		{"unknown property", filter.Query{Properties: []string{"missing"}}, ErrSchemaAdaptation},
		{"unknown type", filter.Query{TypeName: "roads"}, ErrSchemaAdaptation},
		{"unknown crs", filter.Query{CRS: "EPSG:31467"}, ErrSchemaAdaptation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := f.eng.Open(context.Background(), tt.q)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, it)

			_, err = f.eng.Schema(tt.q)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.idx.Touched())
	assert.Zero(t, f.src.Calls())
}

func TestBackendFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	f := threeCells(t, tenPoints(), WithLogger(logger))

	f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 9, 9))})
	f.src.FailNext(errBackend)

	// Cached cell 0 is served, cold cells yield nothing and stay cold.
	got := f.query(t, filter.All())
	assert.Equal(t, []feature.ID{1, 2, 3}, sortedIDs(got))
	assert.False(t, f.valid(t, 1))
	assert.False(t, f.valid(t, 2))
	assert.Equal(t, uint64(1), f.eng.Stats().BackendFailures)
	assert.Equal(t, uint64(2), f.eng.Stats().Abandoned)
	assert.Contains(t, buf.String(), "Backend fetch failed")
	assert.Contains(t, buf.String(), errBackend.Error())

	// The next query retries.
	got = f.query(t, filter.All())
	assert.Equal(t, idRange(1, 10), sortedIDs(got))
	assert.True(t, f.valid(t, 1))
	assert.Equal(t, 3, f.src.Calls())
}

func TestMidStreamFailure(t *testing.T) {
	f := threeCells(t, tenPoints())
	f.src.FailStreamAfter(2, errBackend)

	it, err := f.eng.Open(context.Background(), filter.All())
	require.NoError(t, err)

	n := 0
	for it.Next() {
		n++
	}
	assert.Equal(t, 2, n)
	require.ErrorIs(t, it.Err(), errBackend)

	// The failed iterator closed itself.
	require.NoError(t, f.idx.CheckBalanced())
	assert.Zero(t, f.src.OpenStreams())
	assert.False(t, it.Next())
	assert.NoError(t, it.Close())

	for _, id := range []index.NodeID{0, 1, 2} {
		assert.False(t, f.valid(t, id))
	}
	assert.Equal(t, uint64(3), f.grid.Stats().Aborts)

	f.src.FailStreamAfter(0, nil)
	got := f.query(t, filter.All())
	assert.Equal(t, idRange(1, 10), sortedIDs(got))
}

func TestEarlyCloseAbandons(t *testing.T) {
	f := threeCells(t, tenPoints())

	it, err := f.eng.Open(context.Background(), filter.All())
	require.NoError(t, err)
	require.True(t, it.Next())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())

	require.NoError(t, f.idx.CheckBalanced())
	assert.Zero(t, f.src.OpenStreams())
	for _, id := range []index.NodeID{0, 1, 2} {
		assert.False(t, f.valid(t, id))
	}
	assert.Equal(t, uint64(3), f.eng.Stats().Abandoned)

	got := f.query(t, filter.All())
	assert.Equal(t, idRange(1, 10), sortedIDs(got))
	assert.Equal(t, 2, f.src.Calls())
}

func TestDrainedButNotClosedHoldsLocks(t *testing.T) {
	f := threeCells(t, tenPoints())

	it, err := f.eng.Open(context.Background(), filter.All())
	require.NoError(t, err)
	for it.Next() {
	}
	require.NoError(t, it.Err())
	assert.Error(t, f.idx.CheckBalanced())
	assert.False(t, f.valid(t, 0))

	require.NoError(t, it.Close())
	require.NoError(t, f.idx.CheckBalanced())
	assert.True(t, f.valid(t, 0))
}

func TestInvalidateRefetches(t *testing.T) {
	f := threeCells(t, tenPoints())
	f.query(t, filter.All())
	f.src.Reset()

	assert.Equal(t, 1, f.grid.Invalidate(geom.NewEnvelope(12, 2, 14, 4)))
	f.mem.Add(feature.New(42, geom.NewPoint(13, 3), nil))

	got := f.query(t, filter.All())
	assert.Equal(t, append(idRange(1, 10), 42), sortedIDs(got))

	queries := f.src.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, cellBox(10), queries[0].Filter)
}

func TestBypassOutsideIndex(t *testing.T) {
	fs := append(tenPoints(), feature.New(11, geom.NewPoint(45, 5), nil))
	f := threeCells(t, fs)

	outside := filter.Query{Filter: filter.BBox(geom.NewEnvelope(25, 1, 50, 9))}
	for range 2 {
		got := f.query(t, outside)
		assert.Equal(t, []feature.ID{9, 10, 11}, sortedIDs(got))
	}
	assert.Equal(t, 2, f.src.Calls())
	assert.Equal(t, uint64(2), f.eng.Stats().Bypassed)
	q, _ := f.src.LastQuery()
	assert.Equal(t, outside.Filter, q.Filter)

	// Unbounded queries cannot be clipped to the index either.
	all := f.query(t, filter.All())
	assert.Len(t, all, 11)
	assert.Empty(t, f.idx.Touched())

	// Queries inside the index are cached.
	f.src.Reset()
	inside := filter.Query{Filter: filter.BBox(geom.NewEnvelope(21, 1, 29, 9))}
	f.query(t, inside)
	f.query(t, inside)
	assert.Equal(t, 1, f.src.Calls())
}

func TestClippedToIndexWhenSourceContained(t *testing.T) {
	f := threeCells(t, tenPoints())

	got := f.query(t, filter.Query{Filter: filter.BBox(geom.NewEnvelope(-100, -100, 9, 100))})
	assert.Equal(t, []feature.ID{1, 2, 3}, sortedIDs(got))
	assert.True(t, f.valid(t, 0))
	assert.Zero(t, f.eng.Stats().Bypassed)
}

type recordingObserver struct {
	NoopMetricsObserver
	queries, fetches, populated, abandoned int
}

func (o *recordingObserver) OnQuery(found, missing int, _ time.Duration, _ error) { o.queries++ }

func (o *recordingObserver) OnBackendFetch(int, bool, time.Duration, error) { o.fetches++ }

func (o *recordingObserver) OnPopulate(_ index.NodeID, _ int, committed bool) {
	if committed {
		o.populated++
	} else {
		o.abandoned++
	}
}

func TestMetricsObserver(t *testing.T) {
	obs := &recordingObserver{}
	f := threeCells(t, tenPoints(), WithMetricsObserver(obs))

	f.query(t, filter.All())
	f.query(t, filter.All())

	assert.Equal(t, 2, obs.queries)
	assert.Equal(t, 1, obs.fetches)
	assert.Equal(t, 3, obs.populated)
	assert.Zero(t, obs.abandoned)
}

func TestClosedEngine(t *testing.T) {
	f := threeCells(t, tenPoints())
	require.NoError(t, f.eng.Close())

	_, err := f.eng.Open(context.Background(), filter.All())
	assert.ErrorIs(t, err, ErrClosed)
}
