package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/metadata"
	"github.com/hupe1980/gridcache/source"
)

var roads = &feature.Schema{
	Name:         "roads",
	GeometryName: "geom",
	CRS:          "EPSG:4326",
	Attributes: []feature.AttributeDescriptor{
		{Name: "class", Kind: metadata.KindString},
		{Name: "lanes", Kind: metadata.KindInt},
	},
}

func newLayer(t *testing.T) *Source {
	t.Helper()
	ctx := context.Background()

	db, err := OpenDB(ctx, filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := CreateLayer(ctx, db, roads)
	require.NoError(t, err)

	var fs []*feature.Feature
	for i := range 10 {
		class := "road"
		if i%2 == 1 {
			class = "path"
		}
		fs = append(fs, feature.New(feature.ID(i+1), geom.NewPoint(float64(i*10)+5, 5), metadata.Document{
			"class": metadata.String(class),
			"lanes": metadata.Int(int64(i % 3)),
		}))
	}
	require.NoError(t, s.Insert(ctx, fs...))
	return s
}

func collectIDs(t *testing.T, it feature.Iterator) []feature.ID {
	t.Helper()
	fs, err := feature.Collect(it)
	require.NoError(t, err)
	out := make([]feature.ID, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDB(ctx, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	v, dirty, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, Migrate(db))
}

func TestLayers(t *testing.T) {
	ctx := context.Background()
	s := newLayer(t)

	names, err := Layers(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, []string{"roads"}, names)

	opened, err := OpenLayer(ctx, s.db, "roads")
	require.NoError(t, err)
	assert.Equal(t, roads, opened.Schema())

	_, err = OpenLayer(ctx, s.db, "rivers")
	require.ErrorIs(t, err, ErrLayerNotFound)
}

func TestFeaturesAll(t *testing.T) {
	s := newLayer(t)

	it, err := s.Features(context.Background(), filter.All())
	require.NoError(t, err)
	assert.Equal(t, []feature.ID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, collectIDs(t, it))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestOpenLayerSchema(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDB(ctx, filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = CreateLayer(ctx, db, roads)
	require.NoError(t, err)

	s, err := OpenLayer(ctx, db, "roads")
	require.NoError(t, err)
	if diff := cmp.Diff(roads, s.Schema()); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}

	_, err = OpenLayer(ctx, db, "rivers")
	assert.ErrorIs(t, err, ErrLayerNotFound)
}

func TestFeaturesRoundTrip(t *testing.T) {
	s := newLayer(t)

	it, err := s.Features(context.Background(), filter.Query{Filter: filter.IDs(3)})
	require.NoError(t, err)
	fs, err := feature.Collect(it)
	require.NoError(t, err)
	require.Len(t, fs, 1)

	f := fs[0]
	assert.Equal(t, geom.NewPoint(25, 5), f.Geometry)
	assert.Equal(t, "road", f.Attributes["class"].StringValue())
	assert.Equal(t, metadata.Int(2), f.Attributes["lanes"])
}

func TestFeaturesBBox(t *testing.T) {
	s := newLayer(t)

	q := filter.Query{Filter: filter.BBox(geom.NewEnvelope(0, 0, 30, 10))}
	it, err := s.Features(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []feature.ID{1, 2, 3}, collectIDs(t, it))
}

func TestFeaturesOrOfBBoxes(t *testing.T) {
	s := newLayer(t)

	q := filter.Query{Filter: filter.Or(
		filter.BBox(geom.NewEnvelope(0, 0, 10, 10)),
		filter.BBox(geom.NewEnvelope(80, 0, 100, 10)),
	)}
	it, err := s.Features(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []feature.ID{1, 9, 10}, collectIDs(t, it))
}

func TestFeaturesResidualFilter(t *testing.T) {
	s := newLayer(t)

	q := filter.Query{Filter: filter.And(
		filter.BBox(geom.NewEnvelope(0, 0, 60, 10)),
		filter.Attr("class", metadata.OpEqual, metadata.String("path")),
	)}
	it, err := s.Features(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []feature.ID{2, 4, 6}, collectIDs(t, it))
}

func TestFeaturesExclude(t *testing.T) {
	s := newLayer(t)

	it, err := s.Features(context.Background(), filter.Query{Filter: filter.Exclude})
	require.NoError(t, err)
	assert.Empty(t, collectIDs(t, it))
}

func TestFeaturesPaging(t *testing.T) {
	s := newLayer(t)

	it, err := s.Features(context.Background(), filter.Query{StartIndex: 2, MaxFeatures: 3})
	require.NoError(t, err)
	assert.Equal(t, []feature.ID{3, 4, 5}, collectIDs(t, it))
}

func TestFeaturesRejects(t *testing.T) {
	s := newLayer(t)

	_, err := s.Features(context.Background(), filter.Query{SortBy: []filter.SortBy{{Property: "lanes"}}})
	require.ErrorIs(t, err, source.ErrUnsupportedSort)

	_, err = s.Features(context.Background(), filter.Query{TypeName: "rivers"})
	require.ErrorIs(t, err, source.ErrUnknownType)
}

func TestInsertReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newLayer(t)

	moved := feature.New(1, geom.NewPoint(95, 5), metadata.Document{"class": metadata.String("road")})
	require.NoError(t, s.Insert(ctx, moved))

	it, err := s.Features(ctx, filter.Query{Filter: filter.BBox(geom.NewEnvelope(90, 0, 100, 10))})
	require.NoError(t, err)
	assert.Equal(t, []feature.ID{1, 10}, collectIDs(t, it))

	require.NoError(t, s.Delete(ctx, 1, 10))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestInsertEmptyGeometry(t *testing.T) {
	s := newLayer(t)
	err := s.Insert(context.Background(), &feature.Feature{ID: 99})
	require.Error(t, err)
}

func TestBounds(t *testing.T) {
	s := newLayer(t)

	b, err := s.Bounds(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Equal(geom.NewEnvelope(5, 5, 95, 5)))

	other, err := CreateLayer(context.Background(), s.db, &feature.Schema{Name: "empty"})
	require.NoError(t, err)
	b, err = other.Bounds(context.Background())
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())
}

func TestBBoxClause(t *testing.T) {
	where, args, ok := bboxClause(filter.Include)
	assert.True(t, ok)
	assert.Empty(t, where)
	assert.Empty(t, args)

	_, _, ok = bboxClause(filter.Exclude)
	assert.False(t, ok)

	where, args, ok = bboxClause(filter.Or(
		filter.BBox(geom.NewEnvelope(0, 0, 1, 1)),
		filter.BBox(geom.NewEnvelope(2, 2, 3, 3)),
	))
	assert.True(t, ok)
	assert.Contains(t, where, " OR ")
	assert.Len(t, args, 8)

	where, args, ok = bboxClause(filter.And(
		filter.BBox(geom.NewEnvelope(0, 0, 10, 10)),
		filter.BBox(geom.NewEnvelope(5, 5, 20, 20)),
	))
	assert.True(t, ok)
	assert.NotContains(t, where, " OR ")
	assert.Equal(t, []any{5.0, 10.0, 5.0, 10.0}, args)
}
