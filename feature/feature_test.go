package feature

import (
	"errors"
	"testing"

	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeature_Clone(t *testing.T) {
	f := New(7, geom.NewPoint(1, 2), metadata.Document{"name": metadata.String("a")})
	c := f.Clone()

	c.Geometry.Coords[0].X = 100
	c.Attributes["name"] = metadata.String("b")

	assert.Equal(t, 1.0, f.Geometry.Coords[0].X)
	assert.Equal(t, "a", f.Attributes["name"].StringValue())
	assert.Equal(t, geom.NewEnvelope(1, 2, 1, 2), f.Envelope())
	assert.Nil(t, (*Feature)(nil).Clone())
}

func TestSchema_Retype(t *testing.T) {
	s := &Schema{
		Name:         "roads",
		GeometryName: "geom",
		CRS:          "EPSG:4326",
		Attributes: []AttributeDescriptor{
			{Name: "name", Kind: metadata.KindString},
			{Name: "lanes", Kind: metadata.KindInt},
		},
	}

	t.Run("projection", func(t *testing.T) {
		out, err := s.Retype([]string{"lanes"}, map[string]string{"lanes": "n"})
		require.NoError(t, err)
		assert.Equal(t, []AttributeDescriptor{{Name: "n", Kind: metadata.KindInt}}, out.Attributes)
		assert.Len(t, s.Attributes, 2)
	})

	t.Run("alias only", func(t *testing.T) {
		out, err := s.Retype(nil, map[string]string{"name": "label"})
		require.NoError(t, err)
		assert.Equal(t, []string{"label", "lanes"}, out.AttributeNames())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := s.Retype([]string{"speed"}, nil)
		assert.Error(t, err)
	})
}

func TestCollect(t *testing.T) {
	fs := []*Feature{{ID: 1}, {ID: 2}}
	got, err := Collect(NewSliceIterator(fs))
	require.NoError(t, err)
	assert.Equal(t, fs, got)

	boom := errors.New("boom")
	calls := 0
	it := NewFuncIterator(func() (*Feature, error) {
		calls++
		if calls == 1 {
			return &Feature{ID: 1}, nil
		}
		return nil, boom
	}, nil)
	got, err = Collect(it)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, got, 1)
	assert.False(t, it.Next())
}
