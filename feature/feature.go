package feature

import (
	"fmt"

	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/metadata"
)

// ID is the stable identity of a feature.
//
// Two features with the same ID are the same feature, regardless of which
// cache node or backend request produced them.
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("feature.%d", uint64(id))
}

// Feature is a geometry-tagged record with typed attributes.
type Feature struct {
	ID         ID                `json:"id"`
	Geometry   geom.Geometry     `json:"geometry"`
	Attributes metadata.Document `json:"attributes,omitempty"`
}

// New creates a feature.
func New(id ID, g geom.Geometry, attrs metadata.Document) *Feature {
	return &Feature{ID: id, Geometry: g, Attributes: attrs}
}

// Envelope returns the bounding envelope of the feature geometry.
func (f *Feature) Envelope() geom.Envelope {
	return f.Geometry.Envelope()
}

// Clone returns a deep copy of the feature.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	return &Feature{
		ID:         f.ID,
		Geometry:   f.Geometry.Clone(),
		Attributes: f.Attributes.Clone(),
	}
}

// Attribute returns the named attribute value.
func (f *Feature) Attribute(name string) (metadata.Value, bool) {
	v, ok := f.Attributes[name]
	return v, ok
}
