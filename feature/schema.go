package feature

import (
	"fmt"
	"slices"

	"github.com/hupe1980/gridcache/metadata"
)

// AttributeDescriptor describes one attribute of a feature type.
type AttributeDescriptor struct {
	Name string        `json:"name"`
	Kind metadata.Kind `json:"kind"`
}

// Schema describes the features produced by a source or a query.
type Schema struct {
	Name         string                `json:"name"`
	GeometryName string                `json:"geometry_name"`
	CRS          string                `json:"crs"`
	Attributes   []AttributeDescriptor `json:"attributes"`
}

// Attribute returns the descriptor for name.
func (s *Schema) Attribute(name string) (AttributeDescriptor, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeDescriptor{}, false
}

// AttributeNames returns the attribute names in schema order.
func (s *Schema) AttributeNames() []string {
	names := make([]string, len(s.Attributes))
	for i, a := range s.Attributes {
		names[i] = a.Name
	}
	return names
}

// Clone returns a copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	c.Attributes = slices.Clone(s.Attributes)
	return &c
}

// Retype returns a schema reduced to props (in order) with names replaced
// by aliases. An empty props list keeps every attribute.
func (s *Schema) Retype(props []string, aliases map[string]string) (*Schema, error) {
	out := s.Clone()
	if len(props) == 0 && len(aliases) == 0 {
		return out, nil
	}

	if len(props) == 0 {
		props = s.AttributeNames()
	}

	attrs := make([]AttributeDescriptor, 0, len(props))
	for _, p := range props {
		a, ok := s.Attribute(p)
		if !ok {
			return nil, fmt.Errorf("schema %q has no attribute %q", s.Name, p)
		}
		if alias, ok := aliases[p]; ok && alias != "" {
			a.Name = alias
		}
		attrs = append(attrs, a)
	}
	out.Attributes = attrs
	return out, nil
}
