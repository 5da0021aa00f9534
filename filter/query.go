package filter

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// SortBy orders query results by a property.
type SortBy struct {
	Property   string
	Descending bool
}

// Query describes a feature request.
type Query struct {
	// TypeName is the requested feature type. Empty means the source default.
	TypeName string
	// Filter restricts the features. nil means Include.
	Filter Filter
	// CRS is the requested output CRS. Empty means the native CRS.
	CRS string
	// Properties restricts and orders the returned attributes. Empty means all.
	Properties []string
	// Aliases renames returned attributes (source name -> output name).
	Aliases map[string]string
	// MaxFeatures caps the number of returned features. Zero means no limit.
	MaxFeatures int
	// StartIndex skips the first features of a sorted result.
	StartIndex int
	// SortBy orders the result. Empty means natural order.
	SortBy []SortBy
}

// All returns a query matching every feature.
func All() Query {
	return Query{Filter: Include}
}

// IsNaturalOrder reports whether the query requests no sorting.
func (q Query) IsNaturalOrder() bool {
	return len(q.SortBy) == 0
}

// Predicate returns the query filter, Include if unset.
func (q Query) Predicate() Filter {
	if q.Filter == nil {
		return Include
	}
	return q.Filter
}

// IsRetyping reports whether the query projects or renames attributes.
func (q Query) IsRetyping() bool {
	return len(q.Properties) > 0 || len(q.Aliases) > 0
}

// Clone returns a copy of q with independent slices and maps.
func (q Query) Clone() Query {
	c := q
	c.Properties = slices.Clone(q.Properties)
	c.Aliases = maps.Clone(q.Aliases)
	c.SortBy = slices.Clone(q.SortBy)
	return c
}

func (q Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query{type=%q filter=%s", q.TypeName, q.Predicate())
	if q.CRS != "" {
		fmt.Fprintf(&b, " crs=%s", q.CRS)
	}
	if len(q.Properties) > 0 {
		fmt.Fprintf(&b, " props=%v", q.Properties)
	}
	if q.MaxFeatures > 0 {
		fmt.Fprintf(&b, " max=%d", q.MaxFeatures)
	}
	if q.StartIndex > 0 {
		fmt.Fprintf(&b, " start=%d", q.StartIndex)
	}
	if len(q.SortBy) > 0 {
		fmt.Fprintf(&b, " sort=%v", q.SortBy)
	}
	b.WriteString("}")
	return b.String()
}
