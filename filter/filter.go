package filter

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/metadata"
)

// Filter is a predicate over features.
type Filter interface {
	// Evaluate reports whether f satisfies the predicate.
	Evaluate(f *feature.Feature) bool
	String() string
}

type includeFilter struct{}

func (includeFilter) Evaluate(*feature.Feature) bool { return true }
func (includeFilter) String() string                 { return "INCLUDE" }

type excludeFilter struct{}

func (excludeFilter) Evaluate(*feature.Feature) bool { return false }
func (excludeFilter) String() string                 { return "EXCLUDE" }

var (
	// Include accepts every feature.
	Include Filter = includeFilter{}
	// Exclude rejects every feature.
	Exclude Filter = excludeFilter{}
)

// BBoxFilter accepts features whose envelope intersects Envelope.
type BBoxFilter struct {
	Envelope geom.Envelope
}

// BBox returns a bounding box filter.
func BBox(e geom.Envelope) *BBoxFilter {
	return &BBoxFilter{Envelope: e}
}

// Evaluate implements Filter.
func (b *BBoxFilter) Evaluate(f *feature.Feature) bool {
	return b.Envelope.Intersects(f.Envelope())
}

func (b *BBoxFilter) String() string {
	e := b.Envelope
	return fmt.Sprintf("BBOX(%g, %g, %g, %g)", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// AndFilter accepts features accepted by every child.
type AndFilter struct {
	Filters []Filter
}

// And combines filters with logical AND.
//
// Include children are dropped and any Exclude child collapses the result to
// Exclude. A single remaining child is returned unwrapped.
func And(filters ...Filter) Filter {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		switch {
		case f == nil || f == Include:
			continue
		case f == Exclude:
			return Exclude
		}
		if a, ok := f.(*AndFilter); ok {
			out = append(out, a.Filters...)
			continue
		}
		out = append(out, f)
	}
	switch len(out) {
	case 0:
		return Include
	case 1:
		return out[0]
	default:
		return &AndFilter{Filters: out}
	}
}

// Evaluate implements Filter.
func (a *AndFilter) Evaluate(f *feature.Feature) bool {
	for _, c := range a.Filters {
		if !c.Evaluate(f) {
			return false
		}
	}
	return true
}

func (a *AndFilter) String() string { return join("AND", a.Filters) }

// OrFilter accepts features accepted by any child.
type OrFilter struct {
	Filters []Filter
}

// Or combines filters with logical OR.
//
// Exclude children are dropped and any Include child collapses the result to
// Include. A single remaining child is returned unwrapped.
func Or(filters ...Filter) Filter {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		switch {
		case f == nil || f == Exclude:
			continue
		case f == Include:
			return Include
		}
		if o, ok := f.(*OrFilter); ok {
			out = append(out, o.Filters...)
			continue
		}
		out = append(out, f)
	}
	switch len(out) {
	case 0:
		return Exclude
	case 1:
		return out[0]
	default:
		return &OrFilter{Filters: out}
	}
}

// Evaluate implements Filter.
func (o *OrFilter) Evaluate(f *feature.Feature) bool {
	for _, c := range o.Filters {
		if c.Evaluate(f) {
			return true
		}
	}
	return false
}

func (o *OrFilter) String() string { return join("OR", o.Filters) }

// NotFilter negates its child.
type NotFilter struct {
	Filter Filter
}

// Not negates f.
func Not(f Filter) Filter {
	switch {
	case f == nil || f == Include:
		return Exclude
	case f == Exclude:
		return Include
	}
	if n, ok := f.(*NotFilter); ok {
		return n.Filter
	}
	return &NotFilter{Filter: f}
}

// Evaluate implements Filter.
func (n *NotFilter) Evaluate(f *feature.Feature) bool { return !n.Filter.Evaluate(f) }

func (n *NotFilter) String() string { return "NOT(" + n.Filter.String() + ")" }

// AttrFilter compares one attribute.
type AttrFilter struct {
	metadata.Filter
}

// Attr returns a filter on a single attribute comparison.
func Attr(key string, op metadata.Operator, v metadata.Value) *AttrFilter {
	return &AttrFilter{Filter: metadata.Filter{Key: key, Operator: op, Value: v}}
}

// Evaluate implements Filter.
func (a *AttrFilter) Evaluate(f *feature.Feature) bool {
	return a.Matches(f.Attributes)
}

func (a *AttrFilter) String() string { return "[" + a.Filter.String() + "]" }

// IDFilter accepts features by identity.
type IDFilter struct {
	ids *roaring64.Bitmap
}

// IDs returns a filter accepting exactly the given feature ids.
func IDs(ids ...feature.ID) *IDFilter {
	bm := roaring64.New()
	for _, id := range ids {
		bm.Add(uint64(id))
	}
	return &IDFilter{ids: bm}
}

// Evaluate implements Filter.
func (i *IDFilter) Evaluate(f *feature.Feature) bool {
	return i.ids.Contains(uint64(f.ID))
}

// Contains reports whether id is accepted.
func (i *IDFilter) Contains(id feature.ID) bool {
	return i.ids.Contains(uint64(id))
}

// Len returns the number of accepted ids.
func (i *IDFilter) Len() int {
	return int(i.ids.GetCardinality())
}

func (i *IDFilter) String() string {
	parts := make([]string, 0, i.ids.GetCardinality())
	it := i.ids.Iterator()
	for it.HasNext() {
		parts = append(parts, fmt.Sprintf("%d", it.Next()))
	}
	return "IDS(" + strings.Join(parts, ", ") + ")"
}

// Bounds returns the region outside of which f can never match.
//
// Predicates that do not constrain geometry are unbounded (geom.Infinite).
// Exclude is bounded by the empty envelope.
func Bounds(f Filter) geom.Envelope {
	switch x := f.(type) {
	case nil:
		return geom.Infinite()
	case includeFilter:
		return geom.Infinite()
	case excludeFilter:
		return geom.Empty()
	case *BBoxFilter:
		return x.Envelope
	case *AndFilter:
		b := geom.Infinite()
		for _, c := range x.Filters {
			b = b.Intersection(Bounds(c))
		}
		return b
	case *OrFilter:
		b := geom.Empty()
		for _, c := range x.Filters {
			b = b.Union(Bounds(c))
		}
		return b
	default:
		return geom.Infinite()
	}
}

// BBoxes returns the boxes of f when f is a single BBox or an OR of BBoxes.
// Any other shape returns false.
func BBoxes(f Filter) ([]geom.Envelope, bool) {
	switch x := f.(type) {
	case *BBoxFilter:
		return []geom.Envelope{x.Envelope}, true
	case *OrFilter:
		out := make([]geom.Envelope, 0, len(x.Filters))
		for _, c := range x.Filters {
			b, ok := c.(*BBoxFilter)
			if !ok {
				return nil, false
			}
			out = append(out, b.Envelope)
		}
		return out, true
	default:
		return nil, false
	}
}

func join(op string, fs []Filter) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}
