package geom

import (
	"fmt"
	"math"
)

// Envelope is an immutable axis-aligned bounding box in cache coordinate space.
//
// The zero value is the degenerate box at the origin. Use Empty for a box
// that contains nothing and acts as the identity for Union.
type Envelope struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// NewEnvelope returns the envelope spanning the two corners, normalizing
// their order.
func NewEnvelope(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// Empty returns an envelope that contains nothing.
func Empty() Envelope {
	return Envelope{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// Infinite returns an envelope covering the whole plane.
func Infinite() Envelope {
	return Envelope{
		MinX: math.Inf(-1),
		MinY: math.Inf(-1),
		MaxX: math.Inf(1),
		MaxY: math.Inf(1),
	}
}

// IsEmpty reports whether the envelope contains no points.
func (e Envelope) IsEmpty() bool {
	return e.MinX > e.MaxX || e.MinY > e.MaxY
}

// IsInfinite reports whether any side of the envelope is unbounded.
func (e Envelope) IsInfinite() bool {
	return math.IsInf(e.MinX, 0) || math.IsInf(e.MinY, 0) ||
		math.IsInf(e.MaxX, 0) || math.IsInf(e.MaxY, 0)
}

// Width returns the extent along the x axis.
func (e Envelope) Width() float64 {
	if e.IsEmpty() {
		return 0
	}
	return e.MaxX - e.MinX
}

// Height returns the extent along the y axis.
func (e Envelope) Height() float64 {
	if e.IsEmpty() {
		return 0
	}
	return e.MaxY - e.MinY
}

// Center returns the midpoint of the envelope.
func (e Envelope) Center() Point {
	return Point{X: (e.MinX + e.MaxX) / 2, Y: (e.MinY + e.MaxY) / 2}
}

// Union returns the smallest envelope containing both e and o.
func (e Envelope) Union(o Envelope) Envelope {
	if e.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return e
	}
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Intersection returns the overlap of e and o, or Empty if they are disjoint.
func (e Envelope) Intersection(o Envelope) Envelope {
	if !e.Intersects(o) {
		return Empty()
	}
	return Envelope{
		MinX: math.Max(e.MinX, o.MinX),
		MinY: math.Max(e.MinY, o.MinY),
		MaxX: math.Min(e.MaxX, o.MaxX),
		MaxY: math.Min(e.MaxY, o.MaxY),
	}
}

// Intersects reports whether e and o share at least one point.
// Touching boundaries count as intersecting.
func (e Envelope) Intersects(o Envelope) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX &&
		e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Contains reports whether o lies entirely inside e.
func (e Envelope) Contains(o Envelope) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX <= o.MinX && o.MaxX <= e.MaxX &&
		e.MinY <= o.MinY && o.MaxY <= e.MaxY
}

// ContainsPoint reports whether p lies inside or on the boundary of e.
func (e Envelope) ContainsPoint(p Point) bool {
	return e.MinX <= p.X && p.X <= e.MaxX && e.MinY <= p.Y && p.Y <= e.MaxY
}

// ExpandToInclude returns e grown to contain p.
func (e Envelope) ExpandToInclude(p Point) Envelope {
	return e.Union(Envelope{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y})
}

// Equal reports whether both envelopes have identical bounds.
// All empty envelopes are equal.
func (e Envelope) Equal(o Envelope) bool {
	if e.IsEmpty() && o.IsEmpty() {
		return true
	}
	return e == o
}

func (e Envelope) String() string {
	if e.IsEmpty() {
		return "ENVELOPE(EMPTY)"
	}
	return fmt.Sprintf("ENVELOPE(%g %g, %g %g)", e.MinX, e.MinY, e.MaxX, e.MaxY)
}
