package geom

import (
	"fmt"
	"strings"
)

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Kind identifies the shape of a Geometry.
type Kind uint8

const (
	// KindPoint is a single coordinate.
	KindPoint Kind = iota + 1
	// KindLineString is an open sequence of coordinates.
	KindLineString
	// KindPolygon is a single closed ring.
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "Point"
	case KindLineString:
		return "LineString"
	case KindPolygon:
		return "Polygon"
	default:
		return "Unknown"
	}
}

// Geometry is a minimal vector shape. Only its envelope and coordinates are
// interpreted by the cache; topology is left to callers.
type Geometry struct {
	Kind   Kind    `json:"kind"`
	Coords []Point `json:"coords"`
}

// NewPoint returns a point geometry.
func NewPoint(x, y float64) Geometry {
	return Geometry{Kind: KindPoint, Coords: []Point{{X: x, Y: y}}}
}

// NewLineString returns a line string through the given points.
func NewLineString(pts ...Point) Geometry {
	return Geometry{Kind: KindLineString, Coords: pts}
}

// NewPolygon returns a polygon for the ring; the ring is closed if needed.
func NewPolygon(ring ...Point) Geometry {
	if n := len(ring); n > 0 && ring[0] != ring[n-1] {
		ring = append(ring[:n:n], ring[0])
	}
	return Geometry{Kind: KindPolygon, Coords: ring}
}

// FromEnvelope returns the rectangle polygon of e.
func FromEnvelope(e Envelope) Geometry {
	return NewPolygon(
		Point{X: e.MinX, Y: e.MinY},
		Point{X: e.MaxX, Y: e.MinY},
		Point{X: e.MaxX, Y: e.MaxY},
		Point{X: e.MinX, Y: e.MaxY},
	)
}

// IsEmpty reports whether the geometry has no coordinates.
func (g Geometry) IsEmpty() bool { return len(g.Coords) == 0 }

// Envelope returns the bounding box of all coordinates.
func (g Geometry) Envelope() Envelope {
	env := Empty()
	for _, p := range g.Coords {
		env = env.ExpandToInclude(p)
	}
	return env
}

// Clone returns a deep copy of g.
func (g Geometry) Clone() Geometry {
	if g.Coords == nil {
		return Geometry{Kind: g.Kind}
	}
	coords := make([]Point, len(g.Coords))
	copy(coords, g.Coords)
	return Geometry{Kind: g.Kind, Coords: coords}
}

// Map returns a copy of g with fn applied to every coordinate.
func (g Geometry) Map(fn func(Point) (Point, error)) (Geometry, error) {
	out := Geometry{Kind: g.Kind, Coords: make([]Point, len(g.Coords))}
	for i, p := range g.Coords {
		q, err := fn(p)
		if err != nil {
			return Geometry{}, err
		}
		out.Coords[i] = q
	}
	return out, nil
}

// String returns a WKT-like representation.
func (g Geometry) String() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(g.Kind.String()))
	if g.IsEmpty() {
		b.WriteString(" EMPTY")
		return b.String()
	}
	b.WriteString("(")
	if g.Kind == KindPolygon {
		b.WriteString("(")
	}
	for i, p := range g.Coords {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%g %g", p.X, p.Y)
	}
	if g.Kind == KindPolygon {
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}
