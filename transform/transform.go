package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/hupe1980/gridcache/geom"
)

// ErrNoTransform is returned when no transform between two CRSs is known.
var ErrNoTransform = errors.New("transform: no transform available")

const (
	// WGS84 is geographic longitude/latitude.
	WGS84 = "EPSG:4326"
	// WebMercator is spherical mercator in meters.
	WebMercator = "EPSG:3857"

	earthRadius = 6378137.0
	maxLat      = 85.0511287798066
)

// Transform maps geometries from one CRS to another.
type Transform interface {
	Source() string
	Target() string
	Apply(g geom.Geometry) (geom.Geometry, error)
}

// Service resolves transforms between coordinate reference systems.
type Service interface {
	Find(source, target string) (Transform, error)
}

// PointFunc transforms a single coordinate.
type PointFunc func(geom.Point) (geom.Point, error)

type pointTransform struct {
	source, target string
	fn             PointFunc
}

func (t *pointTransform) Source() string { return t.source }
func (t *pointTransform) Target() string { return t.target }

func (t *pointTransform) Apply(g geom.Geometry) (geom.Geometry, error) {
	return g.Map(t.fn)
}

type key struct{ source, target string }

// Registry is a Service backed by registered point functions.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[key]PointFunc
}

// NewRegistry returns a registry with the built-in WGS84 and Web Mercator
// transforms.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[key]PointFunc)}
	r.Register(WGS84, WebMercator, ToWebMercator)
	r.Register(WebMercator, WGS84, FromWebMercator)
	return r
}

// Register adds or replaces the transform from source to target.
func (r *Registry) Register(source, target string, fn PointFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key{Normalize(source), Normalize(target)}] = fn
}

// Find implements Service. Identical CRSs resolve to the identity transform.
func (r *Registry) Find(source, target string) (Transform, error) {
	s, t := Normalize(source), Normalize(target)
	if s == t {
		return &pointTransform{source: s, target: t, fn: identity}, nil
	}

	r.mu.RLock()
	fn, ok := r.funcs[key{s, t}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoTransform, s, t)
	}
	return &pointTransform{source: s, target: t, fn: fn}, nil
}

// Normalize canonicalizes a CRS code ("epsg:4326", "urn:ogc:def:crs:EPSG::4326"
// and "EPSG:4326" are the same CRS).
func Normalize(crs string) string {
	c := strings.ToUpper(strings.TrimSpace(crs))
	if rest, ok := strings.CutPrefix(c, "URN:OGC:DEF:CRS:EPSG:"); ok {
		c = "EPSG:" + strings.TrimLeft(rest, ":")
	}
	return c
}

func identity(p geom.Point) (geom.Point, error) { return p, nil }

// ToWebMercator projects a longitude/latitude coordinate to spherical mercator.
func ToWebMercator(p geom.Point) (geom.Point, error) {
	if p.X < -180 || p.X > 180 {
		return geom.Point{}, fmt.Errorf("longitude %g out of range", p.X)
	}
	lat := math.Max(-maxLat, math.Min(maxLat, p.Y))
	x := earthRadius * p.X * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return geom.Point{X: x, Y: y}, nil
}

// FromWebMercator unprojects a spherical mercator coordinate.
func FromWebMercator(p geom.Point) (geom.Point, error) {
	lon := p.X / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(p.Y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return geom.Point{X: lon, Y: lat}, nil
}
