package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/metadata"
)

// Classes are the values of the "class" attribute of generated features.
var Classes = []string{"road", "path", "rail", "river"}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Point returns a uniformly distributed point inside e.
func (r *RNG) Point(e geom.Envelope) geom.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.point(e)
}

func (r *RNG) point(e geom.Envelope) geom.Point {
	return geom.Point{
		X: e.MinX + r.rand.Float64()*e.Width(),
		Y: e.MinY + r.rand.Float64()*e.Height(),
	}
}

// Envelope returns a random box inside e with sides of at most maxSide.
func (r *RNG) Envelope(e geom.Envelope, maxSide float64) geom.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.point(e)
	w := r.rand.Float64() * maxSide
	h := r.rand.Float64() * maxSide
	return geom.NewEnvelope(p.X, p.Y, min(p.X+w, e.MaxX), min(p.Y+h, e.MaxY))
}

// PointFeatures generates n point features with ids 1..n inside e.
// Each feature has a "class" and a "rank" attribute.
func (r *RNG) PointFeatures(n int, e geom.Envelope) []*feature.Feature {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*feature.Feature, n)
	for i := range n {
		p := r.point(e)
		out[i] = feature.New(feature.ID(i+1), geom.NewPoint(p.X, p.Y), r.attributes())
	}
	return out
}

// BoxFeatures generates n polygon features with ids start..start+n-1 inside
// e, each at most maxSide wide and high.
func (r *RNG) BoxFeatures(start feature.ID, n int, e geom.Envelope, maxSide float64) []*feature.Feature {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*feature.Feature, n)
	for i := range n {
		p := r.point(e)
		box := geom.NewEnvelope(p.X, p.Y,
			min(p.X+r.rand.Float64()*maxSide, e.MaxX),
			min(p.Y+r.rand.Float64()*maxSide, e.MaxY))
		out[i] = feature.New(start+feature.ID(i), geom.FromEnvelope(box), r.attributes())
	}
	return out
}

func (r *RNG) attributes() metadata.Document {
	return metadata.Document{
		"class": metadata.String(Classes[r.rand.Intn(len(Classes))]),
		"rank":  metadata.Int(int64(r.rand.Intn(10))),
	}
}

// Features builds features from point coordinates: Features(1, 1, 2, 2)
// returns points (1,1) with id 1 and (2,2) with id 2.
func Features(coords ...float64) []*feature.Feature {
	if len(coords)%2 != 0 {
		panic(fmt.Sprintf("testutil: odd number of coordinates: %d", len(coords)))
	}
	out := make([]*feature.Feature, 0, len(coords)/2)
	for i := 0; i < len(coords); i += 2 {
		id := feature.ID(i/2 + 1)
		out = append(out, feature.New(id, geom.NewPoint(coords[i], coords[i+1]), metadata.Document{
			"name": metadata.String(id.String()),
		}))
	}
	return out
}

// IDs returns the ids of fs in order.
func IDs(fs []*feature.Feature) []feature.ID {
	out := make([]feature.ID, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}
