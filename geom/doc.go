// Package geom provides the small amount of planar geometry the cache needs:
// axis-aligned envelopes (regions) and coordinate-list geometries.
//
// Envelope is the region type used throughout gridcache. It is a value type
// and never mutated in place:
//
//	a := geom.NewEnvelope(0, 0, 10, 10)
//	b := geom.NewEnvelope(5, 5, 20, 20)
//	u := a.Union(b)          // ENVELOPE(0 0, 20 20)
//	ok := a.Intersects(b)    // true
package geom
