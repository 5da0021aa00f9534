// Package filter provides the feature predicates and the query model used by
// gridcache and its backend sources.
//
// Filters compose with And, Or and Not. Bounds extracts the spatial extent a
// filter can match, which is what the cache uses to pick grid cells:
//
//	f := filter.And(
//	    filter.BBox(geom.NewEnvelope(0, 0, 10, 10)),
//	    filter.Attr("class", metadata.OpEqual, metadata.String("road")),
//	)
//	filter.Bounds(f) // ENVELOPE(0 0, 10 10)
package filter
