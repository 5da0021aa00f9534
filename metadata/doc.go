// Package metadata provides typed feature attributes and attribute filters.
//
// # Attribute Types
//
// Attribute values can be:
//
//   - String: metadata.String("road")
//   - Int: metadata.Int(2024)
//   - Float: metadata.Float(3.14)
//   - Bool: metadata.Bool(true)
//   - Array: metadata.Array([]metadata.Value{...})
//
// Example:
//
//	attrs := metadata.Document{
//	    "class": metadata.String("road"),
//	    "lanes": metadata.Int(2),
//	}
//
// # Attribute Filters
//
// A Filter compares one attribute against a literal:
//
//	f := metadata.Filter{Key: "lanes", Operator: metadata.OpGreaterEqual, Value: metadata.Int(2)}
//	f.Matches(attrs) // true
//
// Boolean composition (and/or/not) and spatial predicates live in package
// filter, which wraps these comparisons.
package metadata
