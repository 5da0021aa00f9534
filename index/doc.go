// Package index defines the spatial index contract consumed by the cache
// engine: node handles with per-node locks, validity, and the populate
// protocol (BeginPopulate, Insert, Commit or Unregister).
//
// Package grid provides the built-in fixed-grid implementation.
package index
