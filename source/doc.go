// Package source defines the backend feature store consumed by the cache
// and helpers shared by its implementations.
//
// Implementations:
//
//   - source/memory: an in-process feature collection.
//   - source/sqlite: a SQLite feature table (modernc.org/sqlite) with
//     bounding box push-down.
package source
