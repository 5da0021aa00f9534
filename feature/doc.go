// Package feature defines the record model of gridcache: features, schemas
// and feature streams.
package feature
