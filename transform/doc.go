// Package transform resolves coordinate transforms between CRSs.
//
// Only the transforms the cache needs out of the box are built in: identity
// and EPSG:4326 <-> EPSG:3857. Further transforms are added with
// Registry.Register.
package transform
