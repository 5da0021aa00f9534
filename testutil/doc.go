// Package testutil provides testing utilities for gridcache.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Features
//
//	rng := testutil.NewRNG(seed)
//	fs := rng.PointFeatures(1000, geom.NewEnvelope(0, 0, 100, 100))
//
// # Backend Call Counting
//
//	src := testutil.NewCountingSource(memory.New(schema, fs...))
//	// ... run queries ...
//	src.Calls()   // backend requests issued
//	src.Queries() // the filters sent to the backend
//
// # Lock Balance
//
//	idx := testutil.NewLockCounter(grid)
//	// ... run queries ...
//	require.NoError(t, idx.CheckBalanced())
package testutil
