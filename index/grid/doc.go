// Package grid implements index.SpatialIndex as a fixed grid of cells.
//
// Each cell has its own lock, validity flag and stored content. Features
// covering many cells can be routed to the root node so they are stored
// once (WithMaxSpan). Content can expire (WithTTL) and the number of valid
// cells can be bounded with least-recently-read eviction (WithMaxNodes).
//
//	idx, err := grid.New(geom.NewEnvelope(0, 0, 100, 100), 10, 10,
//	    grid.WithTTL(10*time.Minute),
//	    grid.WithMaxNodes(64),
//	)
package grid
