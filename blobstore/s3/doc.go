// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("tiles/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
//	pages := storage.NewBlob(store)
//	idx, err := grid.New(bounds, 64, 64, grid.WithStorage(pages))
//
// Reads use ranged GETs, so a CachingStore in front of the S3 store only
// fetches the blocks it misses.
package s3
