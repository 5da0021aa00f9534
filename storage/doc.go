// Package storage persists the content of spatial index nodes.
//
// Two implementations are provided:
//
//   - Memory keeps node content in process memory.
//   - Blob writes one compressed page per node to a blobstore.BlobStore
//     (local disk, S3 or MinIO).
//
// Pages record their codec and compression so a store written with one
// configuration stays readable after the defaults change.
//
//	pages := storage.NewBlob(store,
//	    storage.WithPrefix("roads/"),
//	    storage.WithCompression(storage.CompressionLZ4),
//	    storage.WithPageCache(64<<20),
//	)
package storage
