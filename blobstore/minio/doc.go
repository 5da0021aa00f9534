// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible object stores (Ceph, Garage,
// SeaweedFS) without pulling in the AWS SDK.
//
// # Basic Usage
//
//	store, err := minio.Dial(ctx, "localhost:9000", "minioadmin", "minioadmin",
//	    "gridcache", "tiles/", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pages := storage.NewBlob(store)
package minio
