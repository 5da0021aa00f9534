// Package gridcache provides an embeddable spatial read-through cache.
//
// Features (geometry-tagged records with a stable id and typed attributes)
// are partitioned into the cells of a spatial index. A query first consults
// the cache, fetches only the missing cells from a slower feature source,
// populates the cache while the result streams to the caller, and returns
// a de-duplicated, filtered feature stream.
//
// # Quick Start
//
//	idx, _ := grid.New(geom.NewEnvelope(-180, -90, 180, 90), 36, 18)
//	src := memory.New(schema, features...)
//
//	c, _ := gridcache.New(idx, src)
//	defer c.Close()
//
//	it, err := c.Features(ctx, filter.Query{
//	    Filter: filter.BBox(geom.NewEnvelope(5, 45, 15, 55)),
//	})
//	if err != nil {
//	    return err
//	}
//	defer it.Close()
//	for it.Next() {
//	    f := it.Feature()
//	    // ...
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
//
// # Iterator Lifecycle
//
// An iterator holds the locks of the cells it reads until it is closed.
// Cells fetched from the source are committed to the cache on Close, and
// only when the iterator was read to the end. An iterator closed early
// leaves those cells uncached; the next query fetches them again.
//
// # Queries
//
// Queries may filter (filter.And, filter.Or, filter.Attr, filter.BBox ...),
// project and rename attributes, reproject geometries (CRS) and cap the
// number of results (MaxFeatures). Capped queries never populate the cache.
// Sorting and start offsets are rejected with ErrUnsupportedQuery.
//
// # Storage
//
// The grid index keeps cell content in a storage.Storage: in memory by
// default, or as compressed pages in any blobstore.BlobStore (local
// directory, S3, MinIO):
//
//	store, _ := blobstore.NewLocalStore("./cache")
//	idx, _ := grid.New(bounds, 64, 64, grid.WithStorage(storage.NewBlob(store)))
//
// # Observability
//
// Structured logging uses log/slog (WithLogger, WithLogLevel). Operational
// metrics go to a MetricsCollector (WithMetricsCollector); package
// metrics/prometheus exports them to Prometheus.
package gridcache
