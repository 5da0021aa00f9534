package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/gridcache"
	"github.com/hupe1980/gridcache/blobstore"
	"github.com/hupe1980/gridcache/blobstore/minio"
	"github.com/hupe1980/gridcache/blobstore/s3"
	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/index/grid"
	"github.com/hupe1980/gridcache/internal/cache"
	"github.com/hupe1980/gridcache/metadata"
	gcprom "github.com/hupe1980/gridcache/metrics/prometheus"
	"github.com/hupe1980/gridcache/resource"
	"github.com/hupe1980/gridcache/source/sqlite"
	"github.com/hupe1980/gridcache/storage"
)

// blockSize is the read block of the remote page block cache.
const blockSize = 64 << 10

func queryCommand() *Command {
	c := newCommand("query [flags]", "Run a query through the cache and print features and cache statistics")

	bbox := c.Flags.String("bbox", "", "query box as minx,miny,maxx,maxy (default everything)")
	maxFeatures := c.Flags.Int("max", 0, "maximum number of features (0 unlimited)")
	crs := c.Flags.String("crs", "", "output CRS (default the layer CRS)")
	props := c.Flags.String("props", "", "comma separated attributes to return")
	repeat := c.Flags.Int("repeat", 1, "run the query this many times")
	warm := c.Flags.Bool("warm", false, "warm the query box before running the query")
	quiet := c.Flags.BoolP("quiet", "q", false, "print statistics only")

	c.Exec = func(ctx context.Context, cfg Config, out io.Writer, _ []string) error {
		q := filter.Query{
			Filter:      filter.Include,
			CRS:         *crs,
			Properties:  splitList(*props),
			MaxFeatures: *maxFeatures,
		}
		if *bbox != "" {
			box, err := parseBBox(*bbox)
			if err != nil {
				return err
			}
			q.Filter = filter.BBox(box)
		}
		return runQuery(ctx, cfg, out, q, max(*repeat, 1), *warm, *quiet)
	}
	return c
}

func runQuery(ctx context.Context, cfg Config, out io.Writer, q filter.Query, repeat int, warm, quiet bool) (err error) {
	level, err := cfg.logLevel()
	if err != nil {
		return err
	}
	cols, rows, err := cfg.gridSize()
	if err != nil {
		return err
	}
	logger := gridcache.NewTextLogger(level)

	db, err := sqlite.OpenDB(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, db.Close()) }()

	src, err := sqlite.OpenLayer(ctx, db, cfg.Layer)
	if err != nil {
		return err
	}
	extent, err := src.Bounds(ctx)
	if err != nil {
		return err
	}
	if extent.IsEmpty() {
		return fmt.Errorf("layer %q is empty", cfg.Layer)
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:      cfg.Limits.MemoryBytes,
		MaxBackgroundWorkers:  cfg.Limits.WarmWorkers,
		IOLimitBytesPerSec:    cfg.Limits.IOBytesPerSec,
		BackendRequestsPerSec: cfg.Limits.BackendRPS,
		MaxConcurrentFetches:  cfg.Limits.MaxFetches,
	})

	gopts := []grid.Option{grid.WithLogger(logger.Logger)}
	if cfg.TTL > 0 {
		gopts = append(gopts, grid.WithTTL(time.Duration(cfg.TTL)))
	}
	pages, err := openStorage(ctx, cfg, rc)
	if err != nil {
		return err
	}
	if pages != nil {
		gopts = append(gopts, grid.WithStorage(pages))
	}

	idx, err := grid.New(extent, cols, rows, gopts...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	gc, err := gridcache.New(idx, src,
		gridcache.WithLogger(logger),
		gridcache.WithMetricsCollector(gcprom.NewCollector(reg, cfg.Layer)),
		gridcache.WithCompactThreshold(cfg.CompactThreshold),
		gridcache.WithLockTimeout(time.Duration(cfg.LockTimeout)),
		gridcache.WithResourceController(rc),
	)
	if err != nil {
		_ = idx.Close()
		return err
	}
	defer func() { err = errors.Join(err, gc.Close()) }()

	if warm {
		start := time.Now()
		if err := gc.Warm(ctx, filter.Bounds(q.Predicate()).Intersection(extent)); err != nil {
			return err
		}
		fmt.Fprintf(out, "warm: %s\n", time.Since(start).Round(time.Microsecond))
	}

	enc := json.NewEncoder(out)
	for i := range repeat {
		before := gc.Stats().Engine.BackendFetches
		start := time.Now()
		n, err := printFeatures(ctx, gc, q, enc, quiet || i > 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "run %d: %d features in %s, %d backend requests\n",
			i+1, n, time.Since(start).Round(time.Microsecond), gc.Stats().Engine.BackendFetches-before)
	}

	if err := gc.Flush(ctx); err != nil {
		return err
	}
	printStats(out, gc.Stats())

	if cfg.MetricsAddr != "" {
		return serveMetrics(ctx, cfg.MetricsAddr, reg)
	}
	return nil
}

type featureJSON struct {
	ID         feature.ID     `json:"id"`
	BBox       [4]float64     `json:"bbox"`
	Geometry   string         `json:"geometry"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func printFeatures(ctx context.Context, gc *gridcache.Cache, q filter.Query, enc *json.Encoder, quiet bool) (n int, err error) {
	it, err := gc.Features(ctx, q)
	if err != nil {
		return 0, err
	}
	defer func() { err = errors.Join(err, it.Close()) }()

	for it.Next() {
		n++
		if quiet {
			continue
		}
		f := it.Feature()
		e := f.Envelope()
		if err := enc.Encode(featureJSON{
			ID:         f.ID,
			BBox:       [4]float64{e.MinX, e.MinY, e.MaxX, e.MaxY},
			Geometry:   f.Geometry.String(),
			Attributes: metadata.DocumentToAny(f.Attributes),
		}); err != nil {
			return n, err
		}
	}
	return n, it.Err()
}

func printStats(out io.Writer, st gridcache.Stats) {
	fmt.Fprintf(out, "queries=%d hits=%d bypassed=%d fetches=%d fetch_failures=%d lock_failures=%d\n",
		st.Engine.Queries, st.Engine.CacheHits, st.Engine.Bypassed,
		st.Engine.BackendFetches, st.Engine.BackendFailures, st.Engine.LockFailures)
	fmt.Fprintf(out, "nodes=%d valid=%d root_features=%d commits=%d aborts=%d evictions=%d\n",
		st.Index.Nodes, st.Index.ValidNodes, st.Index.RootFeatures,
		st.Index.Commits, st.Index.Aborts, st.Index.Evictions)
}

// openStorage returns the node page storage selected by cfg, or nil for the
// default in-memory storage.
func openStorage(ctx context.Context, cfg Config, rc *resource.Controller) (storage.Storage, error) {
	comp, err := storage.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var (
		store  blobstore.BlobStore
		remote bool
	)
	switch {
	case cfg.S3.Bucket != "":
		var opts []s3.Option
		if cfg.S3.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.S3.Region))
		}
		if cfg.S3.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.S3.Endpoint))
		}
		if cfg.S3.Prefix != "" {
			opts = append(opts, s3.WithPrefix(cfg.S3.Prefix))
		}
		if store, err = s3.New(ctx, cfg.S3.Bucket, opts...); err != nil {
			return nil, err
		}
		remote = true
	case cfg.MinIO.Endpoint != "":
		if store, err = minio.Dial(ctx, cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey,
			cfg.MinIO.Bucket, cfg.MinIO.Prefix, cfg.MinIO.Secure); err != nil {
			return nil, err
		}
		remote = true
	case cfg.Store != "":
		if store, err = blobstore.NewLocalStore(cfg.Store); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	if remote && cfg.Limits.BlockCacheSize > 0 {
		store = blobstore.NewCachingStore(store, cache.NewShardedLRUBlockCache(cfg.Limits.BlockCacheSize, rc), blockSize)
	}
	return storage.NewBlob(store,
		storage.WithCompression(comp),
		storage.WithPrefix(cfg.Layer+"/"),
		storage.WithResourceController(rc),
		storage.WithPageCache(cfg.PageCache),
	), nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
