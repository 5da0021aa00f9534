package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/metadata"
	"github.com/hupe1980/gridcache/source/sqlite"
	"github.com/hupe1980/gridcache/testutil"
	"github.com/hupe1980/gridcache/transform"
)

func seedCommand() *Command {
	c := newCommand("seed [flags]", "Generate random point features into a SQLite layer")

	count := c.Flags.Int("count", 10000, "number of features")
	bounds := c.Flags.String("bounds", "-180,-90,180,90", "extent as minx,miny,maxx,maxy")
	seed := c.Flags.Int64("seed", 42, "random seed")
	batch := c.Flags.Int("batch", 1000, "features per transaction")
	crs := c.Flags.String("crs", transform.WGS84, "layer CRS")

	c.Exec = func(ctx context.Context, cfg Config, out io.Writer, _ []string) error {
		if *count <= 0 || *batch <= 0 {
			return errors.New("count and batch must be positive")
		}
		extent, err := parseBBox(*bounds)
		if err != nil {
			return err
		}

		db, err := sqlite.OpenDB(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		layer, err := sqlite.CreateLayer(ctx, db, &feature.Schema{
			Name:         cfg.Layer,
			GeometryName: "geom",
			CRS:          *crs,
			Attributes: []feature.AttributeDescriptor{
				{Name: "class", Kind: metadata.KindString},
				{Name: "rank", Kind: metadata.KindInt},
			},
		})
		if err != nil {
			return err
		}

		start := time.Now()
		fs := testutil.NewRNG(*seed).PointFeatures(*count, extent)
		for i := 0; i < len(fs); i += *batch {
			if err := layer.Insert(ctx, fs[i:min(i+*batch, len(fs))]...); err != nil {
				return err
			}
		}

		n, err := layer.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "seeded %d features into layer %q of %s (%d total) in %s\n",
			len(fs), cfg.Layer, cfg.DB, n, time.Since(start).Round(time.Millisecond))
		return nil
	}
	return c
}

func layersCommand() *Command {
	c := newCommand("layers [flags]", "List the layers of a SQLite database")

	c.Exec = func(ctx context.Context, cfg Config, out io.Writer, _ []string) error {
		db, err := sqlite.OpenDB(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		names, err := sqlite.Layers(ctx, db)
		if err != nil {
			return err
		}
		for _, name := range names {
			layer, err := sqlite.OpenLayer(ctx, db, name)
			if err != nil {
				return err
			}
			n, err := layer.Count(ctx)
			if err != nil {
				return err
			}
			b, err := layer.Bounds(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%d\t%s\t%s\n", name, n, layer.Schema().CRS, b)
		}
		return nil
	}
	return c
}
