package prometheus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gridcache"
	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/index/grid"
	"github.com/hupe1980/gridcache/source/memory"
	"github.com/hupe1980/gridcache/testutil"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "poi")

	c.RecordQuery(2, 3, 10*time.Millisecond, nil)
	c.RecordQuery(0, 1, time.Millisecond, errors.New("boom"))
	c.RecordBackendFetch(3, true, 5*time.Millisecond, nil)
	c.RecordLockFailure(true)
	c.RecordLockFailure(false)
	c.RecordLockFailure(false)
	c.RecordPopulate(7, true)
	c.RecordPopulate(0, false)

	assert.InDelta(t, 2, promtest.ToFloat64(c.nodes.WithLabelValues("found")), 0)
	assert.InDelta(t, 4, promtest.ToFloat64(c.nodes.WithLabelValues("missing")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(c.lockFailures.WithLabelValues("write")), 0)
	assert.InDelta(t, 2, promtest.ToFloat64(c.lockFailures.WithLabelValues("read")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(c.populated.WithLabelValues("committed")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(c.populated.WithLabelValues("abandoned")), 0)
	assert.InDelta(t, 7, promtest.ToFloat64(c.features), 0)

	assert.Equal(t, 2, promtest.CollectAndCount(c.queryLatency))
	assert.Equal(t, 1, promtest.CollectAndCount(c.fetchLatency))

	err := promtest.GatherAndCompare(reg, strings.NewReader(`
# HELP gridcache_populated_features_total Features written into committed nodes.
# TYPE gridcache_populated_features_total counter
gridcache_populated_features_total{layer="poi"} 7
`), "gridcache_populated_features_total")
	require.NoError(t, err)
}

func TestCollectorWithCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewCollector(reg, "poi")

	bounds := geom.NewEnvelope(0, 0, 100, 100)
	schema := &feature.Schema{Name: "poi", GeometryName: "geom", CRS: "EPSG:4326"}
	src := memory.New(schema, testutil.NewRNG(7).PointFeatures(200, bounds)...)

	idx, err := grid.New(bounds, 10, 10)
	require.NoError(t, err)
	c, err := gridcache.New(idx, src, gridcache.WithMetricsCollector(mc))
	require.NoError(t, err)
	defer c.Close()

	q := filter.Query{Filter: filter.BBox(geom.NewEnvelope(1, 1, 19, 9))}
	for range 2 {
		it, err := c.Features(context.Background(), q)
		require.NoError(t, err)
		_, err = feature.Collect(it)
		require.NoError(t, err)
	}

	assert.InDelta(t, 2, promtest.ToFloat64(mc.nodes.WithLabelValues("found")), 0)
	assert.InDelta(t, 2, promtest.ToFloat64(mc.nodes.WithLabelValues("missing")), 0)
	assert.InDelta(t, 2, promtest.ToFloat64(mc.populated.WithLabelValues("committed")), 0)
	assert.Equal(t, 1, promtest.CollectAndCount(mc.fetchLatency))
}
