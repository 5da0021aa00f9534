package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/hupe1980/gridcache/geom"
)

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config")
)

// Duration is a time.Duration written as a string ("250ms") in config
// files.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// S3Config selects an S3 bucket as node page store.
type S3Config struct {
	Bucket   string `json:"bucket,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// MinIOConfig selects a MinIO bucket as node page store.
type MinIOConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Secure    bool   `json:"secure,omitempty"`
}

// LimitsConfig configures the resource controller.
type LimitsConfig struct {
	MaxFetches     int64   `json:"max_fetches,omitempty"`
	BackendRPS     float64 `json:"backend_rps,omitempty"`
	IOBytesPerSec  int64   `json:"io_bytes_per_sec,omitempty"`
	MemoryBytes    int64   `json:"memory_bytes,omitempty"`
	WarmWorkers    int64   `json:"warm_workers,omitempty"`
	BlockCacheSize int64   `json:"block_cache,omitempty"`
}

// Config holds the options shared by all commands.
type Config struct {
	DB               string       `json:"db"`
	Layer            string       `json:"layer"`
	Grid             string       `json:"grid"`
	Store            string       `json:"store,omitempty"`
	Compression      string       `json:"compression,omitempty"`
	PageCache        int64        `json:"page_cache,omitempty"`
	TTL              Duration     `json:"ttl,omitempty"`
	LockTimeout      Duration     `json:"lock_timeout,omitempty"`
	CompactThreshold int          `json:"compact_threshold,omitempty"`
	LogLevel         string       `json:"log_level,omitempty"`
	MetricsAddr      string       `json:"metrics_addr,omitempty"`
	S3               S3Config     `json:"s3"`
	MinIO            MinIOConfig  `json:"minio"`
	Limits           LimitsConfig `json:"limits"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DB:               "features.db",
		Layer:            "features",
		Grid:             "32x32",
		Compression:      "zstd",
		CompactThreshold: 4,
		LogLevel:         "warn",
	}
}

// bindFlags registers the shared flags on fs, writing into cfg.
func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DB, "db", cfg.DB, "SQLite database file")
	fs.StringVar(&cfg.Layer, "layer", cfg.Layer, "feature layer name")
	fs.StringVar(&cfg.Grid, "grid", cfg.Grid, "grid dimensions as COLSxROWS")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "directory for node pages (default in memory)")
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "node page compression: none, lz4 or zstd")
	fs.Int64Var(&cfg.PageCache, "page-cache", cfg.PageCache, "bytes of decoded node pages kept in memory")
	fs.DurationVar((*time.Duration)(&cfg.TTL), "ttl", time.Duration(cfg.TTL), "node time to live (0 keeps nodes until invalidated)")
	fs.DurationVar((*time.Duration)(&cfg.LockTimeout), "lock-timeout", time.Duration(cfg.LockTimeout), "node lock wait before reading through")
	fs.IntVar(&cfg.CompactThreshold, "compact-threshold", cfg.CompactThreshold, "largest missing node count fetched as separate boxes")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address after the run")

	fs.StringVar(&cfg.S3.Bucket, "s3-bucket", cfg.S3.Bucket, "store node pages in this S3 bucket")
	fs.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "S3 region")
	fs.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "S3-compatible endpoint URL")
	fs.StringVar(&cfg.S3.Prefix, "s3-prefix", cfg.S3.Prefix, "S3 key prefix")

	fs.StringVar(&cfg.MinIO.Endpoint, "minio-endpoint", cfg.MinIO.Endpoint, "store node pages on this MinIO server (host:port)")
	fs.StringVar(&cfg.MinIO.AccessKey, "minio-access-key", cfg.MinIO.AccessKey, "MinIO access key")
	fs.StringVar(&cfg.MinIO.SecretKey, "minio-secret-key", cfg.MinIO.SecretKey, "MinIO secret key")
	fs.StringVar(&cfg.MinIO.Bucket, "minio-bucket", cfg.MinIO.Bucket, "MinIO bucket")
	fs.StringVar(&cfg.MinIO.Prefix, "minio-prefix", cfg.MinIO.Prefix, "MinIO key prefix")
	fs.BoolVar(&cfg.MinIO.Secure, "minio-secure", cfg.MinIO.Secure, "use TLS for MinIO")

	fs.Int64Var(&cfg.Limits.MaxFetches, "max-fetches", cfg.Limits.MaxFetches, "concurrent backend requests (0 unlimited)")
	fs.Float64Var(&cfg.Limits.BackendRPS, "backend-rps", cfg.Limits.BackendRPS, "backend requests per second (0 unlimited)")
	fs.Int64Var(&cfg.Limits.IOBytesPerSec, "io-limit", cfg.Limits.IOBytesPerSec, "node page write bytes per second (0 unlimited)")
	fs.Int64Var(&cfg.Limits.MemoryBytes, "memory-limit", cfg.Limits.MemoryBytes, "memory limit for page and block caches (0 unlimited)")
	fs.Int64Var(&cfg.Limits.WarmWorkers, "warm-workers", cfg.Limits.WarmWorkers, "parallel warm requests")
	fs.Int64Var(&cfg.Limits.BlockCacheSize, "block-cache", cfg.Limits.BlockCacheSize, "bytes of remote page blocks kept in memory")
}

// loadConfigFile decodes the config file at path into cfg. Fields the file
// does not mention keep their value.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-controlled
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}
	if err := parseConfig(data, cfg); err != nil {
		return fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return nil
}

func parseConfig(data []byte, cfg *Config) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func (c Config) logLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", errConfigInvalid, c.LogLevel)
	}
	return l, nil
}

func (c Config) gridSize() (cols, rows int, err error) {
	cs, rs, ok := strings.Cut(strings.ToLower(c.Grid), "x")
	if ok {
		cols, err = strconv.Atoi(cs)
		if err == nil {
			rows, err = strconv.Atoi(rs)
		}
	}
	if !ok || err != nil || cols <= 0 || rows <= 0 {
		return 0, 0, fmt.Errorf("%w: grid %q, want COLSxROWS", errConfigInvalid, c.Grid)
	}
	return cols, rows, nil
}

// parseBBox parses "minx,miny,maxx,maxy".
func parseBBox(s string) (geom.Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geom.Envelope{}, fmt.Errorf("bbox %q: want minx,miny,maxx,maxy", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Envelope{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	return geom.NewEnvelope(v[0], v[1], v[2], v[3]), nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
