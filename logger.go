package gridcache

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
)

// Logger wraps slog.Logger with gridcache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithLayer adds the feature type name to the logger.
func (l *Logger) WithLayer(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("layer", name),
	}
}

// LogQuery logs the opening of a query.
func (l *Logger) LogQuery(ctx context.Context, q filter.Query, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"query", q.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query opened",
			"query", q.String(),
			"duration", duration,
		)
	}
}

// LogWarm logs a warm operation.
func (l *Logger) LogWarm(ctx context.Context, regions, features int, duration time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "warm failed",
			"regions", regions,
			"features", features,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "warm completed",
			"regions", regions,
			"features", features,
			"duration", duration,
		)
	}
}

// LogInvalidate logs an invalidation.
func (l *Logger) LogInvalidate(ctx context.Context, region geom.Envelope, nodes int) {
	l.DebugContext(ctx, "region invalidated",
		"region", region.String(),
		"nodes", nodes,
	)
}
