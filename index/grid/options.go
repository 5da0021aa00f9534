package grid

import (
	"log/slog"
	"time"

	"github.com/hupe1980/gridcache/storage"
)

// Option configures an Index.
type Option func(*Index)

// WithStorage sets where node content is kept. The index takes ownership
// and closes it on Close. Default: storage.NewMemory().
func WithStorage(s storage.Storage) Option {
	return func(x *Index) {
		if s != nil {
			x.store = s
		}
	}
}

// WithTTL expires node content ttl after it was populated.
// Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(x *Index) {
		x.ttl = ttl
	}
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(x *Index) {
		if now != nil {
			x.now = now
		}
	}
}

// WithMaxNodes bounds the number of valid cells. When a commit exceeds the
// bound, the least recently read cells are evicted. Zero means unbounded.
func WithMaxNodes(n int) Option {
	return func(x *Index) {
		x.maxNodes = n
	}
}

// WithMaxSpan routes features covering more than n cells to the root
// instead of storing a copy in every cell. Zero never routes to the root.
func WithMaxSpan(n int) Option {
	return func(x *Index) {
		x.maxSpan = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}
