package source

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/metadata"
)

var (
	// ErrUnknownType is returned for a query naming another feature type.
	ErrUnknownType = errors.New("source: unknown feature type")
	// ErrUnsupportedSort is returned by sources that only produce natural
	// order.
	ErrUnsupportedSort = errors.New("source: sorting not supported")
)

// FeatureSource is the backend record store behind the cache.
//
// Features may be called concurrently. Returned features belong to the
// caller.
type FeatureSource interface {
	Schema() *feature.Schema
	Features(ctx context.Context, q filter.Query) (feature.Iterator, error)
}

// BoundsProvider is implemented by sources that know the extent of their
// data.
type BoundsProvider interface {
	Bounds(ctx context.Context) (geom.Envelope, error)
}

// CheckTypeName returns ErrUnknownType when q names a type other than s.
func CheckTypeName(s *feature.Schema, q filter.Query) error {
	if q.TypeName != "" && q.TypeName != s.Name {
		return fmt.Errorf("%w: %q (have %q)", ErrUnknownType, q.TypeName, s.Name)
	}
	return nil
}

// Page wraps it to skip the first start features and stop after max
// features. max <= 0 means no limit.
func Page(it feature.Iterator, start, max int) feature.Iterator {
	if start <= 0 && max <= 0 {
		return it
	}
	skipped, yielded := 0, 0
	return feature.NewFuncIterator(func() (*feature.Feature, error) {
		for skipped < start {
			if !it.Next() {
				return nil, it.Err()
			}
			skipped++
		}
		if max > 0 && yielded >= max {
			return nil, nil
		}
		if !it.Next() {
			return nil, it.Err()
		}
		yielded++
		return it.Feature(), nil
	}, it.Close)
}

// Filtered wraps it to yield only features matching f.
func Filtered(it feature.Iterator, f filter.Filter) feature.Iterator {
	if f == nil || f == filter.Include {
		return it
	}
	return feature.NewFuncIterator(func() (*feature.Feature, error) {
		for it.Next() {
			if cur := it.Feature(); f.Evaluate(cur) {
				return cur, nil
			}
		}
		return nil, it.Err()
	}, it.Close)
}

// Sort orders fs by the given properties. Missing attributes sort first;
// ties keep id order.
func Sort(fs []*feature.Feature, by []filter.SortBy) {
	slices.SortStableFunc(fs, func(a, b *feature.Feature) int {
		for _, s := range by {
			c := compareAttr(a, b, s.Property)
			if s.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func compareAttr(a, b *feature.Feature, name string) int {
	av, aok := a.Attribute(name)
	bv, bok := b.Attribute(name)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}

	if c, ok := metadata.Compare(av, bv); ok {
		return c
	}
	return cmp.Compare(av.Kind, bv.Kind)
}
