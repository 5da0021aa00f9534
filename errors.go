package gridcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/gridcache/index"
	"github.com/hupe1980/gridcache/internal/engine"
	"github.com/hupe1980/gridcache/source"
)

var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("gridcache: closed")

	// ErrUnsupportedQuery is returned for queries with an explicit sort order
	// or a non-zero start index. Those cannot be answered from merged cache
	// and backend streams.
	ErrUnsupportedQuery = errors.New("gridcache: unsupported query")

	// ErrSchemaAdaptation is returned when no output schema can be computed
	// for a query.
	ErrSchemaAdaptation = errors.New("gridcache: schema adaptation failed")
)

// ErrUnknownType indicates a query naming a feature type the source does
// not serve. It also matches ErrSchemaAdaptation.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrUnknownType struct {
	TypeName string
	cause    error
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown feature type: %q", e.TypeName)
}

func (e *ErrUnknownType) Unwrap() error { return e.cause }

func translateError(err error, q string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrClosed) || errors.Is(err, index.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, source.ErrUnknownType) {
		return &ErrUnknownType{TypeName: q, cause: fmt.Errorf("%w: %w", ErrSchemaAdaptation, err)}
	}
	if errors.Is(err, engine.ErrSchemaAdaptation) {
		return fmt.Errorf("%w: %w", ErrSchemaAdaptation, err)
	}
	if errors.Is(err, engine.ErrUnsupportedQuery) {
		return fmt.Errorf("%w: %w", ErrUnsupportedQuery, err)
	}

	return err
}
