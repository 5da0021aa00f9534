package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/gridcache/codec"
	"github.com/hupe1980/gridcache/feature"
	"github.com/hupe1980/gridcache/filter"
	"github.com/hupe1980/gridcache/geom"
	"github.com/hupe1980/gridcache/metadata"
	"github.com/hupe1980/gridcache/source"
)

// ErrLayerNotFound is returned by OpenLayer for an unknown layer.
var ErrLayerNotFound = errors.New("sqlite: layer not found")

// busyTimeout is how long SQLite waits on a locked database (milliseconds).
const busyTimeout = 5000

// OpenDB opens (or creates) the database at path and migrates it.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA temp_store = MEMORY;
	`, busyTimeout))
	if err != nil {
		return fmt.Errorf("apply pragmas: %w", err)
	}
	return nil
}

// Source serves one layer of the features table.
type Source struct {
	db     *sql.DB
	schema *feature.Schema
	codec  codec.Codec
}

var (
	_ source.FeatureSource  = (*Source)(nil)
	_ source.BoundsProvider = (*Source)(nil)
)

// CreateLayer registers schema as a layer, replacing the schema of an
// existing layer with the same name, and returns its source.
func CreateLayer(ctx context.Context, db *sql.DB, schema *feature.Schema) (*Source, error) {
	if schema == nil || schema.Name == "" {
		return nil, errors.New("sqlite: layer schema needs a name")
	}
	c := codec.Default
	raw, err := c.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO layers (name, schema) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET schema = excluded.schema`,
		schema.Name, string(raw)); err != nil {
		return nil, fmt.Errorf("create layer %q: %w", schema.Name, err)
	}
	return &Source{db: db, schema: schema.Clone(), codec: c}, nil
}

// OpenLayer returns the source of an existing layer.
func OpenLayer(ctx context.Context, db *sql.DB, name string) (*Source, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT schema FROM layers WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open layer %q: %w", name, err)
	}

	c := codec.Default
	var schema feature.Schema
	if err := c.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, fmt.Errorf("decode schema of layer %q: %w", name, err)
	}
	return &Source{db: db, schema: &schema, codec: c}, nil
}

// Layers returns the names of all layers.
func Layers(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM layers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Schema returns the layer schema.
func (s *Source) Schema() *feature.Schema { return s.schema }

// Insert adds or replaces features in one transaction.
func (s *Source) Insert(ctx context.Context, fs ...*feature.Feature) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO features (layer, id, minx, miny, maxx, maxy, geometry, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(layer, id) DO UPDATE SET
			minx = excluded.minx, miny = excluded.miny,
			maxx = excluded.maxx, maxy = excluded.maxy,
			geometry = excluded.geometry, attributes = excluded.attributes`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range fs {
		e := f.Envelope()
		if e.IsEmpty() {
			return fmt.Errorf("insert %s: empty geometry", f.ID)
		}
		g, err := s.codec.Marshal(f.Geometry)
		if err != nil {
			return fmt.Errorf("insert %s: %w", f.ID, err)
		}
		attrs := f.Attributes
		if attrs == nil {
			attrs = metadata.Document{}
		}
		a, err := s.codec.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("insert %s: %w", f.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, s.schema.Name, int64(f.ID),
			e.MinX, e.MinY, e.MaxX, e.MaxY, string(g), string(a)); err != nil {
			return fmt.Errorf("insert %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes features by id.
func (s *Source) Delete(ctx context.Context, ids ...feature.ID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.schema.Name)
	for _, id := range ids {
		args = append(args, int64(id))
	}
	q := `DELETE FROM features WHERE layer = ? AND id IN (` + placeholders(len(ids)) + `)`
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// Count returns the number of features in the layer.
func (s *Source) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE layer = ?`, s.schema.Name).Scan(&n)
	return n, err
}

// Bounds returns the extent of the layer, or an empty envelope.
func (s *Source) Bounds(ctx context.Context) (geom.Envelope, error) {
	var minx, miny, maxx, maxy sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(minx), MIN(miny), MAX(maxx), MAX(maxy) FROM features WHERE layer = ?`,
		s.schema.Name).Scan(&minx, &miny, &maxx, &maxy)
	if err != nil {
		return geom.Empty(), err
	}
	if !minx.Valid {
		return geom.Empty(), nil
	}
	return geom.NewEnvelope(minx.Float64, miny.Float64, maxx.Float64, maxy.Float64), nil
}

// Features streams the matching features in id order.
//
// A bounding box, an OR of bounding boxes, or the spatial bound of a
// compound filter is evaluated in SQL; the full filter is always applied to
// the decoded rows.
func (s *Source) Features(ctx context.Context, q filter.Query) (feature.Iterator, error) {
	if err := source.CheckTypeName(s.schema, q); err != nil {
		return nil, err
	}
	if !q.IsNaturalOrder() {
		return nil, source.ErrUnsupportedSort
	}

	pred := q.Predicate()
	where, args, ok := bboxClause(pred)
	if !ok {
		return feature.Empty(), nil
	}

	stmt := `SELECT id, geometry, attributes FROM features WHERE layer = ?` + where + ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, stmt, append([]any{s.schema.Name}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query layer %q: %w", s.schema.Name, err)
	}

	it := feature.NewFuncIterator(func() (*feature.Feature, error) {
		for rows.Next() {
			f, err := s.scan(rows)
			if err != nil {
				return nil, err
			}
			if pred.Evaluate(f) {
				return f, nil
			}
		}
		return nil, rows.Err()
	}, rows.Close)

	return source.Page(it, q.StartIndex, q.MaxFeatures), nil
}

func (s *Source) scan(rows *sql.Rows) (*feature.Feature, error) {
	var (
		id          int64
		g, attrsRaw string
	)
	if err := rows.Scan(&id, &g, &attrsRaw); err != nil {
		return nil, err
	}

	f := &feature.Feature{ID: feature.ID(id)}
	if err := s.codec.Unmarshal([]byte(g), &f.Geometry); err != nil {
		return nil, fmt.Errorf("decode geometry of %s: %w", f.ID, err)
	}
	if err := s.codec.Unmarshal([]byte(attrsRaw), &f.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of %s: %w", f.ID, err)
	}
	return f, nil
}

// bboxClause translates the spatial part of f into SQL. ok is false when f
// cannot match anything.
func bboxClause(f filter.Filter) (where string, args []any, ok bool) {
	boxes, exact := filter.BBoxes(f)
	if !exact {
		b := filter.Bounds(f)
		if b.IsEmpty() {
			return "", nil, false
		}
		if b.IsInfinite() {
			return "", nil, true
		}
		boxes = []geom.Envelope{b}
	}

	parts := make([]string, 0, len(boxes))
	for _, b := range boxes {
		if b.IsInfinite() {
			return "", nil, true
		}
		if b.IsEmpty() {
			continue
		}
		parts = append(parts, `(maxx >= ? AND minx <= ? AND maxy >= ? AND miny <= ?)`)
		args = append(args, b.MinX, b.MaxX, b.MinY, b.MaxY)
	}
	if len(parts) == 0 {
		return "", nil, false
	}
	return ` AND (` + strings.Join(parts, ` OR `) + `)`, args, true
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
