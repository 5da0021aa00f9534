// Package sqlite provides a FeatureSource backed by SQLite
// (modernc.org/sqlite, no cgo).
//
// Features are stored per layer with their envelope in indexed columns, so
// bounding box filters are answered by SQL. Geometry and attributes are
// JSON. The schema is managed with golang-migrate from embedded migrations.
//
//	db, err := sqlite.OpenDB(ctx, "features.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	roads, err := sqlite.CreateLayer(ctx, db, schema)
package sqlite
