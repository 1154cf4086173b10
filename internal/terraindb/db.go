// Package terraindb persists acquired elevation datasets and derived
// terrain products in sqlite. Raster buffers are stored as compressed
// blobs; everything needed to reconstruct a georeferenced grid (CRS,
// transform, dimensions, nodata) is kept in columns alongside.
package terraindb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle.
type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the artifact database at path and applies all
// pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenDB opens the database without touching the schema. Use NewDB unless
// migrations are managed externally (e.g. the migrate subcommand).
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Serialised writers; sqlite handles one writer at a time and the
	// manager may commit from several flights concurrently.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return &DB{db}, nil
}
