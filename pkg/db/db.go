// Package db persists reconciled order state and fills in SQLite.
// Persistence is best-effort from the bridge's point of view: callers
// log write failures and keep reconciling in memory.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB
}

// New opens (and creates if needed) the SQLite database at path and
// applies the schema. Use ":memory:" for tests.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // SQLite prefers a single writer.
	sqlDB.SetConnMaxLifetime(time.Hour)

	d := &Database{DB: sqlDB}
	if err := d.applySchema(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

func (d *Database) applySchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL DEFAULT '',
	side            TEXT NOT NULL DEFAULT '',
	qty             REAL NOT NULL DEFAULT 0,
	price           REAL NOT NULL DEFAULT 0,
	venue_order_id  TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	executed_qty    REAL NOT NULL DEFAULT 0,
	avg_fill_price  REAL NOT NULL DEFAULT 0,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	id              TEXT PRIMARY KEY,
	client_order_id TEXT NOT NULL,
	symbol          TEXT NOT NULL DEFAULT '',
	qty             REAL NOT NULL,
	price           REAL NOT NULL,
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(client_order_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
