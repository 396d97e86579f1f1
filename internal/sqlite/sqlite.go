// Package sqlite opens the SQLite databases backing the durable stores.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens (or creates) the database at path and applies schema. WAL mode
// and a busy timeout are enabled for file databases. An in-memory database
// is pinned to one connection so every query sees the same data.
func Open(ctx context.Context, path, schema string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	if path == MemoryPath {
		dsn = "file::memory:?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	if schema != "" {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return db, nil
}
