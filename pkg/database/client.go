// Package database provides the embedded SQLite client and schema management.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the SQLite WASM build
)

// Client wraps the database handle. All repositories share one Client.
type Client struct {
	db   *sql.DB
	path string
}

// DB returns the underlying database handle for health checks and repositories.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Path returns the database file path.
func (c *Client) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens (creating if absent) the database file at path, applies
// connection pragmas, and ensures the schema exists. The parent directory is
// created with 0700 permissions if missing.
func NewClient(ctx context.Context, path string) (*Client, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// churn between the repositories and keeps transactions simple.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Client{db: db, path: path}, nil
}
