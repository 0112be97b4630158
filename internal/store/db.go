package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"memento/internal/logging"
)

// DB wraps the shared *sql.DB connection the Entity Store, Relationship
// Store and Vector Store all operate on, mirroring a single SQLite file
// per workspace rather than one file per component.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the SQLite database at path, applying the schema
// and any pending migrations. A single connection is kept open (SQLite
// serializes writers regardless), matching the teacher's one-conn pattern.
func Open(path string) (*DB, error) {
	timer := logging.StartTimer(logging.CategoryEntityStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	conn, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			logging.EntityStoreDebug("pragma failed: %s: %v", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaDDL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.EntityStore("database ready at %s (native vector search: %v)", path, HasNativeVectorSearch)
	return &DB{conn: conn, path: path}, nil
}

// Conn exposes the underlying connection for components (Vector Store)
// that need to share it without re-opening the file.
func (d *DB) Conn() *sql.DB { return d.conn }

// Close releases the database connection.
func (d *DB) Close() error { return d.conn.Close() }
