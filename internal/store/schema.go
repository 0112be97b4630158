// Package store implements the Entity Store (C5) and Relationship Store
// (C6) components: SQLite-backed persistence for the knowledge graph, plus
// the versioned migrations that keep an existing database usable across
// schema changes.
package store

import (
	"database/sql"
	"fmt"

	"memento/internal/logging"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	path TEXT NOT NULL,
	hash TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL,
	last_modified INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	data TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);

CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	from_entity_id TEXT NOT NULL,
	to_entity_id TEXT NOT NULL DEFAULT '',
	unresolved_to TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	created INTEGER NOT NULL,
	last_modified INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	valid_from INTEGER NOT NULL,
	valid_to INTEGER,
	active INTEGER NOT NULL DEFAULT 1,
	confidence REAL,
	inferred INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	occurrences INTEGER NOT NULL DEFAULT 1,
	evidence TEXT NOT NULL DEFAULT '[]',
	locations TEXT NOT NULL DEFAULT '[]',
	last_seen_at INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_entity_id);
CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships(to_entity_id);
CREATE INDEX IF NOT EXISTS idx_rel_type ON relationships(type);
CREATE INDEX IF NOT EXISTS idx_rel_active ON relationships(active);

CREATE TABLE IF NOT EXISTS versions (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	snapshot_hash TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL,
	change_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_versions_entity ON versions(entity_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	created INTEGER NOT NULL,
	seed_entities TEXT NOT NULL,
	depth INTEGER NOT NULL,
	entity_ids TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_vectors (
	entity_id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created INTEGER NOT NULL,
	last_modified INTEGER NOT NULL DEFAULT 0,
	stale INTEGER NOT NULL DEFAULT 0
);
`

// CurrentSchemaVersion tracks additive migrations applied on top of
// schemaDDL. v1: initial entities/relationships/versions/checkpoints.
const CurrentSchemaVersion = 1

// migration is one additive, idempotent schema change applied on top of an
// existing database that predates it.
type migration struct {
	table  string
	column string
	def    string
}

// pendingMigrations lists columns added after the initial schema shipped.
// Empty for now; the slice exists so future additive changes follow the
// same tableExists/columnExists guarded pattern rather than a fresh
// CREATE TABLE rewrite.
var pendingMigrations = []migration{}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// runMigrations applies any pending additive migrations, skipping tables
// that don't exist yet (a fresh database already has every column from
// schemaDDL) and columns already present.
func runMigrations(db *sql.DB) error {
	for _, m := range pendingMigrations {
		if !tableExists(db, m.table) {
			continue
		}
		if columnExists(db, m.table, m.column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := db.Exec(query); err != nil {
			logging.EntityStoreDebug("migration failed (may already exist): %s.%s: %v", m.table, m.column, err)
		}
	}
	return nil
}
