package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"memento/internal/logging"
	"memento/internal/model"
)

// EntityStore is the Entity Store component (C5): CRUD and bulk operations
// over the entities table.
type EntityStore struct {
	db *DB
}

// NewEntityStore wraps db as an Entity Store.
func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// entityWire is what actually gets marshaled to the "data" column: the
// kind tag plus the payload, so Get can type-switch back to the correct
// EntityData implementation (json.Unmarshal alone cannot do this because
// EntityData is an interface).
type entityWire struct {
	Kind model.EntityKind `json:"kind"`
	Data json.RawMessage  `json:"data"`
}

func encodeEntityData(kind model.EntityKind, data model.EntityData) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	wire := entityWire{Kind: kind, Data: payload}
	out, err := json.Marshal(wire)
	return string(out), err
}

func decodeEntityData(raw string) (model.EntityData, error) {
	var wire entityWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, err
	}
	return decodeEntityDataByKind(wire.Kind, wire.Data)
}

// decodeEntityDataByKind dispatches raw JSON to the concrete EntityData
// implementation for kind. Shared by decodeEntityData (reading the {kind,
// data} wire envelope off the entities table) and DecodeEntitySnapshot
// (restoring an entity from a History Manager version snapshot, which has
// no wire envelope but does carry the same field shapes).
func decodeEntityDataByKind(kind model.EntityKind, raw json.RawMessage) (model.EntityData, error) {
	var target model.EntityData
	switch kind {
	case model.KindFile:
		var d model.FileData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindDirectory:
		var d model.DirectoryData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindModule:
		var d model.ModuleData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindFunction, model.KindMethod:
		var d model.FunctionData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindClass:
		var d model.ClassData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindInterface:
		var d model.InterfaceData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindTypeAlias:
		var d model.TypeAliasData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindVariable, model.KindProperty:
		var d model.VariableData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindTest:
		var d model.TestData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindSpec:
		var d model.SpecData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	case model.KindDocumentation:
		var d model.DocumentationData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		target = d
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return target, nil
}

// DecodeEntitySnapshot reconstructs an Entity from a History Manager version
// snapshot (a plain map produced by marshaling an Entity, not the {kind,
// data} wire envelope used on disk), used by the Sync Coordinator's
// rollbackSince to restore an entity to a prior version (§4.9).
func DecodeEntitySnapshot(snapshot map[string]interface{}) (model.Entity, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return model.Entity{}, err
	}
	var envelope struct {
		ID           string                 `json:"id"`
		Kind         model.EntityKind       `json:"kind"`
		Path         string                 `json:"path"`
		Hash         string                 `json:"hash"`
		Language     string                 `json:"language"`
		Created      time.Time              `json:"created"`
		LastModified time.Time              `json:"lastModified"`
		Metadata     map[string]interface{} `json:"metadata,omitempty"`
		Data         json.RawMessage        `json:"data,omitempty"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return model.Entity{}, err
	}
	data, err := decodeEntityDataByKind(envelope.Kind, envelope.Data)
	if err != nil {
		return model.Entity{}, err
	}
	return model.Entity{
		ID: envelope.ID, Kind: envelope.Kind, Path: envelope.Path, Hash: envelope.Hash,
		Language: envelope.Language, Created: envelope.Created, LastModified: envelope.LastModified,
		Metadata: envelope.Metadata, Data: data,
	}, nil
}

// ErrNotFound is returned by the stores' single-row lookups (Get and the
// like) when no row matches.
var ErrNotFound = errors.New("entity not found")

// Put inserts or fully replaces an entity row (upsert by id, §3 invariant 1:
// ids are canonical, so re-observing an unchanged symbol updates the same
// row rather than creating a duplicate).
func (s *EntityStore) Put(e model.Entity) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return &model.ErrStoreConstraint{Op: "Put", Err: err}
	}
	dataJSON, err := encodeEntityData(e.Kind, e.Data)
	if err != nil {
		return &model.ErrStoreConstraint{Op: "Put", Err: err}
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO entities (id, kind, path, hash, language, created, last_modified, metadata, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, path=excluded.path, hash=excluded.hash,
			language=excluded.language, last_modified=excluded.last_modified,
			metadata=excluded.metadata, data=excluded.data
	`, e.ID, string(e.Kind), e.Path, e.Hash, e.Language,
		e.Created.UnixNano(), e.LastModified.UnixNano(), string(metaJSON), dataJSON)
	if err != nil {
		return classifyStoreError("Put", err)
	}
	return nil
}

// PutBulk writes many entities inside a single transaction, the bulk path
// the ingestion pipeline uses for a full workspace scan (§4.5).
func (s *EntityStore) PutBulk(entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryEntityStore, "PutBulk")
	defer timer.Stop()

	tx, err := s.db.conn.Begin()
	if err != nil {
		return classifyStoreError("PutBulk", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO entities (id, kind, path, hash, language, created, last_modified, metadata, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, path=excluded.path, hash=excluded.hash,
			language=excluded.language, last_modified=excluded.last_modified,
			metadata=excluded.metadata, data=excluded.data
	`)
	if err != nil {
		return classifyStoreError("PutBulk", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		metaJSON, _ := json.Marshal(e.Metadata)
		dataJSON, encErr := encodeEntityData(e.Kind, e.Data)
		if encErr != nil {
			return &model.ErrStoreConstraint{Op: "PutBulk", Err: encErr}
		}
		if _, err := stmt.Exec(e.ID, string(e.Kind), e.Path, e.Hash, e.Language,
			e.Created.UnixNano(), e.LastModified.UnixNano(), string(metaJSON), dataJSON); err != nil {
			return classifyStoreError("PutBulk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyStoreError("PutBulk", err)
	}
	logging.EntityStoreDebug("bulk-wrote %d entities", len(entities))
	return nil
}

// Get returns one entity by id.
func (s *EntityStore) Get(id string) (model.Entity, error) {
	row := s.db.conn.QueryRow(`SELECT id, kind, path, hash, language, created, last_modified, metadata, data FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

// ListByPath returns every entity whose path column equals path (a File
// entity plus all symbols declared directly in it).
func (s *EntityStore) ListByPath(path string) ([]model.Entity, error) {
	rows, err := s.db.conn.Query(`SELECT id, kind, path, hash, language, created, last_modified, metadata, data FROM entities WHERE path = ?`, path)
	if err != nil {
		return nil, classifyStoreError("ListByPath", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// ListByKind returns every entity of the given kind.
func (s *EntityStore) ListByKind(kind model.EntityKind) ([]model.Entity, error) {
	rows, err := s.db.conn.Query(`SELECT id, kind, path, hash, language, created, last_modified, metadata, data FROM entities WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, classifyStoreError("ListByKind", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// Delete removes an entity outright. Callers that need history should
// snapshot via the History Manager first (§4.8): the Entity Store itself
// has no soft-delete column.
func (s *EntityStore) Delete(id string) error {
	_, err := s.db.conn.Exec(`DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return classifyStoreError("Delete", err)
	}
	return nil
}

// DeleteByPath removes every entity rooted at path (used when a file is
// deleted: the File entity and every symbol it contained).
func (s *EntityStore) DeleteByPath(path string) error {
	_, err := s.db.conn.Exec(`DELETE FROM entities WHERE path = ?`, path)
	if err != nil {
		return classifyStoreError("DeleteByPath", err)
	}
	return nil
}

// ListAll returns every entity in the store, used by the CLI's cold-start
// rollback (`memento rollback`) to find candidates without a live
// Coordinator journal to consult (§9 decision).
func (s *EntityStore) ListAll() ([]model.Entity, error) {
	rows, err := s.db.conn.Query(`SELECT id, kind, path, hash, language, created, last_modified, metadata, data FROM entities`)
	if err != nil {
		return nil, classifyStoreError("ListAll", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// Count returns the total number of entities, used by the read facade's
// stats operation.
func (s *EntityStore) Count() (int, error) {
	var n int
	err := s.db.conn.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	if err != nil {
		return 0, classifyStoreError("Count", err)
	}
	return n, nil
}

func scanEntity(row *sql.Row) (model.Entity, error) {
	var e model.Entity
	var kindStr, metaJSON, dataJSON string
	var created, lastModified int64

	if err := row.Scan(&e.ID, &kindStr, &e.Path, &e.Hash, &e.Language, &created, &lastModified, &metaJSON, &dataJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Entity{}, ErrNotFound
		}
		return model.Entity{}, classifyStoreError("Get", err)
	}
	e.Kind = model.EntityKind(kindStr)
	e.Created = time.Unix(0, created).UTC()
	e.LastModified = time.Unix(0, lastModified).UTC()
	_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
	data, err := decodeEntityData(dataJSON)
	if err != nil {
		return model.Entity{}, err
	}
	e.Data = data
	return e, nil
}

func scanEntities(rows *sql.Rows) ([]model.Entity, error) {
	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var kindStr, metaJSON, dataJSON string
		var created, lastModified int64
		if err := rows.Scan(&e.ID, &kindStr, &e.Path, &e.Hash, &e.Language, &created, &lastModified, &metaJSON, &dataJSON); err != nil {
			return nil, err
		}
		e.Kind = model.EntityKind(kindStr)
		e.Created = time.Unix(0, created).UTC()
		e.LastModified = time.Unix(0, lastModified).UTC()
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		data, err := decodeEntityData(dataJSON)
		if err != nil {
			continue // a corrupt single row shouldn't fail the whole listing
		}
		e.Data = data
		out = append(out, e)
	}
	return out, rows.Err()
}

// classifyStoreError tags a raw sql error as transient (StoreUnavailable)
// or permanent (StoreConstraint) per §7, so callers can decide whether to
// retry.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "locked", "busy", "connection"):
		return &model.ErrStoreUnavailable{Op: op, Err: err}
	case containsAny(msg, "UNIQUE", "constraint", "FOREIGN KEY"):
		return &model.ErrStoreConstraint{Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if equalFold(s[i:i+len(sub)], sub) {
					return true
				}
			}
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
