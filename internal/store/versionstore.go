package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"memento/internal/model"
)

// VersionStore is the append-only persistence layer the History Manager
// (C8) builds its version chain and checkpoints on top of.
type VersionStore struct {
	db *DB
}

// NewVersionStore wraps db as a VersionStore.
func NewVersionStore(db *DB) *VersionStore {
	return &VersionStore{db: db}
}

// PutVersion inserts a version snapshot. Versions are append-only: callers
// that re-derive the same (entityID, snapshotHash) pair get an idempotent
// no-op via the id's determinism (model.VersionID), not an update.
func (s *VersionStore) PutVersion(v model.Version) error {
	snapshotJSON, err := json.Marshal(v.Snapshot)
	if err != nil {
		return &model.ErrStoreConstraint{Op: "PutVersion", Err: err}
	}
	_, err = s.db.conn.Exec(`
		INSERT INTO versions (id, entity_id, snapshot_hash, snapshot, session_id, created, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, v.ID, v.EntityID, v.SnapshotHash, string(snapshotJSON), v.SessionID, v.Created.UnixNano(), v.ChangeReason)
	if err != nil {
		return classifyStoreError("PutVersion", err)
	}
	return nil
}

// GetVersion returns one version by id.
func (s *VersionStore) GetVersion(id string) (model.Version, error) {
	row := s.db.conn.QueryRow(`SELECT id, entity_id, snapshot_hash, snapshot, session_id, created, change_reason FROM versions WHERE id = ?`, id)
	return scanVersion(row)
}

// VersionsForEntity returns every version of entityID, oldest first.
func (s *VersionStore) VersionsForEntity(entityID string) ([]model.Version, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, entity_id, snapshot_hash, snapshot, session_id, created, change_reason
		FROM versions WHERE entity_id = ? ORDER BY created ASC
	`, entityID)
	if err != nil {
		return nil, classifyStoreError("VersionsForEntity", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

// LatestVersion returns the most recently created version for entityID, or
// ErrNotFound if none exists yet.
func (s *VersionStore) LatestVersion(entityID string) (model.Version, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, entity_id, snapshot_hash, snapshot, session_id, created, change_reason
		FROM versions WHERE entity_id = ? ORDER BY created DESC LIMIT 1
	`, entityID)
	return scanVersion(row)
}

// DeleteVersionsBefore deletes every version created strictly before cutoff
// and returns the count removed, used by pruneHistory (§4.8).
func (s *VersionStore) DeleteVersionsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.conn.Exec(`DELETE FROM versions WHERE created < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, classifyStoreError("DeleteVersionsBefore", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanVersion(row *sql.Row) (model.Version, error) {
	var v model.Version
	var snapshotJSON string
	var created int64
	if err := row.Scan(&v.ID, &v.EntityID, &v.SnapshotHash, &snapshotJSON, &v.SessionID, &created, &v.ChangeReason); err != nil {
		if err == sql.ErrNoRows {
			return model.Version{}, ErrNotFound
		}
		return model.Version{}, classifyStoreError("GetVersion", err)
	}
	v.Created = time.Unix(0, created).UTC()
	_ = json.Unmarshal([]byte(snapshotJSON), &v.Snapshot)
	return v, nil
}

func scanVersions(rows *sql.Rows) ([]model.Version, error) {
	var out []model.Version
	for rows.Next() {
		var v model.Version
		var snapshotJSON string
		var created int64
		if err := rows.Scan(&v.ID, &v.EntityID, &v.SnapshotHash, &snapshotJSON, &v.SessionID, &created, &v.ChangeReason); err != nil {
			return nil, err
		}
		v.Created = time.Unix(0, created).UTC()
		_ = json.Unmarshal([]byte(snapshotJSON), &v.Snapshot)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CheckpointStore persists immutable Checkpoint records.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore wraps db as a CheckpointStore.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// PutCheckpoint inserts a checkpoint. Checkpoints are immutable (§4.8): a
// conflicting id (same label + seed set) is a no-op, not an overwrite.
func (s *CheckpointStore) PutCheckpoint(c model.Checkpoint) error {
	seedJSON, _ := json.Marshal(c.SeedEntities)
	entityIDsJSON, _ := json.Marshal(c.EntityIDs)
	_, err := s.db.conn.Exec(`
		INSERT INTO checkpoints (id, label, created, seed_entities, depth, entity_ids)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.Label, c.Created.UnixNano(), string(seedJSON), c.Depth, string(entityIDsJSON))
	if err != nil {
		return classifyStoreError("PutCheckpoint", err)
	}
	return nil
}

// GetCheckpoint returns one checkpoint by id.
func (s *CheckpointStore) GetCheckpoint(id string) (model.Checkpoint, error) {
	row := s.db.conn.QueryRow(`SELECT id, label, created, seed_entities, depth, entity_ids FROM checkpoints WHERE id = ?`, id)
	var c model.Checkpoint
	var created int64
	var seedJSON, entityIDsJSON string
	if err := row.Scan(&c.ID, &c.Label, &created, &seedJSON, &c.Depth, &entityIDsJSON); err != nil {
		if err == sql.ErrNoRows {
			return model.Checkpoint{}, ErrNotFound
		}
		return model.Checkpoint{}, classifyStoreError("GetCheckpoint", err)
	}
	c.Created = time.Unix(0, created).UTC()
	_ = json.Unmarshal([]byte(seedJSON), &c.SeedEntities)
	_ = json.Unmarshal([]byte(entityIDsJSON), &c.EntityIDs)
	return c, nil
}

// DeleteOrphanedCheckpoints removes checkpoints whose every seed entity id
// fails the provided existence check, returning the count removed. A
// checkpoint is orphaned once nothing it was seeded from still exists
// (§4.8 pruneHistory).
func (s *CheckpointStore) DeleteOrphanedCheckpoints(entityExists func(id string) bool) (int, error) {
	rows, err := s.db.conn.Query(`SELECT id, seed_entities FROM checkpoints`)
	if err != nil {
		return 0, classifyStoreError("DeleteOrphanedCheckpoints", err)
	}
	var orphaned []string
	for rows.Next() {
		var id, seedJSON string
		if err := rows.Scan(&id, &seedJSON); err != nil {
			rows.Close()
			return 0, err
		}
		var seeds []string
		_ = json.Unmarshal([]byte(seedJSON), &seeds)
		anyAlive := false
		for _, seed := range seeds {
			if entityExists(seed) {
				anyAlive = true
				break
			}
		}
		if !anyAlive {
			orphaned = append(orphaned, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range orphaned {
		if _, err := s.db.conn.Exec(`DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
			return 0, classifyStoreError("DeleteOrphanedCheckpoints", err)
		}
	}
	return len(orphaned), nil
}
