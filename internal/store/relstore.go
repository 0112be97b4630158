package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"memento/internal/logging"
	"memento/internal/model"
)

// RelationshipStore is the Relationship Store component (C6): CRUD, bulk
// writes, and the temporal-validity queries the History Manager and read
// facade both depend on.
type RelationshipStore struct {
	db *DB
}

// NewRelationshipStore wraps db as a Relationship Store.
func NewRelationshipStore(db *DB) *RelationshipStore {
	return &RelationshipStore{db: db}
}

// Upsert inserts a relationship or, if one with the same canonical id
// already exists and is still active, merges the fresh observation onto it
// per §3 invariant 2 (re-observing a relationship updates, never duplicates).
func (s *RelationshipStore) Upsert(rel model.Relationship) error {
	existing, err := s.Get(rel.ID)
	if err != nil && err != ErrNotFound {
		return err
	}
	var final model.Relationship
	if err == ErrNotFound {
		final = rel
	} else {
		mergeable := existing
		final = mergeRelationship(&mergeable, rel)
	}
	return s.put(final)
}

func mergeRelationship(existing *model.Relationship, fresh model.Relationship) model.Relationship {
	merged := *existing
	merged.LastModified = fresh.LastModified
	merged.LastSeenAt = fresh.LastSeenAt
	merged.Occurrences++
	merged.Active = true
	merged.ValidTo = nil
	if merged.Confidence != nil && fresh.Confidence != nil {
		combined := model.CombineConfidence(*merged.Confidence, *fresh.Confidence)
		merged.Confidence = &combined
	} else if fresh.Confidence != nil {
		merged.Confidence = fresh.Confidence
	}
	if len(fresh.Evidence) > 0 {
		merged.Evidence = model.AppendEvidence(merged.Evidence, fresh.Evidence[len(fresh.Evidence)-1])
	}
	return merged
}

func (s *RelationshipStore) put(rel model.Relationship) error {
	unresolvedJSON := ""
	if rel.UnresolvedTo != nil {
		b, _ := json.Marshal(rel.UnresolvedTo)
		unresolvedJSON = string(b)
	}
	evidenceJSON, _ := json.Marshal(rel.Evidence)
	locationsJSON, _ := json.Marshal(rel.Locations)
	metaJSON, _ := json.Marshal(rel.Metadata)

	var validTo sql.NullInt64
	if rel.ValidTo != nil {
		validTo = sql.NullInt64{Int64: rel.ValidTo.UnixNano(), Valid: true}
	}
	var confidence sql.NullFloat64
	if rel.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *rel.Confidence, Valid: true}
	}

	_, err := s.db.conn.Exec(`
		INSERT INTO relationships (
			id, from_entity_id, to_entity_id, unresolved_to, type, created, last_modified,
			version, valid_from, valid_to, active, confidence, inferred, source,
			occurrences, evidence, locations, last_seen_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			to_entity_id=excluded.to_entity_id, unresolved_to=excluded.unresolved_to,
			last_modified=excluded.last_modified, version=relationships.version + 1,
			valid_to=excluded.valid_to, active=excluded.active, confidence=excluded.confidence,
			occurrences=excluded.occurrences, evidence=excluded.evidence,
			locations=excluded.locations, last_seen_at=excluded.last_seen_at, metadata=excluded.metadata
	`, rel.ID, rel.FromEntityID, rel.ToEntityID, unresolvedJSON, string(rel.Type),
		rel.Created.UnixNano(), rel.LastModified.UnixNano(), rel.Version,
		rel.ValidFrom.UnixNano(), validTo, boolToInt(rel.Active), confidence,
		boolToInt(rel.Inferred), string(rel.Source), rel.Occurrences,
		string(evidenceJSON), string(locationsJSON), rel.LastSeenAt.UnixNano(), string(metaJSON))
	if err != nil {
		return classifyStoreError("Upsert", err)
	}
	return nil
}

// Get returns one relationship by canonical id.
func (s *RelationshipStore) Get(id string) (model.Relationship, error) {
	row := s.db.conn.QueryRow(relSelectCols+` FROM relationships WHERE id = ?`, id)
	return scanRelationship(row)
}

const relSelectCols = `SELECT id, from_entity_id, to_entity_id, unresolved_to, type, created, last_modified,
	version, valid_from, valid_to, active, confidence, inferred, source, occurrences,
	evidence, locations, last_seen_at, metadata`

// FromEntity returns every active relationship whose FromEntityID matches id.
func (s *RelationshipStore) FromEntity(id string) ([]model.Relationship, error) {
	rows, err := s.db.conn.Query(relSelectCols+` FROM relationships WHERE from_entity_id = ? AND active = 1`, id)
	if err != nil {
		return nil, classifyStoreError("FromEntity", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// ToEntity returns every active relationship whose ToEntityID matches id.
func (s *RelationshipStore) ToEntity(id string) ([]model.Relationship, error) {
	rows, err := s.db.conn.Query(relSelectCols+` FROM relationships WHERE to_entity_id = ? AND active = 1`, id)
	if err != nil {
		return nil, classifyStoreError("ToEntity", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// AsOf returns every relationship visible at instant t regardless of its
// current active flag, implementing the History Manager's time-travel
// query (§4.8): validFrom <= t and (validTo is null or t < validTo).
func (s *RelationshipStore) AsOf(entityID string, t time.Time) ([]model.Relationship, error) {
	rows, err := s.db.conn.Query(relSelectCols+` FROM relationships
		WHERE (from_entity_id = ? OR to_entity_id = ?)
		AND valid_from <= ? AND (valid_to IS NULL OR ? < valid_to)`,
		entityID, entityID, t.UnixNano(), t.UnixNano())
	if err != nil {
		return nil, classifyStoreError("AsOf", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// Deactivate marks a relationship inactive as of t (used when a re-parse
// no longer observes an edge that previously existed): this is the only
// way, besides DeactivateStaleBefore, that active flips to false; both
// preserve invariant 4 (active iff validTo is nil) by setting active and
// valid_to in one UPDATE.
func (s *RelationshipStore) Deactivate(id string, t time.Time) error {
	_, err := s.db.conn.Exec(`UPDATE relationships SET active = 0, valid_to = ?, last_modified = ? WHERE id = ?`,
		t.UnixNano(), t.UnixNano(), id)
	if err != nil {
		return classifyStoreError("Deactivate", err)
	}
	return nil
}

// DeactivateStaleForEntity deactivates every active outgoing relationship
// from fromEntityID whose id is not in stillPresent. The Sync Coordinator
// calls it for the File entity at the end of each add/modify pass, so an
// edge the latest parse no longer produces is closed on that same pass.
func (s *RelationshipStore) DeactivateStaleForEntity(fromEntityID string, stillPresent map[string]bool, t time.Time) (int, error) {
	current, err := s.FromEntity(fromEntityID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rel := range current {
		if stillPresent[rel.ID] {
			continue
		}
		if err := s.Deactivate(rel.ID, t); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DeactivateStaleBefore closes every active relationship whose last
// observation predates cutoff (valid_to = cutoff, active = false) and
// returns the count closed, used by the History Manager's pruneHistory
// (§4.8): an edge nothing has reconfirmed since the retention window ages
// out even if nothing explicitly deleted it.
func (s *RelationshipStore) DeactivateStaleBefore(cutoff time.Time) (int, error) {
	res, err := s.db.conn.Exec(`
		UPDATE relationships SET active = 0, valid_to = ?, last_modified = ?
		WHERE active = 1 AND last_seen_at < ?
	`, cutoff.UnixNano(), cutoff.UnixNano(), cutoff.UnixNano())
	if err != nil {
		return 0, classifyStoreError("DeactivateStaleBefore", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Delete removes a single relationship outright by its canonical id, used by
// the Sync Coordinator's compensation log to undo a relationship created
// earlier within the same uncommitted logical transaction.
func (s *RelationshipStore) Delete(id string) error {
	_, err := s.db.conn.Exec(`DELETE FROM relationships WHERE id = ?`, id)
	if err != nil {
		return classifyStoreError("Delete", err)
	}
	return nil
}

// Reactivate reopens a closed relationship (active=1, valid_to=NULL), used by
// rollbackSince (§4.9) to undo a Deactivate that happened after the rollback
// target time.
func (s *RelationshipStore) Reactivate(id string, lastModified time.Time) error {
	_, err := s.db.conn.Exec(`UPDATE relationships SET active = 1, valid_to = NULL, last_modified = ? WHERE id = ?`,
		lastModified.UnixNano(), id)
	if err != nil {
		return classifyStoreError("Reactivate", err)
	}
	return nil
}

// DeleteByEntity removes every relationship touching entityID outright
// (used when an entity itself is deleted, as opposed to merely going
// stale).
func (s *RelationshipStore) DeleteByEntity(entityID string) error {
	_, err := s.db.conn.Exec(`DELETE FROM relationships WHERE from_entity_id = ? OR to_entity_id = ?`, entityID, entityID)
	if err != nil {
		return classifyStoreError("DeleteByEntity", err)
	}
	return nil
}

// PutBulk upserts many relationships one at a time through Upsert. No
// enclosing transaction is used: an error stops the loop and leaves the
// relationships written before it in place.
func (s *RelationshipStore) PutBulk(rels []model.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryRelStore, "PutBulk")
	defer timer.Stop()

	for _, rel := range rels {
		if err := s.Upsert(rel); err != nil {
			return err
		}
	}
	logging.RelStoreDebug("bulk-wrote %d relationships", len(rels))
	return nil
}

// Count returns the total number of active relationships.
func (s *RelationshipStore) Count() (int, error) {
	var n int
	err := s.db.conn.QueryRow(`SELECT COUNT(*) FROM relationships WHERE active = 1`).Scan(&n)
	if err != nil {
		return 0, classifyStoreError("Count", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanRelationship(row *sql.Row) (model.Relationship, error) {
	var rel model.Relationship
	var toID, unresolvedJSON, typeStr, source, evidenceJSON, locationsJSON, metaJSON string
	var created, lastModified, validFrom, lastSeenAt int64
	var validTo sql.NullInt64
	var active, inferred int
	var confidence sql.NullFloat64

	if err := row.Scan(&rel.ID, &rel.FromEntityID, &toID, &unresolvedJSON, &typeStr,
		&created, &lastModified, &rel.Version, &validFrom, &validTo, &active,
		&confidence, &inferred, &source, &rel.Occurrences, &evidenceJSON, &locationsJSON,
		&lastSeenAt, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return model.Relationship{}, ErrNotFound
		}
		return model.Relationship{}, classifyStoreError("Get", err)
	}
	populateRelationship(&rel, toID, unresolvedJSON, typeStr, created, lastModified,
		validFrom, validTo, active, confidence, inferred, source, evidenceJSON, locationsJSON, lastSeenAt, metaJSON)
	return rel, nil
}

func scanRelationships(rows *sql.Rows) ([]model.Relationship, error) {
	var out []model.Relationship
	for rows.Next() {
		var rel model.Relationship
		var toID, unresolvedJSON, typeStr, source, evidenceJSON, locationsJSON, metaJSON string
		var created, lastModified, validFrom, lastSeenAt int64
		var validTo sql.NullInt64
		var active, inferred int
		var confidence sql.NullFloat64

		if err := rows.Scan(&rel.ID, &rel.FromEntityID, &toID, &unresolvedJSON, &typeStr,
			&created, &lastModified, &rel.Version, &validFrom, &validTo, &active,
			&confidence, &inferred, &source, &rel.Occurrences, &evidenceJSON, &locationsJSON,
			&lastSeenAt, &metaJSON); err != nil {
			return nil, err
		}
		populateRelationship(&rel, toID, unresolvedJSON, typeStr, created, lastModified,
			validFrom, validTo, active, confidence, inferred, source, evidenceJSON, locationsJSON, lastSeenAt, metaJSON)
		out = append(out, rel)
	}
	return out, rows.Err()
}

func populateRelationship(rel *model.Relationship, toID, unresolvedJSON, typeStr string,
	created, lastModified, validFrom int64, validTo sql.NullInt64, active int,
	confidence sql.NullFloat64, inferred int, source, evidenceJSON, locationsJSON string,
	lastSeenAt int64, metaJSON string) {

	rel.ToEntityID = toID
	rel.Type = model.RelationshipType(typeStr)
	rel.Created = time.Unix(0, created).UTC()
	rel.LastModified = time.Unix(0, lastModified).UTC()
	rel.ValidFrom = time.Unix(0, validFrom).UTC()
	if validTo.Valid {
		t := time.Unix(0, validTo.Int64).UTC()
		rel.ValidTo = &t
	}
	rel.Active = active != 0
	rel.Inferred = inferred != 0
	rel.Source = model.EvidenceSource(source)
	rel.LastSeenAt = time.Unix(0, lastSeenAt).UTC()
	if confidence.Valid {
		c := confidence.Float64
		rel.Confidence = &c
	}
	if unresolvedJSON != "" {
		var ref model.UnresolvedRef
		if json.Unmarshal([]byte(unresolvedJSON), &ref) == nil {
			rel.UnresolvedTo = &ref
		}
	}
	_ = json.Unmarshal([]byte(evidenceJSON), &rel.Evidence)
	_ = json.Unmarshal([]byte(locationsJSON), &rel.Locations)
	_ = json.Unmarshal([]byte(metaJSON), &rel.Metadata)
}
