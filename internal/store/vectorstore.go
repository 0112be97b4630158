package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"memento/internal/logging"
	"memento/internal/model"
)

// VectorStore is the Vector Store component (C7): stores one embedding per
// entity 1-to-1 and answers nearest-neighbor queries by cosine similarity.
// Dimension is fixed on the first successful Upsert and every later write is
// checked against it (§7 DimensionMismatch): an embedding-model upgrade that
// changes dimensionality is rejected rather than silently corrupting scores.
type VectorStore struct {
	db        *DB
	dimension int
}

// NewVectorStore wraps db as a Vector Store. dimension is the expected
// embedding width; pass 0 to infer it from an existing database's stored
// rows (or leave it open until the first Upsert).
func NewVectorStore(db *DB, dimension int) (*VectorStore, error) {
	vs := &VectorStore{db: db, dimension: dimension}
	if dimension == 0 {
		existing, err := vs.inferDimension()
		if err != nil {
			return nil, err
		}
		vs.dimension = existing
	}
	return vs, nil
}

func (vs *VectorStore) inferDimension() (int, error) {
	var dim int
	err := vs.db.conn.QueryRow(`SELECT dimension FROM entity_vectors LIMIT 1`).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, classifyStoreError("inferDimension", err)
	}
	return dim, nil
}

// Match is one nearest-neighbor result: {entityId, score}, score ordered
// descending (1 = identical direction, -1 = opposite), per §4.7.
type Match struct {
	EntityID string
	Score    float64
}

// SearchOptions bounds and filters a Search call.
type SearchOptions struct {
	Limit    int
	MinScore float64
	// Filter, if non-nil, is called with each candidate's metadata; a
	// candidate is dropped unless Filter returns true.
	Filter func(entityID string, metadata map[string]interface{}) bool
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Upsert stores or replaces the embedding for entityID (§4.7 contract:
// upsert({entityId, vector, metadata})). A write whose dimension differs
// from the store's established width is rejected with model.DimensionMismatch
// rather than padded or truncated.
func (vs *VectorStore) Upsert(entityID string, vector []float32, metadata map[string]interface{}) error {
	if vs.dimension == 0 {
		vs.dimension = len(vector)
	} else if len(vector) != vs.dimension {
		return &model.DimensionMismatch{Expected: vs.dimension, Got: len(vector)}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return &model.ErrStoreConstraint{Op: "Upsert", Err: err}
	}

	_, err = vs.db.conn.Exec(`
		INSERT INTO entity_vectors (entity_id, embedding, dimension, model, created, stale, metadata, last_modified)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			embedding=excluded.embedding, dimension=excluded.dimension,
			metadata=excluded.metadata, last_modified=excluded.last_modified, stale=0
	`, entityID, encodeVector(vector), len(vector), metadataModelName(metadata), time.Now().UTC().UnixNano(),
		string(metaJSON), time.Now().UTC().UnixNano())
	if err != nil {
		return classifyStoreError("Upsert", err)
	}
	return nil
}

func metadataModelName(metadata map[string]interface{}) string {
	if m, ok := metadata["model"].(string); ok {
		return m
	}
	return ""
}

// MarkStale flags an entity's embedding as out of date without deleting it,
// used when §7's ErrEmbedFailed leaves an entity stored without a fresh
// vector: the stale embedding still answers searches until re-embedded.
func (vs *VectorStore) MarkStale(entityID string) error {
	_, err := vs.db.conn.Exec(`UPDATE entity_vectors SET stale = 1 WHERE entity_id = ?`, entityID)
	if err != nil {
		return classifyStoreError("MarkStale", err)
	}
	return nil
}

// Delete removes an entity's embedding (used when the entity itself is
// deleted).
func (vs *VectorStore) Delete(entityID string) error {
	_, err := vs.db.conn.Exec(`DELETE FROM entity_vectors WHERE entity_id = ?`, entityID)
	if err != nil {
		return classifyStoreError("Delete", err)
	}
	return nil
}

// Get returns the stored embedding for entityID, or ErrNotFound.
func (vs *VectorStore) Get(entityID string) ([]float32, error) {
	var blob []byte
	err := vs.db.conn.QueryRow(`SELECT embedding FROM entity_vectors WHERE entity_id = ?`, entityID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyStoreError("Get", err)
	}
	return decodeVector(blob), nil
}

// Search returns entities whose embeddings are closest to query, ordered by
// score descending, ties broken by last_modified descending (§4.7). This is
// the brute-force cosine fallback the spec calls out for backends (like this
// one) that lack native ANN search: exact over all stored vectors.
func (vs *VectorStore) Search(query []float32, opts SearchOptions) ([]Match, error) {
	if vs.dimension != 0 && len(query) != vs.dimension {
		return nil, &model.DimensionMismatch{Expected: vs.dimension, Got: len(query)}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	timer := logging.StartTimer(logging.CategoryVectorStore, "Search")
	defer timer.Stop()

	// distanceFuncName resolves to the real sqlite-vec extension function on
	// a cgo+sqlite_vec build, or the pure-Go cosine function registered in
	// compat_vec.go otherwise (both builds expose the same ranking query).
	queryStmt := fmt.Sprintf(`
		SELECT entity_id, %s(embedding, ?) AS distance, metadata, last_modified
		FROM entity_vectors
	`, distanceFuncName)
	rows, err := vs.db.conn.Query(queryStmt, encodeVector(query))
	if err != nil {
		return nil, classifyStoreError("Search", err)
	}
	defer rows.Close()

	type candidate struct {
		id           string
		score        float64
		lastModified int64
	}
	var candidates []candidate
	for rows.Next() {
		var id, metaJSON string
		var distance float64
		var lastModified int64
		if err := rows.Scan(&id, &distance, &metaJSON, &lastModified); err != nil {
			return nil, err
		}
		score := 1 - distance
		if score < opts.MinScore {
			continue
		}
		if opts.Filter != nil {
			var meta map[string]interface{}
			_ = json.Unmarshal([]byte(metaJSON), &meta)
			if !opts.Filter(id, meta) {
				continue
			}
		}
		candidates = append(candidates, candidate{id: id, score: score, lastModified: lastModified})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("Search", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].lastModified > candidates[j].lastModified
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Match, len(candidates))
	for i, c := range candidates {
		out[i] = Match{EntityID: c.id, Score: c.score}
	}
	logging.VectorStoreDebug("search returned %d matches (limit %d)", len(out), limit)
	return out, nil
}

// FindSimilar returns entities nearest to entityID's own stored embedding,
// excluding entityID itself from the results (§4.7).
func (vs *VectorStore) FindSimilar(entityID string, opts SearchOptions) ([]Match, error) {
	vec, err := vs.Get(entityID)
	if err != nil {
		return nil, err
	}
	matches, err := vs.Search(vec, opts)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if m.EntityID != entityID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Stats reports basic vector-store counts for the read facade's stats()
// operation.
type Stats struct {
	Count     int
	Dimension int
	Stale     int
}

// Stats returns the store's current counts.
func (vs *VectorStore) Stats() (Stats, error) {
	var count, stale int
	if err := vs.db.conn.QueryRow(`SELECT COUNT(*) FROM entity_vectors`).Scan(&count); err != nil {
		return Stats{}, classifyStoreError("Stats", err)
	}
	if err := vs.db.conn.QueryRow(`SELECT COUNT(*) FROM entity_vectors WHERE stale = 1`).Scan(&stale); err != nil {
		return Stats{}, classifyStoreError("Stats", err)
	}
	return Stats{Count: count, Dimension: vs.dimension, Stale: stale}, nil
}

// StaleIDs returns every entity id whose embedding is marked stale, used by
// the Sync Coordinator's retry loop to re-embed after a transient
// ErrEmbedFailed.
func (vs *VectorStore) StaleIDs() ([]string, error) {
	rows, err := vs.db.conn.Query(`SELECT entity_id FROM entity_vectors WHERE stale = 1`)
	if err != nil {
		return nil, classifyStoreError("StaleIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
