package store

import (
	"testing"
	"time"

	"memento/internal/model"
)

func newTestRelationshipStore(t *testing.T) (*RelationshipStore, *DB) {
	t.Helper()
	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRelationshipStore(db), db
}

func sampleRelationship(id, from, to string) model.Relationship {
	now := time.Now().UTC()
	confidence := model.SourceAST.BaseConfidence()
	return model.Relationship{
		ID:           id,
		FromEntityID: from,
		ToEntityID:   to,
		Type:         model.RelCalls,
		Created:      now,
		LastModified: now,
		Version:      1,
		ValidFrom:    now,
		Active:       true,
		Confidence:   &confidence,
		Source:       model.SourceAST,
		Occurrences:  1,
		LastSeenAt:   now,
		Evidence: []model.Evidence{
			{Source: model.SourceAST, Confidence: confidence, LastSeenAt: now},
		},
	}
}

func TestRelationshipStore_UpsertAndGet(t *testing.T) {
	store, _ := newTestRelationshipStore(t)
	rel := sampleRelationship("rel:1", "sym:a", "sym:b")

	if err := store.Upsert(rel); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := store.Get("rel:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FromEntityID != "sym:a" || got.ToEntityID != "sym:b" {
		t.Fatalf("unexpected relationship: %+v", got)
	}
	if !got.Active || got.ValidTo != nil {
		t.Fatalf("expected newly inserted relationship to be active with no valid_to")
	}
}

func TestRelationshipStore_UpsertMergesOccurrencesAndConfidence(t *testing.T) {
	store, _ := newTestRelationshipStore(t)
	rel := sampleRelationship("rel:1", "sym:a", "sym:b")

	if err := store.Upsert(rel); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	rel.LastSeenAt = rel.LastSeenAt.Add(time.Minute)
	if err := store.Upsert(rel); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := store.Get("rel:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Occurrences != 2 {
		t.Fatalf("expected occurrences 2, got %d", got.Occurrences)
	}
}

func TestRelationshipStore_FromEntityAndToEntity(t *testing.T) {
	store, _ := newTestRelationshipStore(t)
	r1 := sampleRelationship("rel:1", "sym:a", "sym:b")
	r2 := sampleRelationship("rel:2", "sym:a", "sym:c")
	if err := store.Upsert(r1); err != nil {
		t.Fatalf("Upsert r1: %v", err)
	}
	if err := store.Upsert(r2); err != nil {
		t.Fatalf("Upsert r2: %v", err)
	}

	from, err := store.FromEntity("sym:a")
	if err != nil {
		t.Fatalf("FromEntity: %v", err)
	}
	if len(from) != 2 {
		t.Fatalf("expected 2 relationships from sym:a, got %d", len(from))
	}

	to, err := store.ToEntity("sym:b")
	if err != nil {
		t.Fatalf("ToEntity: %v", err)
	}
	if len(to) != 1 || to[0].ID != "rel:1" {
		t.Fatalf("expected exactly rel:1 into sym:b, got %+v", to)
	}
}

func TestRelationshipStore_DeactivateStaleForEntity(t *testing.T) {
	store, _ := newTestRelationshipStore(t)
	r1 := sampleRelationship("rel:1", "sym:a", "sym:b")
	r2 := sampleRelationship("rel:2", "sym:a", "sym:c")
	if err := store.Upsert(r1); err != nil {
		t.Fatalf("Upsert r1: %v", err)
	}
	if err := store.Upsert(r2); err != nil {
		t.Fatalf("Upsert r2: %v", err)
	}

	stillPresent := map[string]bool{"rel:1": true}
	n, err := store.DeactivateStaleForEntity("sym:a", stillPresent, time.Now().UTC())
	if err != nil {
		t.Fatalf("DeactivateStaleForEntity: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deactivated, got %d", n)
	}

	from, err := store.FromEntity("sym:a")
	if err != nil {
		t.Fatalf("FromEntity: %v", err)
	}
	if len(from) != 1 || from[0].ID != "rel:1" {
		t.Fatalf("expected only rel:1 still active, got %+v", from)
	}
}

func TestRelationshipStore_AsOfTimeTravel(t *testing.T) {
	store, _ := newTestRelationshipStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	rel := sampleRelationship("rel:1", "sym:a", "sym:b")
	rel.ValidFrom = past
	if err := store.Upsert(rel); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	deactivateAt := time.Now().UTC()
	if err := store.Deactivate("rel:1", deactivateAt); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	beforeDeactivation := deactivateAt.Add(-time.Minute)
	visible, err := store.AsOf("sym:a", beforeDeactivation)
	if err != nil {
		t.Fatalf("AsOf: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("expected relationship visible before deactivation, got %d", len(visible))
	}

	afterDeactivation := deactivateAt.Add(time.Minute)
	goneNow, err := store.AsOf("sym:a", afterDeactivation)
	if err != nil {
		t.Fatalf("AsOf: %v", err)
	}
	if len(goneNow) != 0 {
		t.Fatalf("expected relationship invisible after deactivation, got %d", len(goneNow))
	}
}

func TestRelationshipStore_DeleteByEntity(t *testing.T) {
	store, _ := newTestRelationshipStore(t)
	rel := sampleRelationship("rel:1", "sym:a", "sym:b")
	if err := store.Upsert(rel); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.DeleteByEntity("sym:a"); err != nil {
		t.Fatalf("DeleteByEntity: %v", err)
	}
	if _, err := store.Get("rel:1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after DeleteByEntity, got %v", err)
	}
}

func TestRelationshipStore_PutBulk(t *testing.T) {
	store, _ := newTestRelationshipStore(t)
	rels := []model.Relationship{
		sampleRelationship("rel:1", "sym:a", "sym:b"),
		sampleRelationship("rel:2", "sym:a", "sym:c"),
		sampleRelationship("rel:3", "sym:b", "sym:c"),
	}
	if err := store.PutBulk(rels); err != nil {
		t.Fatalf("PutBulk: %v", err)
	}
	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}
