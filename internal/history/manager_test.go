package history

import (
	"testing"
	"time"

	"memento/internal/model"
	"memento/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.EntityStore, *store.RelationshipStore) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	entities := store.NewEntityStore(db)
	relationships := store.NewRelationshipStore(db)
	versions := store.NewVersionStore(db)
	checkpoints := store.NewCheckpointStore(db)
	return New(entities, relationships, versions, checkpoints), entities, relationships
}

func sampleFileEntity(id string, hash string, now time.Time) model.Entity {
	return model.Entity{
		ID:           id,
		Kind:         model.KindFile,
		Path:         "a.go",
		Hash:         hash,
		Language:     "go",
		Created:      now,
		LastModified: now,
		Data:         model.FileData{Extension: ".go", Size: 100, Lines: 10},
	}
}

func TestManager_RecordVersionCreatesPreviousVersionEdge(t *testing.T) {
	mgr, entities, relationships := newTestManager(t)
	now := time.Now().UTC()
	entity := sampleFileEntity("file:a.go", "hash1", now)
	if err := entities.Put(entity); err != nil {
		t.Fatalf("Put entity: %v", err)
	}

	if _, err := mgr.RecordVersion(entity, "session-1", "initial", now); err != nil {
		t.Fatalf("RecordVersion (first): %v", err)
	}

	entity.Hash = "hash2"
	later := now.Add(time.Minute)
	v2, err := mgr.RecordVersion(entity, "session-2", "edit", later)
	if err != nil {
		t.Fatalf("RecordVersion (second): %v", err)
	}
	if v2.SnapshotHash != "hash2" {
		t.Fatalf("unexpected snapshot hash: %s", v2.SnapshotHash)
	}

	rels, err := relationships.FromEntity(entity.ID)
	if err != nil {
		t.Fatalf("FromEntity: %v", err)
	}
	found := false
	for _, r := range rels {
		if r.Type == model.RelPreviousVersion {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a PREVIOUS_VERSION relationship, got %+v", rels)
	}
}

func TestManager_TimelineOfEntityOrdersChronologically(t *testing.T) {
	mgr, entities, _ := newTestManager(t)
	now := time.Now().UTC()
	entity := sampleFileEntity("file:a.go", "hash1", now)
	if err := entities.Put(entity); err != nil {
		t.Fatalf("Put entity: %v", err)
	}
	if _, err := mgr.RecordVersion(entity, "s1", "initial", now); err != nil {
		t.Fatalf("RecordVersion 1: %v", err)
	}
	entity.Hash = "hash2"
	later := now.Add(time.Minute)
	if _, err := mgr.RecordVersion(entity, "s2", "edit", later); err != nil {
		t.Fatalf("RecordVersion 2: %v", err)
	}

	timeline, err := mgr.TimelineOfEntity(entity.ID, TimelineOptions{})
	if err != nil {
		t.Fatalf("TimelineOfEntity: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(timeline))
	}
	if timeline[0].Version.SnapshotHash != "hash1" || timeline[1].Version.SnapshotHash != "hash2" {
		t.Fatalf("expected chronological order, got %+v", timeline)
	}
}

func TestManager_CreateCheckpointBFSBoundedByHops(t *testing.T) {
	mgr, entities, relationships := newTestManager(t)
	now := time.Now().UTC()

	ids := []string{"sym:a", "sym:b", "sym:c", "sym:d"}
	for _, id := range ids {
		e := sampleFileEntity(id, "h", now)
		e.Kind = model.KindFunction
		e.Data = model.FunctionData{}
		if err := entities.Put(e); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	confidence := 1.0
	link := func(from, to string) {
		rel := model.Relationship{
			ID:           model.RelationshipCanonicalID(from, model.RelCalls, to, ""),
			FromEntityID: from,
			ToEntityID:   to,
			Type:         model.RelCalls,
			Created:      now,
			LastModified: now,
			ValidFrom:    now,
			Active:       true,
			Confidence:   &confidence,
			Source:       model.SourceAST,
			Occurrences:  1,
			LastSeenAt:   now,
		}
		if err := relationships.Upsert(rel); err != nil {
			t.Fatalf("Upsert %s->%s: %v", from, to, err)
		}
	}
	link("sym:a", "sym:b")
	link("sym:b", "sym:c")
	link("sym:c", "sym:d")

	checkpoint, err := mgr.CreateCheckpoint([]string{"sym:a"}, "manual", 2, now)
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	// hop 0: sym:a, hop 1: sym:b, hop 2: sym:c -- sym:d is 3 hops away.
	contains := func(ids []string, want string) bool {
		for _, id := range ids {
			if id == want {
				return true
			}
		}
		return false
	}
	if !contains(checkpoint.EntityIDs, "sym:c") {
		t.Fatalf("expected sym:c within 2 hops, got %v", checkpoint.EntityIDs)
	}
	if contains(checkpoint.EntityIDs, "sym:d") {
		t.Fatalf("expected sym:d to be excluded beyond 2 hops, got %v", checkpoint.EntityIDs)
	}
}

func TestManager_PruneHistoryClosesStaleRelationshipsAndDeletesOldVersions(t *testing.T) {
	mgr, entities, relationships := newTestManager(t)
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	entity := sampleFileEntity("file:a.go", "hash1", old)
	if err := entities.Put(entity); err != nil {
		t.Fatalf("Put entity: %v", err)
	}
	if _, err := mgr.RecordVersion(entity, "s1", "initial", old); err != nil {
		t.Fatalf("RecordVersion: %v", err)
	}

	confidence := 1.0
	staleRel := model.Relationship{
		ID:           model.RelationshipCanonicalID(entity.ID, model.RelCalls, "sym:other", ""),
		FromEntityID: entity.ID,
		ToEntityID:   "sym:other",
		Type:         model.RelCalls,
		Created:      old,
		LastModified: old,
		ValidFrom:    old,
		Active:       true,
		Confidence:   &confidence,
		Source:       model.SourceAST,
		Occurrences:  1,
		LastSeenAt:   old,
	}
	if err := relationships.Upsert(staleRel); err != nil {
		t.Fatalf("Upsert staleRel: %v", err)
	}

	result, err := mgr.PruneHistory(30, time.Now().UTC())
	if err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
	if result.RelationshipsClosed == 0 {
		t.Fatalf("expected at least one relationship closed, got %+v", result)
	}
	if result.VersionsDeleted == 0 {
		t.Fatalf("expected at least one version deleted, got %+v", result)
	}
}
