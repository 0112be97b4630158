package facade

import (
	"path/filepath"
	"testing"
	"time"

	"memento/internal/history"
	"memento/internal/model"
	"memento/internal/store"
)

func newTestFacade(t *testing.T) (*Facade, *store.EntityStore, *store.RelationshipStore, *store.VectorStore) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	entities := store.NewEntityStore(db)
	relationships := store.NewRelationshipStore(db)
	vectors, err := store.NewVectorStore(db, 3)
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	versions := store.NewVersionStore(db)
	checkpoints := store.NewCheckpointStore(db)
	historyMgr := history.New(entities, relationships, versions, checkpoints)

	return New(entities, relationships, vectors, historyMgr), entities, relationships, vectors
}

func testEntity(id, path string) model.Entity {
	now := time.Now().UTC()
	return model.Entity{
		ID: id, Kind: model.KindFile, Path: path, Hash: "h1",
		Created: now, LastModified: now,
		Data: model.FileData{Extension: ".go", Lines: 10},
	}
}

func TestGetEntity(t *testing.T) {
	f, entities, _, _ := newTestFacade(t)
	e := testEntity("e1", "a.go")
	if err := entities.Put(e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := f.GetEntity("e1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Path != "a.go" {
		t.Fatalf("got path %q, want a.go", got.Path)
	}
}

func TestListEntities_ByPathAndKind(t *testing.T) {
	f, entities, _, _ := newTestFacade(t)
	if err := entities.Put(testEntity("e1", "a.go")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := entities.Put(testEntity("e2", "b.go")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	byPath, err := f.ListEntities(ListEntitiesOptions{Path: "a.go"})
	if err != nil {
		t.Fatalf("ListEntities by path: %v", err)
	}
	if len(byPath) != 1 || byPath[0].ID != "e1" {
		t.Fatalf("ListEntities by path = %+v, want just e1", byPath)
	}

	byKind, err := f.ListEntities(ListEntitiesOptions{Kind: model.KindFile})
	if err != nil {
		t.Fatalf("ListEntities by kind: %v", err)
	}
	if len(byKind) != 2 {
		t.Fatalf("ListEntities by kind = %d entities, want 2", len(byKind))
	}

	all, err := f.ListEntities(ListEntitiesOptions{})
	if err != nil {
		t.Fatalf("ListEntities all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListEntities{} = %d entities, want 2", len(all))
	}
}

func TestListRelationships_FromToAndTypeFilter(t *testing.T) {
	f, entities, relationships, _ := newTestFacade(t)
	now := time.Now().UTC()
	for _, e := range []model.Entity{testEntity("file1", "a.go"), testEntity("fn1", "a.go")} {
		if err := entities.Put(e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	rel := model.Relationship{
		ID: "r1", FromEntityID: "file1", ToEntityID: "fn1", Type: model.RelContains,
		Created: now, LastModified: now, ValidFrom: now, Active: true, LastSeenAt: now,
	}
	if err := relationships.Upsert(rel); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	fromResults, err := f.ListRelationships(RelationshipQuery{EntityID: "file1", Direction: DirectionFrom})
	if err != nil {
		t.Fatalf("ListRelationships from: %v", err)
	}
	if len(fromResults) != 1 || fromResults[0].ID != "r1" {
		t.Fatalf("ListRelationships from = %+v, want just r1", fromResults)
	}

	toResults, err := f.ListRelationships(RelationshipQuery{EntityID: "fn1", Direction: DirectionTo})
	if err != nil {
		t.Fatalf("ListRelationships to: %v", err)
	}
	if len(toResults) != 1 || toResults[0].ID != "r1" {
		t.Fatalf("ListRelationships to = %+v, want just r1", toResults)
	}

	wrongType, err := f.ListRelationships(RelationshipQuery{EntityID: "file1", Direction: DirectionFrom, Type: model.RelCalls})
	if err != nil {
		t.Fatalf("ListRelationships wrong type: %v", err)
	}
	if len(wrongType) != 0 {
		t.Fatalf("ListRelationships filtered by wrong type = %+v, want empty", wrongType)
	}
}

func TestSearchVectorAndFindSimilar(t *testing.T) {
	f, entities, _, vectors := newTestFacade(t)
	for _, e := range []model.Entity{testEntity("e1", "a.go"), testEntity("e2", "b.go")} {
		if err := entities.Put(e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := vectors.Upsert("e1", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert vector e1: %v", err)
	}
	if err := vectors.Upsert("e2", []float32{0, 1, 0}, nil); err != nil {
		t.Fatalf("Upsert vector e2: %v", err)
	}

	matches, err := f.SearchVector([]float32{1, 0, 0}, store.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(matches) == 0 || matches[0].EntityID != "e1" {
		t.Fatalf("SearchVector top match = %+v, want e1 first", matches)
	}

	similar, err := f.FindSimilar("e1", store.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	for _, m := range similar {
		if m.EntityID == "e1" {
			t.Fatalf("FindSimilar(e1) must not include e1 itself, got %+v", similar)
		}
	}
}

func TestStats(t *testing.T) {
	f, entities, relationships, vectors := newTestFacade(t)
	now := time.Now().UTC()
	if err := entities.Put(testEntity("e1", "a.go")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := entities.Put(testEntity("e2", "b.go")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := relationships.Upsert(model.Relationship{
		ID: "r1", FromEntityID: "e1", ToEntityID: "e2", Type: model.RelContains,
		Created: now, LastModified: now, ValidFrom: now, Active: true, LastSeenAt: now,
	}); err != nil {
		t.Fatalf("Upsert rel: %v", err)
	}
	if err := vectors.Upsert("e1", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert vector: %v", err)
	}

	stats, err := f.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entities != 2 {
		t.Fatalf("Stats.Entities = %d, want 2", stats.Entities)
	}
	if stats.Relationships != 1 {
		t.Fatalf("Stats.Relationships = %d, want 1", stats.Relationships)
	}
	if stats.Vectors.Count != 1 {
		t.Fatalf("Stats.Vectors.Count = %d, want 1", stats.Vectors.Count)
	}
}

func TestTimelineAndCheckpointAndPruneDelegateToHistoryManager(t *testing.T) {
	f, entities, _, _ := newTestFacade(t)
	e := testEntity("e1", "a.go")
	if err := entities.Put(e); err != nil {
		t.Fatalf("Put: %v", err)
	}

	timeline, err := f.Timeline("e1", history.TimelineOptions{})
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if timeline == nil {
		t.Fatal("Timeline returned nil, want a (possibly empty) slice")
	}

	cp, err := f.CreateCheckpoint([]string{"e1"}, "facade test", 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if cp.ID == "" {
		t.Fatal("CreateCheckpoint returned empty ID")
	}

	if _, err := f.PruneHistory(0, time.Now().UTC()); err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
}
