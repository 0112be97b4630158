package store

import (
	"testing"

	"memento/internal/model"
)

func newTestVectorStore(t *testing.T) *VectorStore {
	t.Helper()
	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	vs, err := NewVectorStore(db, 0)
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	return vs
}

func TestVectorStore_UpsertAndGet(t *testing.T) {
	vs := newTestVectorStore(t)
	vec := []float32{1, 0, 0}
	if err := vs.Upsert("sym:a", vec, map[string]interface{}{"model": "test-model"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := vs.Get("sym:a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("unexpected vector: %v", got)
	}
}

func TestVectorStore_DimensionMismatchRejected(t *testing.T) {
	vs := newTestVectorStore(t)
	if err := vs.Upsert("sym:a", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	err := vs.Upsert("sym:b", []float32{1, 0}, nil)
	mismatch, ok := err.(*model.DimensionMismatch)
	if !ok {
		t.Fatalf("expected *model.DimensionMismatch, got %T: %v", err, err)
	}
	if mismatch.Expected != 3 || mismatch.Got != 2 {
		t.Fatalf("unexpected mismatch detail: %+v", mismatch)
	}
}

func TestVectorStore_SearchOrdersByScoreDescending(t *testing.T) {
	vs := newTestVectorStore(t)
	if err := vs.Upsert("same", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert same: %v", err)
	}
	if err := vs.Upsert("orthogonal", []float32{0, 1, 0}, nil); err != nil {
		t.Fatalf("Upsert orthogonal: %v", err)
	}
	if err := vs.Upsert("opposite", []float32{-1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert opposite: %v", err)
	}

	matches, err := vs.Search([]float32{1, 0, 0}, SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].EntityID != "same" {
		t.Fatalf("expected highest-scoring match to be 'same', got %s", matches[0].EntityID)
	}
	if matches[len(matches)-1].EntityID != "opposite" {
		t.Fatalf("expected lowest-scoring match to be 'opposite', got %s", matches[len(matches)-1].EntityID)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Fatalf("matches not sorted descending by score: %+v", matches)
		}
	}
}

func TestVectorStore_SearchMinScoreFilter(t *testing.T) {
	vs := newTestVectorStore(t)
	if err := vs.Upsert("same", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert same: %v", err)
	}
	if err := vs.Upsert("opposite", []float32{-1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert opposite: %v", err)
	}

	matches, err := vs.Search([]float32{1, 0, 0}, SearchOptions{Limit: 10, MinScore: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].EntityID != "same" {
		t.Fatalf("expected only 'same' to pass MinScore filter, got %+v", matches)
	}
}

func TestVectorStore_FindSimilarExcludesSelf(t *testing.T) {
	vs := newTestVectorStore(t)
	if err := vs.Upsert("a", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := vs.Upsert("b", []float32{0.9, 0.1, 0}, nil); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}

	matches, err := vs.FindSimilar("a", SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	for _, m := range matches {
		if m.EntityID == "a" {
			t.Fatalf("FindSimilar should exclude the query entity, got %+v", matches)
		}
	}
	if len(matches) != 1 || matches[0].EntityID != "b" {
		t.Fatalf("expected only 'b', got %+v", matches)
	}
}

func TestVectorStore_MarkStaleAndStaleIDs(t *testing.T) {
	vs := newTestVectorStore(t)
	if err := vs.Upsert("sym:a", []float32{1, 0}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := vs.MarkStale("sym:a"); err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	ids, err := vs.StaleIDs()
	if err != nil {
		t.Fatalf("StaleIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sym:a" {
		t.Fatalf("expected [sym:a], got %v", ids)
	}
}

func TestVectorStore_Delete(t *testing.T) {
	vs := newTestVectorStore(t)
	if err := vs.Upsert("sym:a", []float32{1, 0}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := vs.Delete("sym:a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := vs.Get("sym:a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVectorStore_Stats(t *testing.T) {
	vs := newTestVectorStore(t)
	if err := vs.Upsert("sym:a", []float32{1, 0}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	stats, err := vs.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 1 || stats.Dimension != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
