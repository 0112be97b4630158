package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"memento/internal/eventbus"
	"memento/internal/history"
	"memento/internal/ingest"
	"memento/internal/model"
	"memento/internal/store"
)

// fakeEmbedder is a deterministic, zero-cost EmbeddingEngine stand-in so
// tests never reach out to a real model.
type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, _ := f.EmbedBatch(ctx, []string{text})
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

type testRig struct {
	coord   *Coordinator
	bus     *eventbus.Bus
	entities *store.EntityStore
	relationships *store.RelationshipStore
	versions *store.VersionStore
	dir     string
}

func newTestRig(t *testing.T, opts Options) *testRig {
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

	cache := ingest.NewCache(dir)
	parser := ingest.NewParser()
	incremental := ingest.NewIncremental(parser, cache, ingest.IncrementalOptions{})
	relate := ingest.NewRelate(cache)

	bus := eventbus.New()
	coord := New(entities, relationships, vectors, historyMgr, cache, parser, incremental, relate, &fakeEmbedder{}, bus, opts)
	t.Cleanup(coord.Stop)

	return &testRig{coord: coord, bus: bus, entities: entities, relationships: relationships, versions: versions, dir: dir}
}

func (r *testRig) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestCoordinator_AddCreatesFileAndSymbolEntities(t *testing.T) {
	rig := newTestRig(t, Options{DebounceWindow: 10 * time.Millisecond, Workers: 2})
	path := rig.writeFile(t, "a.go", "package a\n\nfunc Foo() int {\n\treturn 1\n}\n")

	rig.coord.Enqueue(model.FileChange{Type: model.ChangeAdd, Path: path})

	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == nil
	})
}

func TestCoordinator_ModifyRecordsNewVersionOnBodyChange(t *testing.T) {
	rig := newTestRig(t, Options{DebounceWindow: 10 * time.Millisecond, Workers: 1})
	path := rig.writeFile(t, "b.go", "package a\n\nfunc Foo() int {\n\treturn 1\n}\n")

	rig.coord.Enqueue(model.FileChange{Type: model.ChangeAdd, Path: path})
	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == nil
	})

	rig.writeFile(t, "b.go", "package a\n\nfunc Foo() int {\n\treturn 2\n}\n")
	rig.coord.Enqueue(model.FileChange{Type: model.ChangeModify, Path: path})

	waitFor(t, time.Second, func() bool {
		versions, err := rig.versions.VersionsForEntity(model.FileEntityID(path))
		return err == nil && len(versions) == 2
	})
}

func TestCoordinator_DeleteDeactivatesIncidentRelationships(t *testing.T) {
	rig := newTestRig(t, Options{DebounceWindow: 10 * time.Millisecond, Workers: 1})
	path := rig.writeFile(t, "c.go", "package a\n\nfunc Foo() int {\n\treturn 1\n}\n")

	rig.coord.Enqueue(model.FileChange{Type: model.ChangeAdd, Path: path})
	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == nil
	})

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rig.coord.Enqueue(model.FileChange{Type: model.ChangeDelete, Path: path})

	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == store.ErrNotFound
	})
	waitFor(t, time.Second, func() bool {
		active, err := rig.relationships.FromEntity(model.FileEntityID(path))
		return err == nil && len(active) == 0
	})
}

func TestCoordinator_DebounceCoalescesDeleteOverModify(t *testing.T) {
	add := model.FileChange{Type: model.ChangeAdd, Path: "x.go"}
	modify := model.FileChange{Type: model.ChangeModify, Path: "x.go"}
	del := model.FileChange{Type: model.ChangeDelete, Path: "x.go"}

	merged := coalesce(add, modify)
	if merged.Type != model.ChangeModify {
		t.Fatalf("expected modify to win over add, got %s", merged.Type)
	}
	merged = coalesce(merged, del)
	if merged.Type != model.ChangeDelete {
		t.Fatalf("expected delete to override modify, got %s", merged.Type)
	}
	merged = coalesce(del, add)
	if merged.Type != model.ChangeDelete {
		t.Fatalf("expected delete to survive a later add within the window, got %s", merged.Type)
	}
}

func TestCoordinator_PauseBlocksWorkersUntilResume(t *testing.T) {
	rig := newTestRig(t, Options{DebounceWindow: 5 * time.Millisecond, Workers: 1})
	rig.coord.Pause()

	path := rig.writeFile(t, "d.go", "package a\n\nfunc Foo() int {\n\treturn 1\n}\n")
	rig.coord.Enqueue(model.FileChange{Type: model.ChangeAdd, Path: path})

	time.Sleep(100 * time.Millisecond)
	if _, err := rig.entities.Get(model.FileEntityID(path)); err != store.ErrNotFound {
		t.Fatalf("expected change to be withheld while paused, got err=%v", err)
	}

	rig.coord.Resume()
	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == nil
	})
}

func TestCoordinator_SamePathBurstIsProcessed(t *testing.T) {
	rig := newTestRig(t, Options{DebounceWindow: 1 * time.Millisecond, Workers: 4})
	path := rig.writeFile(t, "e.go", "package a\n\nfunc Foo() int {\n\treturn 1\n}\n")

	for i := 0; i < 5; i++ {
		rig.coord.Enqueue(model.FileChange{Type: model.ChangeModify, Path: path, Detected: time.Now().UTC()})
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == nil
	})
}

func TestResolveConflict_DefaultIsLastWriterWins(t *testing.T) {
	rig := newTestRig(t, Options{})
	now := time.Now().UTC()
	older := model.Entity{ID: "e1", Kind: model.KindFile, LastModified: now, Data: model.FileData{}}
	newer := model.Entity{ID: "e1", Kind: model.KindFile, LastModified: now.Add(time.Second), Data: model.FileData{Size: 5}}

	got := rig.coord.resolveConflict(newer, older)
	if got.Data.(model.FileData).Size != 5 {
		t.Fatalf("expected newer entity to win, got %+v", got)
	}

	got = rig.coord.resolveConflict(older, newer)
	if got.Data.(model.FileData).Size != 5 {
		t.Fatalf("expected the later-modified entity to win regardless of argument order, got %+v", got)
	}
}

func TestResolveConflict_PluggableStrategyOverridesDefault(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.coord.SetConflictStrategy(model.KindFile, MergeMetadataUnionRight)

	now := time.Now().UTC()
	existing := model.Entity{ID: "e1", Kind: model.KindFile, LastModified: now, Metadata: map[string]interface{}{"owner": "a", "tag": "keep"}}
	incoming := model.Entity{ID: "e1", Kind: model.KindFile, LastModified: now.Add(-time.Second), Metadata: map[string]interface{}{"owner": "b"}}

	got := rig.coord.resolveConflict(incoming, existing)
	if got.Metadata["owner"] != "b" {
		t.Fatalf("expected incoming to win on key collision, got %v", got.Metadata)
	}
	if got.Metadata["tag"] != "keep" {
		t.Fatalf("expected existing-only keys to survive the union, got %v", got.Metadata)
	}
}

func TestCoordinator_RollbackSinceRestoresDeletedEntity(t *testing.T) {
	rig := newTestRig(t, Options{DebounceWindow: 5 * time.Millisecond, Workers: 1})
	path := rig.writeFile(t, "f.go", "package a\n\nfunc Foo() int {\n\treturn 1\n}\n")

	rig.coord.Enqueue(model.FileChange{Type: model.ChangeAdd, Path: path})
	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == nil
	})

	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rig.coord.Enqueue(model.FileChange{Type: model.ChangeDelete, Path: path})
	waitFor(t, time.Second, func() bool {
		_, err := rig.entities.Get(model.FileEntityID(path))
		return err == store.ErrNotFound
	})

	if err := rig.coord.RollbackSince(cutoff); err != nil {
		t.Fatalf("RollbackSince: %v", err)
	}
	if _, err := rig.entities.Get(model.FileEntityID(path)); err != nil {
		t.Fatalf("expected file entity to be restored after rollback, got err=%v", err)
	}
}
