package ingest

import (
	"testing"
	"time"

	"memento/internal/model"
)

func TestRelate_BuildFileRelationships_ContainsAndExports(t *testing.T) {
	cache := NewCache(t.TempDir())
	relate := NewRelate(cache)

	result := ParseResult{
		Symbols: []model.Entity{
			{ID: "sym:a.go#Foo@aaaaaaaa", Kind: model.KindFunction, Data: model.FunctionData{
				SymbolData: model.SymbolData{Name: "Foo", IsExported: true},
			}},
			{ID: "sym:a.go#bar@bbbbbbbb", Kind: model.KindFunction, Data: model.FunctionData{
				SymbolData: model.SymbolData{Name: "bar", IsExported: false},
			}},
		},
		Imports: []string{"fmt"},
	}

	rels := relate.BuildFileRelationships("a.go", result)

	var contains, exports, imports int
	for _, rel := range rels {
		switch rel.Type {
		case model.RelContains:
			contains++
		case model.RelExports:
			exports++
		case model.RelImports:
			imports++
		}
	}

	if contains != 2 {
		t.Errorf("expected 2 CONTAINS edges, got %d", contains)
	}
	if exports != 1 {
		t.Errorf("expected 1 EXPORTS edge (only Foo), got %d", exports)
	}
	if imports != 1 {
		t.Errorf("expected 1 IMPORTS edge, got %d", imports)
	}
}

func TestRelate_ResolveReference_SameFileWins(t *testing.T) {
	cache := NewCache(t.TempDir())
	relate := NewRelate(cache)

	sameFile := map[string]string{"Helper": "sym:a.go#Helper@xxxxxxxx"}
	rel := relate.ResolveReference("sym:a.go#Caller@yyyyyyyy", "Helper", model.RelCalls, sameFile, time.Now())

	if rel.ToEntityID != "sym:a.go#Helper@xxxxxxxx" {
		t.Fatalf("expected same-file resolution, got %q", rel.ToEntityID)
	}
	if rel.Source != model.SourceAST {
		t.Errorf("expected AST-sourced confidence for same-file match, got %v", rel.Source)
	}
}

func TestRelate_ResolveReference_Unresolved(t *testing.T) {
	cache := NewCache(t.TempDir())
	relate := NewRelate(cache)

	rel := relate.ResolveReference("sym:a.go#Caller@yyyyyyyy", "TotallyUnknownSymbol", model.RelCalls, nil, time.Now())

	if rel.ToEntityID != "" {
		t.Fatalf("expected unresolved reference, got ToEntityID %q", rel.ToEntityID)
	}
	if rel.UnresolvedTo == nil {
		t.Fatal("expected UnresolvedTo to be set")
	}
}

func TestMerge_CombinesConfidenceAndBumpsOccurrences(t *testing.T) {
	c1, c2 := 0.7, 0.4
	existing := model.Relationship{
		Occurrences: 1, Confidence: &c1,
		Evidence: []model.Evidence{{Source: model.SourceIndex, Confidence: c1}},
	}
	fresh := model.Relationship{
		Occurrences: 1, Confidence: &c2, LastSeenAt: time.Now(),
		Evidence: []model.Evidence{{Source: model.SourceHeuristic, Confidence: c2, LastSeenAt: time.Now()}},
	}

	merged := Merge(&existing, fresh)

	if merged.Occurrences != 2 {
		t.Errorf("expected occurrences to bump to 2, got %d", merged.Occurrences)
	}
	want := model.CombineConfidence(c1, c2)
	if merged.Confidence == nil || *merged.Confidence != want {
		t.Errorf("expected combined confidence %v, got %v", want, merged.Confidence)
	}
	if len(merged.Evidence) != 2 {
		t.Errorf("expected evidence to accumulate to 2 entries, got %d", len(merged.Evidence))
	}
}
