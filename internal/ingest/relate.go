package ingest

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"memento/internal/model"
)

// Relate is the Relationship Builder component (C4). It turns the raw
// output of a parse pass (symbols plus import strings) into typed,
// evidence-backed Relationships, resolving each reference through a fixed
// chain of increasingly approximate strategies (resolveReferenceCtx):
//
//  1. same-file match (a symbol defined in the referencing file)
//  2. import-qualified match: the qualifier's import path plus the name
//     looked up in the cache's global symbol index
//  3. re-export resolution from that import path, bounded by
//     RelateOptions.ReExportMaxDepth
//  4. a directory-scoped lookup standing in for a type-checker, bounded by
//     RelateOptions.TypeCheckerBudgetPerFile lookups per file
//  5. unqualified name match against the cache's global name index
//     (heuristic confidence when ambiguous), then a case-insensitive name
//     match as a last resort, tagged with heuristic confidence
//  6. unresolved: recorded as an UnresolvedRef rather than dropped, so a
//     later parse of the missing file can resolve it retroactively
type Relate struct {
	cache *Cache
	opts  RelateOptions

	budgetMu sync.Mutex
	budget   map[string]int // path -> type-checker lookups remaining this pass
}

// RelateOptions tunes the bounded steps of the reference resolution chain
// (§4.4): how many re-export hops to follow, and how many type-checker-
// backed lookups a single file's pass may spend.
type RelateOptions struct {
	ReExportMaxDepth         int
	TypeCheckerBudgetPerFile int
}

func defaultRelateOptions() RelateOptions {
	return RelateOptions{ReExportMaxDepth: 5, TypeCheckerBudgetPerFile: 200}
}

// NewRelate builds a Relationship Builder over cache's name/export indexes,
// with default resolution-chain bounds (§10.2's typeCheckerBudgetPerFile and
// reExportMaxDepth defaults). Call WithOptions to override them.
func NewRelate(cache *Cache) *Relate {
	return &Relate{cache: cache, opts: defaultRelateOptions(), budget: make(map[string]int)}
}

// WithOptions overrides the resolution-chain bounds, clamping non-positive
// values back to the defaults rather than disabling the bound entirely.
func (r *Relate) WithOptions(opts RelateOptions) *Relate {
	if opts.ReExportMaxDepth <= 0 {
		opts.ReExportMaxDepth = defaultRelateOptions().ReExportMaxDepth
	}
	if opts.TypeCheckerBudgetPerFile < 0 {
		opts.TypeCheckerBudgetPerFile = 0
	}
	r.opts = opts
	return r
}

func (r *Relate) resetBudget(path string) {
	r.budgetMu.Lock()
	r.budget[path] = r.opts.TypeCheckerBudgetPerFile
	r.budgetMu.Unlock()
}

func (r *Relate) takeBudget(path string) bool {
	r.budgetMu.Lock()
	defer r.budgetMu.Unlock()
	if r.budget[path] <= 0 {
		return false
	}
	r.budget[path]--
	return true
}

// BuildFileRelationships derives the structural edges for one file's parse
// result: CONTAINS from the file to each symbol, EXPORTS for exported
// symbols, and IMPORTS resolved against the module graph.
func (r *Relate) BuildFileRelationships(path string, result ParseResult) []model.Relationship {
	now := time.Now().UTC()
	fileID := model.FileEntityID(path)
	var rels []model.Relationship

	for _, symbol := range result.Symbols {
		rels = append(rels, r.structuralEdge(fileID, symbol.ID, model.RelContains, now))
		if symbolExported(symbol) {
			rels = append(rels, r.structuralEdge(fileID, symbol.ID, model.RelExports, now))
		}
	}

	for _, imp := range result.Imports {
		rels = append(rels, r.resolveImport(fileID, imp, now))
	}

	return rels
}

// StructuralEdge builds an AST-sourced edge between two known entities,
// exported for callers outside the parse pipeline that still need the
// Relationship Builder's canonical-id/evidence conventions — directory
// containment edges (§4.1 invariant 7) chief among them.
func (r *Relate) StructuralEdge(fromID, toID string, relType model.RelationshipType, now time.Time) model.Relationship {
	return r.structuralEdge(fromID, toID, relType, now)
}

func (r *Relate) structuralEdge(fromID, toID string, relType model.RelationshipType, now time.Time) model.Relationship {
	evidence := model.Evidence{Source: model.SourceAST, Confidence: model.SourceAST.BaseConfidence(), LastSeenAt: now}
	confidence := evidence.Confidence
	return model.Relationship{
		ID: model.RelationshipCanonicalID(fromID, relType, toID, ""),
		FromEntityID: fromID, ToEntityID: toID, Type: relType,
		Created: now, LastModified: now, Version: 1,
		ValidFrom: now, Active: true, Confidence: &confidence,
		Source: model.SourceAST, Occurrences: 1,
		Evidence: []model.Evidence{evidence}, LastSeenAt: now,
	}
}

// resolveImport builds the IMPORTS edge from the file straight to the
// Module entity for importPath. Import strings are exact module specifiers
// rather than fuzzy references, so no step of the reference resolution
// chain runs on them.
func (r *Relate) resolveImport(fromID, importPath string, now time.Time) model.Relationship {
	moduleID := model.ModuleEntityID(importPath)
	confidence := model.SourceIndex.BaseConfidence()
	rel := model.Relationship{
		Type: model.RelImports, FromEntityID: fromID,
		Created: now, LastModified: now, Version: 1,
		ValidFrom: now, Active: true, Source: model.SourceIndex,
		Occurrences: 1, Confidence: &confidence, LastSeenAt: now,
	}
	rel.ToEntityID = moduleID
	rel.ID = model.RelationshipCanonicalID(fromID, model.RelImports, moduleID, "")
	rel.Evidence = []model.Evidence{{Source: model.SourceIndex, Confidence: confidence, Note: importPath, LastSeenAt: now}}
	return rel
}

// ResolveReference resolves a bare symbol reference (a call, a type usage)
// found while walking a file's AST. It runs steps 1, 5 and 6 of the chain
// (same-file, name index then case-insensitive match, unresolved); the
// import, re-export and type-checker steps are not run here, only by
// ResolveReferencesForFile. sameFile lists symbol names already known to be
// defined in the referencing file.
func (r *Relate) ResolveReference(fromID, name string, relType model.RelationshipType, sameFile map[string]string, now time.Time) model.Relationship {
	// Step 1: same-file match short-circuits the cache lookups entirely,
	// since a locally shadowing definition always wins over a same-named
	// export elsewhere.
	if toID, ok := sameFile[name]; ok {
		return r.resolved(fromID, toID, relType, model.SourceAST, "", now)
	}

	// Step 5: global name index (exact, but not qualified).
	candidates := r.cache.LookupByName(name)
	if len(candidates) == 1 {
		return r.resolved(fromID, candidates[0], relType, model.SourceIndex, "", now)
	}
	if len(candidates) > 1 {
		// Ambiguous: keep the first candidate but record lower confidence,
		// since the index step guarantees an exact name match, not a
		// unique one (§4.4 step 5 qualifies "exact" to "name", not "site").
		return r.resolved(fromID, candidates[0], relType, model.SourceHeuristic, "ambiguous: "+name, now)
	}

	// Step 5, continued: heuristic fuzzy match (case-insensitive) over every indexed
	// name, used only when nothing resolved exactly.
	if fuzzy := r.fuzzyMatch(name); fuzzy != "" {
		return r.resolved(fromID, fuzzy, relType, model.SourceHeuristic, "fuzzy: "+name, now)
	}

	// Step 6: unresolved, recorded rather than dropped.
	return r.unresolved(fromID, name, relType, now)
}

// ResolveReferencesForFile runs result.References through the full six-step
// resolution chain (§4.4), producing one Relationship per candidate: same-
// file binding, import-qualified lookup against the cache's global symbol
// index, re-export resolution, a budgeted type-checker-style fallback,
// name-index heuristics, and finally an unresolved record. It resets the
// file's type-checker budget before resolving, so each parse pass gets a
// fresh allowance (§10.2 typeCheckerBudgetPerFile).
func (r *Relate) ResolveReferencesForFile(path string, result ParseResult, now time.Time) []model.Relationship {
	sameFile := make(map[string]string, len(result.Symbols))
	for _, symbol := range result.Symbols {
		if name := symbolName(symbol); name != "" {
			sameFile[name] = symbol.ID
		}
	}

	r.resetBudget(path)
	dir := filepath.Dir(path)

	rels := make([]model.Relationship, 0, len(result.References))
	for _, ref := range result.References {
		ctx := referenceContext{
			fromID: ref.FromID, name: ref.Name, qualifier: ref.Qualifier, relType: ref.Type,
			sameFile: sameFile, importAliases: result.ImportAliases,
			dir: dir, path: path, now: now,
		}
		rels = append(rels, r.resolveReferenceCtx(ctx))
	}
	return rels
}

// referenceContext carries everything resolveReferenceCtx needs to run one
// reference candidate through the resolution chain.
type referenceContext struct {
	fromID, name, qualifier string
	relType                 model.RelationshipType
	sameFile                map[string]string
	importAliases           map[string]string
	dir, path               string
	now                     time.Time
}

// resolveReferenceCtx implements the full §4.4 six-step chain: same-file
// binding, import-map + global symbol index, bounded re-export resolution,
// budgeted type-checker fallback, name-index heuristics (exact-but-ambiguous
// then fuzzy), and unresolved.
func (r *Relate) resolveReferenceCtx(ctx referenceContext) model.Relationship {
	// Step 1: same-file binding wins over anything else.
	if toID, ok := ctx.sameFile[ctx.name]; ok {
		return r.resolved(ctx.fromID, toID, ctx.relType, model.SourceAST, "", ctx.now)
	}

	// Step 2: import-map lookup (alias -> import path -> global symbol index).
	if ctx.qualifier != "" {
		if importPath, ok := ctx.importAliases[ctx.qualifier]; ok {
			if toID, ok := r.cache.LookupGlobalSymbol(importPath, ctx.name); ok {
				return r.resolved(ctx.fromID, toID, ctx.relType, model.SourceIndex, "", ctx.now)
			}
			// Step 3: re-export resolution, bounded to opts.ReExportMaxDepth.
			if toID, ok := r.cache.ResolveExport(importPath, ctx.name, r.opts.ReExportMaxDepth); ok {
				return r.resolved(ctx.fromID, toID, ctx.relType, model.SourceIndex, "re-export: "+ctx.qualifier+"."+ctx.name, ctx.now)
			}
		}
	}

	// Step 4: budgeted type-checker-style fallback (directory-scoped lookup
	// standing in for a real type-checker; see Cache.LookupInDirectory).
	if r.opts.TypeCheckerBudgetPerFile > 0 && r.takeBudget(ctx.path) {
		if toID, ok := r.cache.LookupInDirectory(ctx.dir, ctx.name); ok {
			return r.resolved(ctx.fromID, toID, ctx.relType, model.SourceTypeChecker, "", ctx.now)
		}
	}

	// Step 5: global name index (exact, but not qualified), then fuzzy.
	candidates := r.cache.LookupByName(ctx.name)
	if len(candidates) == 1 {
		return r.resolved(ctx.fromID, candidates[0], ctx.relType, model.SourceIndex, "", ctx.now)
	}
	if len(candidates) > 1 {
		return r.resolved(ctx.fromID, candidates[0], ctx.relType, model.SourceHeuristic, "ambiguous: "+ctx.name, ctx.now)
	}
	if fuzzy := r.fuzzyMatch(ctx.name); fuzzy != "" {
		return r.resolved(ctx.fromID, fuzzy, ctx.relType, model.SourceHeuristic, "fuzzy: "+ctx.name, ctx.now)
	}

	// Step 6: unresolved, recorded rather than dropped.
	return r.unresolved(ctx.fromID, ctx.name, ctx.relType, ctx.now)
}

func (r *Relate) fuzzyMatch(name string) string {
	lower := strings.ToLower(name)
	r.cache.indexMu.RLock()
	defer r.cache.indexMu.RUnlock()
	for candidateName, ids := range r.cache.byName {
		if len(ids) == 0 {
			continue
		}
		if strings.ToLower(candidateName) == lower {
			return ids[0]
		}
	}
	return ""
}

func (r *Relate) resolved(fromID, toID string, relType model.RelationshipType, source model.EvidenceSource, note string, now time.Time) model.Relationship {
	confidence := source.BaseConfidence()
	return model.Relationship{
		ID: model.RelationshipCanonicalID(fromID, relType, toID, ""),
		FromEntityID: fromID, ToEntityID: toID, Type: relType,
		Created: now, LastModified: now, Version: 1,
		ValidFrom: now, Active: true, Confidence: &confidence,
		Inferred: source != model.SourceAST, Source: source, Occurrences: 1,
		Evidence:   []model.Evidence{{Source: source, Confidence: confidence, Note: note, LastSeenAt: now}},
		LastSeenAt: now,
	}
}

func (r *Relate) unresolved(fromID, name string, relType model.RelationshipType, now time.Time) model.Relationship {
	ref := &model.UnresolvedRef{Kind: "external", Name: name}
	confidence := model.SourceHeuristic.BaseConfidence() * 0.5
	rel := model.Relationship{
		Type: relType, FromEntityID: fromID, UnresolvedTo: ref,
		Created: now, LastModified: now, Version: 1,
		ValidFrom: now, Active: true, Source: model.SourceHeuristic,
		Occurrences: 1, Confidence: &confidence, LastSeenAt: now,
	}
	rel.ID = model.RelationshipCanonicalID(fromID, relType, rel.TargetKey(), "")
	rel.Evidence = []model.Evidence{{Source: model.SourceHeuristic, Confidence: confidence, Note: "unresolved: " + name, LastSeenAt: now}}
	return rel
}

// Merge folds a freshly observed relationship into an existing one
// (matched by canonical id), combining confidences and bumping occurrence
// count and evidence per §3 invariant 8. Pass nil for existing when no
// prior relationship shares this id.
func Merge(existing *model.Relationship, fresh model.Relationship) model.Relationship {
	if existing == nil {
		return fresh
	}

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

	merged.Evidence = model.AppendEvidence(merged.Evidence, fresh.Evidence[len(fresh.Evidence)-1])
	return merged
}
