package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"memento/internal/eventbus"
	"memento/internal/ingest"
	"memento/internal/logging"
	"memento/internal/model"
	"memento/internal/store"
)

// process runs the full pipeline for one debounced FileChange (§4.9 steps
// 3-8): parse, diff against the cache, write entities/relationships/vectors
// inside a logical transaction, record history, and publish events only
// after the transaction commits.
func (c *Coordinator) process(fc model.FileChange) error {
	now := time.Now().UTC()

	if fc.Type == model.ChangeRename {
		if err := c.processOne(model.FileChange{Type: model.ChangeDelete, Path: fc.OldPath, Detected: fc.Detected}, now); err != nil {
			return err
		}
		return c.processOne(model.FileChange{Type: model.ChangeAdd, Path: fc.Path, OldPath: fc.OldPath, Detected: fc.Detected}, now)
	}
	return c.processOne(fc, now)
}

func (c *Coordinator) processOne(fc model.FileChange, now time.Time) error {
	tx := newJournalEntry(fc)

	var events []eventbus.Event
	var err error
	switch fc.Type {
	case model.ChangeDelete:
		events, err = c.processDelete(fc, now, tx)
	case model.ChangeAdd, model.ChangeModify:
		events, err = c.processUpsert(fc, now, tx)
	default:
		return &model.ErrStoreConstraint{Op: "process", Err: fmt.Errorf("unsupported change type %q", fc.Type)}
	}
	if err != nil {
		tx.apply(c.entities, c.relationships)
		return err
	}

	c.journal.commit(tx, now)
	for _, ev := range events {
		c.bus.Publish(ev)
	}
	return nil
}

// processUpsert handles add/modify: parse the file, diff its symbols
// against the cache's last-known set, write the resulting entity and
// relationship changes, and queue the changed symbols for embedding.
func (c *Coordinator) processUpsert(fc model.FileChange, now time.Time, tx *journalEntry) ([]eventbus.Event, error) {
	info, statErr := os.Stat(fc.Path)
	if statErr != nil {
		return nil, &model.ErrStoreUnavailable{Op: "stat " + fc.Path, Err: statErr}
	}

	priorSymbols, hadPrior := c.cache.Symbols(fc.Path)
	outcome := c.incremental.ParseOne(fc.Path, info)
	if outcome.ReadError != nil {
		return nil, &model.ErrStoreUnavailable{Op: "read " + fc.Path, Err: outcome.ReadError}
	}

	events := []eventbus.Event{fileChangeEvent(fc, now)}

	fileEntity, fileEvent, err := c.upsertFileEntity(fc, info, outcome, now, tx)
	if err != nil {
		return nil, err
	}
	if fileEvent != nil {
		events = append(events, *fileEvent)
	}
	if _, err := c.historyMgr.RecordVersion(fileEntity, c.opts.SessionID, string(fc.Type), now); err != nil {
		return nil, err
	}

	if c.opts.MaterializeDirectories {
		dirEvents, err := c.materializeDirectories(fc.Path, now, tx)
		if err != nil {
			return nil, err
		}
		events = append(events, dirEvents...)
	}

	symbolEvents, changedSymbols, err := c.diffSymbols(fc.Path, priorSymbols, outcome.Result.Symbols, now, tx)
	if err != nil {
		return nil, err
	}
	events = append(events, symbolEvents...)

	relEvents, err := c.upsertRelationships(fc.Path, outcome.Result, now, tx)
	if err != nil {
		return nil, err
	}
	events = append(events, relEvents...)

	if hadPrior || len(outcome.Result.Symbols) > 0 {
		fileID := model.FileEntityID(fc.Path)
		stillPresent := make(map[string]bool)
		for _, rel := range c.relate.BuildFileRelationships(fc.Path, outcome.Result) {
			if rel.FromEntityID == fileID {
				stillPresent[rel.ID] = true
			}
		}
		if _, err := c.relationships.DeactivateStaleForEntity(fileID, stillPresent, now); err != nil {
			return nil, err
		}
	}

	c.embedChanged(changedSymbols)
	return events, nil
}

func (c *Coordinator) upsertFileEntity(fc model.FileChange, info os.FileInfo, outcome ingest.FileParseOutcome, now time.Time, tx *journalEntry) (model.Entity, *eventbus.Event, error) {
	fileID := model.FileEntityID(fc.Path)
	prior, priorErr := c.entities.Get(fileID)

	data := model.FileData{
		Extension:   filepath.Ext(fc.Path),
		Size:        info.Size(),
		ParseErrors: outcome.Result.ParseErrors,
		RenamedFrom: fc.OldPath,
	}
	if priorErr == nil {
		if pd, ok := prior.Data.(model.FileData); ok {
			data.Lines = pd.Lines
			data.IsTest = pd.IsTest
			data.IsConfig = pd.IsConfig
			data.Dependencies = pd.Dependencies
			if fc.OldPath == "" {
				data.RenamedFrom = pd.RenamedFrom
			}
			if len(outcome.Result.ParseErrors) == 0 {
				data.ParseErrors = pd.ParseErrors
			}
		}
	}

	entity := model.Entity{
		ID: fileID, Kind: model.KindFile, Path: fc.Path, Hash: outcome.Hash,
		Language: c.parser.LanguageOf(fc.Path), Created: now, LastModified: now, Data: data,
	}
	if priorErr == nil {
		entity.Created = prior.Created
		entity = c.resolveConflict(entity, prior)
	}

	if err := c.putEntity(entity, tx); err != nil {
		return model.Entity{}, nil, err
	}

	if priorErr != nil {
		ev := entityEvent(eventbus.EntityCreated, entity, now)
		return entity, &ev, nil
	}
	if entity.Hash != prior.Hash {
		ev := entityEvent(eventbus.EntityUpdated, entity, now)
		return entity, &ev, nil
	}
	return entity, nil, nil
}

func (c *Coordinator) diffSymbols(path string, prior []model.Entity, fresh []model.Entity, now time.Time, tx *journalEntry) ([]eventbus.Event, []model.Entity, error) {
	priorByID := make(map[string]model.Entity, len(prior))
	for _, s := range prior {
		priorByID[s.ID] = s
	}
	freshByID := make(map[string]model.Entity, len(fresh))
	for _, s := range fresh {
		freshByID[s.ID] = s
	}

	var events []eventbus.Event
	var changed []model.Entity

	for id, sym := range freshByID {
		existing, wasPresent := priorByID[id]
		sym.Created = now
		sym.LastModified = now
		if wasPresent {
			sym.Created = existing.Created
			sym = c.resolveConflict(sym, existing)
		}
		if err := c.putEntity(sym, tx); err != nil {
			return nil, nil, err
		}
		switch {
		case !wasPresent:
			events = append(events, entityEvent(eventbus.EntityCreated, sym, now))
			changed = append(changed, sym)
		case sym.Hash != existing.Hash:
			events = append(events, entityEvent(eventbus.EntityUpdated, sym, now))
			changed = append(changed, sym)
			if _, err := c.historyMgr.RecordVersion(sym, c.opts.SessionID, "modify", now); err != nil {
				return nil, nil, err
			}
		}
	}

	for id, existing := range priorByID {
		if _, stillThere := freshByID[id]; stillThere {
			continue
		}
		if err := c.deactivateEntity(existing, now, tx); err != nil {
			return nil, nil, err
		}
		events = append(events, entityEvent(eventbus.EntityDeleted, existing, now))
	}

	_ = path
	return events, changed, nil
}

// upsertRelationships materializes every module a file imports, then builds
// and writes both the structural edges (CONTAINS/EXPORTS/IMPORTS) and the
// reference edges (CALLS/PARAM_TYPE/RETURNS_TYPE/EXTENDS/TYPE_USES/...) the
// relationship builder's six-step chain resolves from the parse result's
// reference candidates (§4.4).
func (c *Coordinator) upsertRelationships(path string, result ingest.ParseResult, now time.Time, tx *journalEntry) ([]eventbus.Event, error) {
	for _, importPath := range result.Imports {
		if err := c.ensureModuleEntity(importPath, now, tx); err != nil {
			return nil, err
		}
	}

	rels := c.relate.BuildFileRelationships(path, result)
	rels = append(rels, c.relate.ResolveReferencesForFile(path, result, now)...)

	var events []eventbus.Event
	for _, rel := range rels {
		created, err := c.putRelationship(rel, tx)
		if err != nil {
			return nil, err
		}
		if created {
			events = append(events, relationshipEvent(eventbus.RelationshipCreated, rel, now))
		}
	}
	return events, nil
}

// ensureModuleEntity materializes the Module entity an IMPORTS edge targets,
// if it doesn't already exist. Module entities are immutable once created:
// an import path always resolves to the same entity regardless of which
// file first observed it (§4.1).
func (c *Coordinator) ensureModuleEntity(importPath string, now time.Time, tx *journalEntry) error {
	id := model.ModuleEntityID(importPath)
	if _, err := c.entities.Get(id); err == nil {
		return nil
	}
	entity := model.Entity{
		ID: id, Kind: model.KindModule, Path: importPath,
		Created: now, LastModified: now,
		Data: model.ModuleData{Name: importPath},
	}
	return c.putEntity(entity, tx)
}

// materializeDirectories builds the Directory entity chain from workspace
// root down to path's containing directory, and the CONTAINS edge from the
// leaf directory to the file itself (§4.1 invariant 7: every non-root
// directory has exactly one parent CONTAINS edge). Gated on
// Options.MaterializeDirectories since most callers only care about the
// file/symbol graph, not the directory tree.
func (c *Coordinator) materializeDirectories(path string, now time.Time, tx *journalEntry) ([]eventbus.Event, error) {
	dir := filepath.Dir(path)
	if dir == "." {
		dir = ""
	}
	var segments []string
	for d := dir; d != ""; d = filepath.Dir(d) {
		segments = append([]string{d}, segments...)
		if filepath.Dir(d) == d {
			break
		}
	}

	var events []eventbus.Event
	parentID, parentEvents, err := c.upsertDirectoryEntity("", 0, now, tx)
	if err != nil {
		return nil, err
	}
	events = append(events, parentEvents...)

	for depth, seg := range segments {
		childID, childEvents, err := c.upsertDirectoryEntity(seg, depth+1, now, tx)
		if err != nil {
			return nil, err
		}
		events = append(events, childEvents...)

		rel := c.relate.StructuralEdge(parentID, childID, model.RelContains, now)
		created, err := c.putRelationship(rel, tx)
		if err != nil {
			return nil, err
		}
		if created {
			events = append(events, relationshipEvent(eventbus.RelationshipCreated, rel, now))
		}
		parentID = childID
	}

	fileRel := c.relate.StructuralEdge(parentID, model.FileEntityID(path), model.RelContains, now)
	created, err := c.putRelationship(fileRel, tx)
	if err != nil {
		return nil, err
	}
	if created {
		events = append(events, relationshipEvent(eventbus.RelationshipCreated, fileRel, now))
	}
	return events, nil
}

// upsertDirectoryEntity creates dirPath's Directory entity if it doesn't
// already exist (directories are otherwise immutable: depth never changes
// once assigned) and returns its entity id.
func (c *Coordinator) upsertDirectoryEntity(dirPath string, depth int, now time.Time, tx *journalEntry) (string, []eventbus.Event, error) {
	id := model.DirectoryEntityID(dirPath)
	if _, err := c.entities.Get(id); err == nil {
		return id, nil, nil
	}
	entity := model.Entity{
		ID: id, Kind: model.KindDirectory, Path: dirPath,
		Created: now, LastModified: now,
		Data: model.DirectoryData{Depth: depth},
	}
	if err := c.putEntity(entity, tx); err != nil {
		return "", nil, err
	}
	return id, []eventbus.Event{entityEvent(eventbus.EntityCreated, entity, now)}, nil
}

// processDelete deletes every entity rooted at the deleted path from the
// Entity Store outright (entities have no inactive state; the deleted rows
// are kept only in the change's journal entry), closes their incident
// relationships, evicts the vector and cache entries, and emits the
// corresponding events (§4.9 step 4).
func (c *Coordinator) processDelete(fc model.FileChange, now time.Time, tx *journalEntry) ([]eventbus.Event, error) {
	entities, err := c.entities.ListByPath(fc.Path)
	if err != nil {
		return nil, err
	}

	events := []eventbus.Event{fileChangeEvent(fc, now)}
	for _, e := range entities {
		if err := c.deactivateEntity(e, now, tx); err != nil {
			return nil, err
		}
		events = append(events, entityEvent(eventbus.EntityDeleted, e, now))
		if err := c.vectors.Delete(e.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	c.cache.Evict(fc.Path)
	return events, nil
}

func (c *Coordinator) deactivateEntity(e model.Entity, now time.Time, tx *journalEntry) error {
	if err := c.entities.Delete(e.ID); err != nil {
		return err
	}
	tx.recordEntityReplaced(e)
	return c.closeIncidentRelationships(e.ID, now, tx)
}

func (c *Coordinator) closeIncidentRelationships(entityID string, now time.Time, tx *journalEntry) error {
	out, err := c.relationships.FromEntity(entityID)
	if err != nil {
		return err
	}
	in, err := c.relationships.ToEntity(entityID)
	if err != nil {
		return err
	}
	for _, r := range append(out, in...) {
		closed := r
		if err := c.relationships.Deactivate(r.ID, now); err != nil {
			return err
		}
		tx.recordRelationshipReplaced(closed)
	}
	return nil
}

func (c *Coordinator) putEntity(e model.Entity, tx *journalEntry) error {
	prior, priorErr := c.entities.Get(e.ID)
	if err := c.entities.Put(e); err != nil {
		return err
	}
	if priorErr == nil {
		tx.recordEntityReplaced(prior)
	} else {
		tx.recordEntityCreated(e.ID)
	}
	return nil
}

func (c *Coordinator) putRelationship(rel model.Relationship, tx *journalEntry) (bool, error) {
	prior, priorErr := c.relationships.Get(rel.ID)
	if err := c.relationships.Upsert(rel); err != nil {
		return false, err
	}
	if priorErr == nil {
		tx.recordRelationshipReplaced(prior)
		return false, nil
	}
	tx.recordRelationshipCreated(rel.ID)
	return true, nil
}

// embedChanged queues newly-created or body-changed symbols for embedding,
// rate-limited by the token bucket (§5 shared-resource policy). Failures
// mark the vector entry stale rather than failing the pipeline (§7 EmbedFailed).
func (c *Coordinator) embedChanged(symbols []model.Entity) {
	if c.embedder == nil || len(symbols) == 0 {
		return
	}
	ctx := context.Background()
	texts := make([]string, 0, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		texts = append(texts, embeddingTextFor(s))
		ids = append(ids, s.ID)
	}

	if err := c.limiter.WaitN(ctx, len(texts)); err != nil {
		logging.SyncWarn("embedding rate limiter wait failed: %v", err)
		return
	}
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		for _, id := range ids {
			_ = c.vectors.MarkStale(id)
		}
		logging.SyncWarn("embedding batch failed for %d symbols: %v", len(ids), err)
		return
	}
	for i, id := range ids {
		if err := c.vectors.Upsert(id, vectors[i], map[string]interface{}{"model": c.embedder.Name()}); err != nil {
			logging.SyncWarn("vector upsert failed for %s: %v", id, err)
		}
	}
}

func embeddingTextFor(e model.Entity) string {
	switch d := e.Data.(type) {
	case model.FunctionData:
		return d.Signature + "\n" + d.Docstring
	case model.ClassData:
		return d.Signature + "\n" + d.Docstring
	case model.InterfaceData:
		return d.Signature + "\n" + d.Docstring
	default:
		return e.ID
	}
}

func entityEvent(t eventbus.EventType, e model.Entity, now time.Time) eventbus.Event {
	entity := e
	return eventbus.Event{Type: t, Timestamp: now, EntityID: e.ID, Entity: &entity}
}

func relationshipEvent(t eventbus.EventType, r model.Relationship, now time.Time) eventbus.Event {
	rel := r
	return eventbus.Event{Type: t, Timestamp: now, EntityID: r.FromEntityID, Relationship: &rel}
}

func fileChangeEvent(fc model.FileChange, now time.Time) eventbus.Event {
	change := fc
	return eventbus.Event{Type: eventbus.FileChangeEvent, Timestamp: now, FileChange: &change}
}
