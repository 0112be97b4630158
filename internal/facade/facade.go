// Package facade is the read façade exposed to API handlers (§6):
// getEntity, listEntities, listRelationships, searchVector, timeline,
// stats, pruneHistory, createCheckpoint. It adds no logic of its own beyond
// shaping queries onto the Entity Store, Relationship Store, Vector Store,
// and History Manager — those components own every invariant.
package facade

import (
	"time"

	"memento/internal/history"
	"memento/internal/model"
	"memento/internal/store"
)

// Facade wraps the read-side stores behind the operation set spec.md §6
// names, so a handler never has to know which underlying store answers a
// given query.
type Facade struct {
	entities      *store.EntityStore
	relationships *store.RelationshipStore
	vectors       *store.VectorStore
	history       *history.Manager
}

// New builds a Facade over the given collaborators.
func New(entities *store.EntityStore, relationships *store.RelationshipStore, vectors *store.VectorStore, historyMgr *history.Manager) *Facade {
	return &Facade{entities: entities, relationships: relationships, vectors: vectors, history: historyMgr}
}

// GetEntity returns one entity by id.
func (f *Facade) GetEntity(id string) (model.Entity, error) {
	return f.entities.Get(id)
}

// ListEntitiesOptions narrows a ListEntities call to one filter at a time,
// mirroring the Entity Store's own ListByPath/ListByKind split rather than
// inventing a combined query the store doesn't support.
type ListEntitiesOptions struct {
	Path string
	Kind model.EntityKind
}

// ListEntities returns entities matching opts. A zero-value ListEntitiesOptions
// (no Path, no Kind) returns every entity, matching the Entity Store's own
// ListAll (used by the CLI's cold-start rollback).
func (f *Facade) ListEntities(opts ListEntitiesOptions) ([]model.Entity, error) {
	switch {
	case opts.Path != "":
		return f.entities.ListByPath(opts.Path)
	case opts.Kind != "":
		return f.entities.ListByKind(opts.Kind)
	default:
		return f.entities.ListAll()
	}
}

// RelationshipDirection selects which end of an edge EntityID filters on.
type RelationshipDirection string

const (
	DirectionFrom RelationshipDirection = "from"
	DirectionTo   RelationshipDirection = "to"
)

// RelationshipQuery narrows a ListRelationships call. EntityID plus Direction
// chooses FromEntity or ToEntity; AsOf, if set, switches to a point-in-time
// query that also returns closed edges (§4.8 as-of semantics). Type, if set,
// filters the result in-process since neither underlying query takes a type
// predicate.
type RelationshipQuery struct {
	EntityID  string
	Direction RelationshipDirection
	AsOf      *time.Time
	Type      model.RelationshipType
}

// ListRelationships answers query against the Relationship Store, grounded
// on FromEntity/ToEntity for the live case and AsOf for the historical case
// (internal/store/relstore.go).
func (f *Facade) ListRelationships(query RelationshipQuery) ([]model.Relationship, error) {
	var (
		rels []model.Relationship
		err  error
	)
	switch {
	case query.AsOf != nil:
		rels, err = f.relationships.AsOf(query.EntityID, *query.AsOf)
	case query.Direction == DirectionTo:
		rels, err = f.relationships.ToEntity(query.EntityID)
	default:
		rels, err = f.relationships.FromEntity(query.EntityID)
	}
	if err != nil {
		return nil, err
	}
	if query.Type == "" {
		return rels, nil
	}
	filtered := make([]model.Relationship, 0, len(rels))
	for _, r := range rels {
		if r.Type == query.Type {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// SearchVector runs a nearest-neighbor search over the Vector Store.
func (f *Facade) SearchVector(query []float32, opts store.SearchOptions) ([]store.Match, error) {
	return f.vectors.Search(query, opts)
}

// FindSimilar returns the nearest neighbors of an existing entity's vector,
// excluding the entity itself (store.VectorStore.FindSimilar's contract).
func (f *Facade) FindSimilar(entityID string, opts store.SearchOptions) ([]store.Match, error) {
	return f.vectors.FindSimilar(entityID, opts)
}

// Timeline returns entityID's version history, each entry annotated with
// the relationships visible as of that version (history.Manager.TimelineOfEntity).
func (f *Facade) Timeline(entityID string, opts history.TimelineOptions) ([]history.TimelineEntry, error) {
	return f.history.TimelineOfEntity(entityID, opts)
}

// Stats is the aggregate counts a status page or health check reads: entity
// and relationship totals from their stores, plus the Vector Store's own
// count/dimension/stale breakdown.
type Stats struct {
	Entities      int
	Relationships int
	Vectors       store.Stats
}

// Stats gathers counts across the Entity Store, Relationship Store, and
// Vector Store.
func (f *Facade) Stats() (Stats, error) {
	entityCount, err := f.entities.Count()
	if err != nil {
		return Stats{}, err
	}
	relCount, err := f.relationships.Count()
	if err != nil {
		return Stats{}, err
	}
	vecStats, err := f.vectors.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entities: entityCount, Relationships: relCount, Vectors: vecStats}, nil
}

// PruneHistory delegates to the History Manager's retention sweep (§4.8).
func (f *Facade) PruneHistory(retentionDays int, now time.Time) (history.PruneResult, error) {
	return f.history.PruneHistory(retentionDays, now)
}

// CreateCheckpoint delegates to the History Manager's BFS checkpoint (§4.8).
func (f *Facade) CreateCheckpoint(seeds []string, reason string, hops int, now time.Time) (model.Checkpoint, error) {
	return f.history.CreateCheckpoint(seeds, reason, hops, now)
}
