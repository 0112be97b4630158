package sync

import (
	"sync"
	"time"

	"memento/internal/model"
	"memento/internal/store"
)

// undoKind is the closed set of compensation actions the journal can replay,
// either immediately (an uncommitted change that failed partway through) or
// later via rollbackSince (a committed change undone in reverse order).
type undoKind int

const (
	undoDeleteEntity undoKind = iota
	undoPutEntity
	undoDeleteRelationship
	undoPutRelationship
)

type undoAction struct {
	kind         undoKind
	entityID     string
	entity       model.Entity
	relID        string
	relationship model.Relationship
}

// journalEntry is the compensation log for one FileChange's logical
// transaction (§4.9 pipeline step 5): every write it made, in apply order,
// so either a failed pass or a later rollbackSince can undo them in reverse.
type journalEntry struct {
	Change    model.FileChange
	Timestamp time.Time
	undo      []undoAction
}

func newJournalEntry(fc model.FileChange) *journalEntry {
	return &journalEntry{Change: fc}
}

func (e *journalEntry) recordEntityCreated(id string) {
	e.undo = append(e.undo, undoAction{kind: undoDeleteEntity, entityID: id})
}

func (e *journalEntry) recordEntityReplaced(prior model.Entity) {
	e.undo = append(e.undo, undoAction{kind: undoPutEntity, entity: prior})
}

func (e *journalEntry) recordRelationshipCreated(id string) {
	e.undo = append(e.undo, undoAction{kind: undoDeleteRelationship, relID: id})
}

func (e *journalEntry) recordRelationshipReplaced(prior model.Relationship) {
	e.undo = append(e.undo, undoAction{kind: undoPutRelationship, relationship: prior})
}

// apply replays the entry's undo actions in reverse (LIFO) order.
func (e *journalEntry) apply(entities *store.EntityStore, relationships *store.RelationshipStore) {
	for i := len(e.undo) - 1; i >= 0; i-- {
		a := e.undo[i]
		switch a.kind {
		case undoDeleteEntity:
			_ = entities.Delete(a.entityID)
		case undoPutEntity:
			_ = entities.Put(a.entity)
		case undoDeleteRelationship:
			_ = relationships.Delete(a.relID)
		case undoPutRelationship:
			_ = relationships.Upsert(a.relationship)
		}
	}
}

// journal is the Sync Coordinator's append-only log of committed changes,
// walked in reverse by rollbackSince (§4.9).
type journal struct {
	mu        sync.Mutex
	committed []*journalEntry
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) commit(e *journalEntry, at time.Time) {
	e.Timestamp = at
	j.mu.Lock()
	j.committed = append(j.committed, e)
	j.mu.Unlock()
}

// since returns every committed entry with Timestamp > cutoff, most-recent
// first, the order rollbackSince replays them in.
func (j *journal) since(cutoff time.Time) []*journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*journalEntry
	for i := len(j.committed) - 1; i >= 0; i-- {
		if j.committed[i].Timestamp.After(cutoff) {
			out = append(out, j.committed[i])
		}
	}
	return out
}

// truncateSince drops committed entries after cutoff once they've been
// rolled back, so a second rollbackSince call at an earlier cutoff doesn't
// replay them twice.
func (j *journal) truncateSince(cutoff time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.committed[:0]
	for _, e := range j.committed {
		if !e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	j.committed = kept
}
