package sync

import "memento/internal/model"

// ConflictStrategy resolves two observations of the same entity id arriving
// through concurrent sources. The default (no strategy registered) is
// last-writer-wins by LastModified; a registered strategy overrides that
// per entity kind (§4.9).
type ConflictStrategy func(incoming, existing model.Entity) model.Entity

// SetConflictStrategy registers a per-EntityKind override of the default
// last-writer-wins resolution.
func (c *Coordinator) SetConflictStrategy(kind model.EntityKind, strategy ConflictStrategy) {
	c.conflictMu.Lock()
	defer c.conflictMu.Unlock()
	c.conflictStrategies[kind] = strategy
}

func (c *Coordinator) resolveConflict(incoming, existing model.Entity) model.Entity {
	c.conflictMu.RLock()
	strategy, ok := c.conflictStrategies[incoming.Kind]
	c.conflictMu.RUnlock()
	if ok {
		return strategy(incoming, existing)
	}
	if existing.LastModified.After(incoming.LastModified) {
		return existing
	}
	return incoming
}

// MergeMetadataUnionRight is a ready-made ConflictStrategy matching the
// spec's example override: keep the incoming write's scalar fields but
// union its Metadata map over the existing entity's, incoming wins on key
// collision.
func MergeMetadataUnionRight(incoming, existing model.Entity) model.Entity {
	if len(existing.Metadata) == 0 {
		return incoming
	}
	merged := incoming
	merged.Metadata = make(map[string]interface{}, len(existing.Metadata)+len(incoming.Metadata))
	for k, v := range existing.Metadata {
		merged.Metadata[k] = v
	}
	for k, v := range incoming.Metadata {
		merged.Metadata[k] = v
	}
	return merged
}
