package sync

import (
	"time"

	"memento/internal/logging"
	"memento/internal/model"
)

// RollbackSince undoes every committed change after cutoff, in reverse
// order, then cross-checks each touched entity against its most recent
// version at or before cutoff so a gap in the compensation log (a version
// recorded by a path other than this Coordinator) still converges on the
// right state (§4.9 pause/resume/rollback, §8 S6).
func (c *Coordinator) RollbackSince(cutoff time.Time) error {
	entries := c.journal.since(cutoff)
	touched := make(map[string]bool)

	for _, entry := range entries {
		entry.apply(c.entities, c.relationships)
		if entry.Change.Path != "" {
			touched[model.FileEntityID(entry.Change.Path)] = true
		}
		for _, a := range entry.undo {
			switch a.kind {
			case undoDeleteEntity:
				touched[a.entityID] = true
			case undoPutEntity:
				touched[a.entity.ID] = true
			}
		}
	}

	for entityID := range touched {
		if err := c.historyMgr.RestoreEntityAsOf(entityID, cutoff); err != nil {
			return err
		}
	}

	c.journal.truncateSince(cutoff)
	logging.Sync("rollbackSince(%s): replayed %d change(s) across %d entit(y/ies)", cutoff, len(entries), len(touched))
	return nil
}
