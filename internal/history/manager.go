// Package history implements the History Manager (C8): append-only
// versions, BFS-bounded checkpoints, and the retention sweep that closes
// stale relationships and prunes orphaned history.
package history

import (
	"encoding/json"
	"time"

	"memento/internal/logging"
	"memento/internal/model"
	"memento/internal/store"
)

// Manager is the History Manager component (C8).
type Manager struct {
	entities      *store.EntityStore
	relationships *store.RelationshipStore
	versions      *store.VersionStore
	checkpoints   *store.CheckpointStore
}

// New wires a Manager onto the already-open stores.
func New(entities *store.EntityStore, relationships *store.RelationshipStore, versions *store.VersionStore, checkpoints *store.CheckpointStore) *Manager {
	return &Manager{entities: entities, relationships: relationships, versions: versions, checkpoints: checkpoints}
}

// RecordVersion appends a Version snapshot for entity and, if a prior
// version exists, links them with a PREVIOUS_VERSION edge (§4.8). Callers
// are expected to have already checked that entity.Hash changed; RecordVersion
// itself is idempotent on (entityID, hash) via model.VersionID, so calling it
// twice for the same snapshot is harmless.
func (m *Manager) RecordVersion(entity model.Entity, sessionID, changeReason string, now time.Time) (model.Version, error) {
	prior, priorErr := m.versions.LatestVersion(entity.ID)
	hasPrior := priorErr == nil

	snapshot, err := snapshotOf(entity)
	if err != nil {
		return model.Version{}, err
	}

	v := model.Version{
		ID:           model.VersionID(entity.ID, entity.Hash),
		EntityID:     entity.ID,
		SnapshotHash: entity.Hash,
		Snapshot:     snapshot,
		SessionID:    sessionID,
		Created:      now,
		ChangeReason: changeReason,
	}
	if err := m.versions.PutVersion(v); err != nil {
		return model.Version{}, err
	}

	if hasPrior && prior.ID != v.ID {
		confidence := 1.0
		rel := model.Relationship{
			ID:           model.RelationshipCanonicalID(entity.ID, model.RelPreviousVersion, prior.ID, entity.Hash),
			FromEntityID: entity.ID,
			ToEntityID:   prior.ID,
			Type:         model.RelPreviousVersion,
			Created:      now,
			LastModified: now,
			Version:      1,
			ValidFrom:    now,
			Active:       true,
			Confidence:   &confidence,
			Source:       model.SourceIndex,
			Occurrences:  1,
			LastSeenAt:   now,
		}
		if err := m.relationships.Upsert(rel); err != nil {
			return v, err
		}
	}

	logging.HistoryDebug("recorded version %s for entity %s (prior=%v)", v.ID, entity.ID, hasPrior)
	return v, nil
}

func snapshotOf(entity model.Entity) (map[string]interface{}, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, &model.ErrStoreConstraint{Op: "RecordVersion", Err: err}
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, &model.ErrStoreConstraint{Op: "RecordVersion", Err: err}
	}
	return snapshot, nil
}

// VersionsForEntity returns entityID's full version history in chronological
// order, used by the Sync Coordinator's rollbackSince to find the version
// current as of a given cutoff (§4.9).
func (m *Manager) VersionsForEntity(entityID string) ([]model.Version, error) {
	return m.versions.VersionsForEntity(entityID)
}

// RestoreEntityAsOf ensures entityID's live row matches its version current
// as of cutoff (the latest version at or before cutoff): added back if it
// was deleted since, overwritten if it changed since, left alone if it
// already matches. Shared by the Sync Coordinator's journal-replay rollback
// (`sync.Coordinator.RollbackSince`) and the CLI's cold-start rollback
// (`memento rollback`, which has no in-memory journal to replay since it
// runs in a separate process from any live coordinator — §9 decision).
func (m *Manager) RestoreEntityAsOf(entityID string, cutoff time.Time) error {
	versions, err := m.versions.VersionsForEntity(entityID)
	if err != nil {
		return err
	}

	var asOf *model.Version
	for i := range versions {
		if versions[i].Created.After(cutoff) {
			break
		}
		v := versions[i]
		asOf = &v
	}

	live, liveErr := m.entities.Get(entityID)

	if asOf == nil {
		if liveErr == nil {
			return m.entities.Delete(entityID)
		}
		return nil
	}

	restored, err := store.DecodeEntitySnapshot(asOf.Snapshot)
	if err != nil {
		return err
	}
	if liveErr == nil && live.Hash == restored.Hash {
		return nil
	}
	return m.entities.Put(restored)
}

// RollbackSince is the cold-start counterpart to the Sync Coordinator's
// journal-based rollback: given every currently-known entity (the CLI has
// no journal to tell it what changed), it restores each one whose
// LastModified falls after cutoff to its version as of cutoff. Returns the
// number of entities actually touched.
func (m *Manager) RollbackSince(candidates []model.Entity, cutoff time.Time) (int, error) {
	touched := 0
	for _, e := range candidates {
		if !e.LastModified.After(cutoff) {
			continue
		}
		if err := m.RestoreEntityAsOf(e.ID, cutoff); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}

// PruneResult reports what pruneHistory removed.
type PruneResult struct {
	RelationshipsClosed  int
	VersionsDeleted      int
	CheckpointsDeleted   int
}

// PruneHistory closes relationships that haven't been reconfirmed since the
// retention cutoff, deletes versions older than the cutoff, and sweeps
// checkpoints whose every seed entity is gone (§4.8).
func (m *Manager) PruneHistory(retentionDays int, now time.Time) (PruneResult, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)

	closed, err := m.relationships.DeactivateStaleBefore(cutoff)
	if err != nil {
		return PruneResult{}, err
	}
	deletedVersions, err := m.versions.DeleteVersionsBefore(cutoff)
	if err != nil {
		return PruneResult{}, err
	}
	deletedCheckpoints, err := m.checkpoints.DeleteOrphanedCheckpoints(func(id string) bool {
		_, err := m.entities.Get(id)
		return err == nil
	})
	if err != nil {
		return PruneResult{}, err
	}

	result := PruneResult{
		RelationshipsClosed: closed,
		VersionsDeleted:     deletedVersions,
		CheckpointsDeleted:  deletedCheckpoints,
	}
	logging.History("pruneHistory(retentionDays=%d): closed=%d versionsDeleted=%d checkpointsDeleted=%d",
		retentionDays, closed, deletedVersions, deletedCheckpoints)
	return result, nil
}

// CreateCheckpoint materializes an immutable Checkpoint plus
// CHECKPOINT_INCLUDES edges to every entity reachable from seeds within hops
// relationship traversals (BFS, bounded). Both edge directions are walked so
// the checkpoint captures an entity's neighborhood, not just its outbound
// dependencies.
func (m *Manager) CreateCheckpoint(seeds []string, reason string, hops int, now time.Time) (model.Checkpoint, error) {
	visited := make(map[string]bool, len(seeds))
	order := make([]string, 0, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if !visited[s] {
			visited[s] = true
			order = append(order, s)
			frontier = append(frontier, s)
		}
	}

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := m.neighborsOf(id)
			if err != nil {
				return model.Checkpoint{}, err
			}
			for _, n := range neighbors {
				if !visited[n] {
					visited[n] = true
					order = append(order, n)
					next = append(next, n)
				}
			}
		}
		frontier = next
	}

	checkpoint := model.Checkpoint{
		ID:           model.CheckpointID(reason, seeds),
		Label:        reason,
		Created:      now,
		SeedEntities: seeds,
		Depth:        hops,
		EntityIDs:    order,
	}
	if err := m.checkpoints.PutCheckpoint(checkpoint); err != nil {
		return model.Checkpoint{}, err
	}

	confidence := 1.0
	for _, entityID := range order {
		rel := model.Relationship{
			ID:           model.RelationshipCanonicalID(checkpoint.ID, model.RelCheckpointIncludes, entityID, ""),
			FromEntityID: checkpoint.ID,
			ToEntityID:   entityID,
			Type:         model.RelCheckpointIncludes,
			Created:      now,
			LastModified: now,
			Version:      1,
			ValidFrom:    now,
			Active:       true,
			Confidence:   &confidence,
			Source:       model.SourceIndex,
			Occurrences:  1,
			LastSeenAt:   now,
		}
		if err := m.relationships.Upsert(rel); err != nil {
			return checkpoint, err
		}
	}

	logging.History("createCheckpoint(%s): %d entities within %d hops of %d seeds", reason, len(order), hops, len(seeds))
	return checkpoint, nil
}

func (m *Manager) neighborsOf(entityID string) ([]string, error) {
	out, err := m.relationships.FromEntity(entityID)
	if err != nil {
		return nil, err
	}
	in, err := m.relationships.ToEntity(entityID)
	if err != nil {
		return nil, err
	}
	neighbors := make([]string, 0, len(out)+len(in))
	for _, r := range out {
		if r.ToEntityID != "" {
			neighbors = append(neighbors, r.ToEntityID)
		}
	}
	for _, r := range in {
		neighbors = append(neighbors, r.FromEntityID)
	}
	return neighbors, nil
}

// TimelineEntry is one point in an entity's history (§4.8 timelineOfEntity).
type TimelineEntry struct {
	Version              model.Version
	ModifyingSession      string
	RelationshipsAtPoint []model.Relationship
}

// TimelineOptions bounds a TimelineOfEntity query.
type TimelineOptions struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// TimelineOfEntity returns entityID's version history in chronological
// order, each annotated with the relationships visible as of that version's
// timestamp (as-of reconstruction via validFrom/validTo, §4.8).
func (m *Manager) TimelineOfEntity(entityID string, opts TimelineOptions) ([]TimelineEntry, error) {
	versions, err := m.versions.VersionsForEntity(entityID)
	if err != nil {
		return nil, err
	}

	var filtered []model.Version
	for _, v := range versions {
		if opts.Since != nil && v.Created.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && v.Created.After(*opts.Until) {
			continue
		}
		filtered = append(filtered, v)
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[len(filtered)-opts.Limit:]
	}

	entries := make([]TimelineEntry, 0, len(filtered))
	for _, v := range filtered {
		relsAtPoint, err := m.relationships.AsOf(entityID, v.Created)
		if err != nil {
			return nil, err
		}
		entries = append(entries, TimelineEntry{
			Version:              v,
			ModifyingSession:     v.SessionID,
			RelationshipsAtPoint: relsAtPoint,
		})
	}
	return entries, nil
}
