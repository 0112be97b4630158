// Package eventbus is the Event Bus component (C10): typed fan-out of
// entity/relationship/sync events to subscribers, with per-type replay of
// the last event to new subscribers and best-effort, in-order-per-subscriber
// delivery that drops frames under backpressure rather than blocking
// producers. Adapted from the glass-box event bus's sequence-numbered,
// drop-on-full-channel dispatch pattern.
package eventbus

import (
	"time"

	"memento/internal/model"
)

// EventType is the closed set of event categories the bus carries (§5).
type EventType string

const (
	EntityCreated       EventType = "entityCreated"
	EntityUpdated       EventType = "entityUpdated"
	EntityDeleted       EventType = "entityDeleted"
	RelationshipCreated EventType = "relationshipCreated"
	RelationshipDeleted EventType = "relationshipDeleted"
	FileChangeEvent     EventType = "fileChange"
	SyncStatus          EventType = "syncStatus"
	Shutdown            EventType = "shutdown"
)

// Event is one typed notification. Only the field matching Type is
// meaningful; the others are left zero.
type Event struct {
	// Sequence is a monotonically increasing dispatch order assigned by the
	// bus, used to detect gaps after a drop.
	Sequence  uint64
	Type      EventType
	Timestamp time.Time

	EntityID     string
	Entity       *model.Entity
	Relationship *model.Relationship
	FileChange   *model.FileChange
	SyncStatusMsg string
	ShutdownReason string
}
