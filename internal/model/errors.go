package model

import (
	"errors"
	"fmt"
	"time"
)

// ParseError is a non-fatal parse failure attached to a File entity (§7).
// A file that fails to parse keeps whatever entities survive from its last
// successful parse; the error is recorded for visibility, not as a pipeline
// failure.
type ParseError struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // "error" | "warning"
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// ErrStoreUnavailable wraps a transient store failure (connection refused,
// lock timeout). Callers retry with backoff rather than abandoning the change.
type ErrStoreUnavailable struct {
	Op  string
	Err error
}

func (e *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *ErrStoreUnavailable) Unwrap() error { return e.Err }

// ErrStoreConstraint signals a constraint violation (unique key, foreign
// key) that is fatal for the single change that caused it, but does not
// require rolling back unrelated work already committed.
type ErrStoreConstraint struct {
	Op  string
	Err error
}

func (e *ErrStoreConstraint) Error() string {
	return fmt.Sprintf("store constraint violated during %s: %v", e.Op, e.Err)
}

func (e *ErrStoreConstraint) Unwrap() error { return e.Err }

// ErrEmbedFailed marks a vector entry stale rather than aborting ingestion;
// the entity is stored without a fresh embedding and is eligible for retry.
type ErrEmbedFailed struct {
	EntityID string
	Err      error
}

func (e *ErrEmbedFailed) Error() string {
	return fmt.Sprintf("embedding failed for %s: %v", e.EntityID, e.Err)
}

func (e *ErrEmbedFailed) Unwrap() error { return e.Err }

// ErrCancellationRequested is not a failure: it signals a clean unwind of
// an in-flight operation whose context was cancelled.
var ErrCancellationRequested = errors.New("cancellation requested")

// ErrInvariantViolation is fatal: it indicates the in-memory or on-disk
// state has diverged from a §3/§8 invariant and the current pipeline run
// must abort rather than continue compounding the corruption.
type ErrInvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Invariant, e.Detail)
}

// IsTransient reports whether err (or something it wraps) represents a
// condition worth retrying, as opposed to a fatal or permanent failure.
func IsTransient(err error) bool {
	var su *ErrStoreUnavailable
	var ef *ErrEmbedFailed
	return errors.As(err, &su) || errors.As(err, &ef)
}

// DimensionMismatch is returned by the Vector Store when an embedding's
// dimensionality does not match the store's configured dimension. The
// spec's open question on dimension drift is resolved by rejecting the
// write outright rather than silently padding or truncating the vector,
// so embedding-model upgrades are caught instead of silently corrupting
// nearest-neighbor distances.
type DimensionMismatch struct {
	Expected int
	Got      int
}

func (e *DimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// FileChangeType is the closed set of filesystem change kinds the Sync
// Coordinator accepts from its watcher collaborator (§6).
type FileChangeType string

const (
	ChangeAdd    FileChangeType = "add"
	ChangeModify FileChangeType = "modify"
	ChangeDelete FileChangeType = "delete"
	ChangeRename FileChangeType = "rename"
)

// FileChange is one unit of input work handed to the Sync Coordinator.
type FileChange struct {
	Type     FileChangeType `json:"type"`
	Path     string         `json:"path"`
	OldPath  string         `json:"oldPath,omitempty"` // set when Type == ChangeRename
	Detected time.Time      `json:"detected"`
}
