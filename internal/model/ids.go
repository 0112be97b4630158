package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// shortHash returns the first 8 hex bytes of the SHA256 of s, enough to
// disambiguate overloaded signatures without bloating ids.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// normalizePath makes a path stable across OSes: forward slashes, no
// leading "./". A relative and an absolute path to the same file still
// normalize to different strings.
func normalizePath(path string) string {
	p := filepath.ToSlash(path)
	return strings.TrimPrefix(p, "./")
}

// FileEntityID returns the canonical id for a File entity: content never
// participates, so a file keeps its identity across edits and only its
// Hash field changes.
func FileEntityID(path string) string {
	return "file:" + normalizePath(path)
}

// DirectoryEntityID returns the canonical id for a Directory entity.
func DirectoryEntityID(path string) string {
	return "dir:" + normalizePath(path)
}

// ModuleEntityID returns the canonical id for a Module entity.
func ModuleEntityID(path string) string {
	return "mod:" + normalizePath(path)
}

// SymbolEntityID returns the canonical id for a Symbol entity (function,
// class, interface, type alias, variable, property, method). Combining the
// file path, name and a short hash of the signature keeps re-parses of an
// unchanged symbol idempotent while still disambiguating overloads and
// generic instantiations that share a bare name (§3 invariant 1).
func SymbolEntityID(path, name, signature string) string {
	return fmt.Sprintf("sym:%s#%s@%s", normalizePath(path), name, shortHash(signature))
}

// TestEntityID returns the canonical id for a Test entity.
func TestEntityID(path, name string) string {
	return fmt.Sprintf("test:%s#%s", normalizePath(path), name)
}

// SpecEntityID returns the canonical id for a Spec entity sourced from
// structured spec/requirement files.
func SpecEntityID(path, title string) string {
	return fmt.Sprintf("spec:%s#%s", normalizePath(path), shortHash(title))
}

// DocumentationEntityID returns the canonical id for a Documentation entity.
func DocumentationEntityID(path string) string {
	return "doc:" + normalizePath(path)
}

// RelationshipCanonicalID derives a stable id for an edge so that observing
// the same logical relationship twice (e.g. on every re-parse) updates the
// same row instead of duplicating it (§3 invariant 2, §4.4 step 5).
// normalizationKey lets callers fold direction-insensitive or
// arity-insensitive variants (e.g. overload sets) onto one canonical edge.
func RelationshipCanonicalID(fromEntityID string, relType RelationshipType, targetKey string, normalizationKey string) string {
	raw := fromEntityID + "|" + string(relType) + "|" + targetKey
	if normalizationKey != "" {
		raw += "|" + normalizationKey
	}
	return "rel:" + shortHash(raw)
}

// VersionID derives a stable id for a Version snapshot from the entity it
// snapshots and the content hash at that moment, so re-ingesting identical
// content never creates a duplicate version.
func VersionID(entityID, snapshotHash string) string {
	return fmt.Sprintf("ver:%s@%s", entityID, snapshotHash)
}

// CheckpointID derives an id for a checkpoint from its label and seed set,
// so repeated checkpoint requests with the same seeds are idempotent.
func CheckpointID(label string, seedEntityIDs []string) string {
	sorted := make([]string, len(seedEntityIDs))
	copy(sorted, seedEntityIDs)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return fmt.Sprintf("chk:%s@%s", label, shortHash(strings.Join(sorted, ",")))
}
