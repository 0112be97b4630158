package ingest

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"memento/internal/logging"
	"memento/internal/model"
)

// IncrementalOptions controls the Incremental Parser's behavior (C3).
type IncrementalOptions struct {
	// MaxConcurrency bounds the number of files parsed at once. Zero means
	// DefaultMaxConcurrency.
	MaxConcurrency int
}

// DefaultMaxConcurrency matches the teacher's scanner default worker count.
const DefaultMaxConcurrency = 8

// FileParseOutcome is the per-file result of an incremental pass: either a
// fresh ParseResult plus its content hash, or a note that the file was
// skipped because its fingerprint matched the cache.
type FileParseOutcome struct {
	Path      string
	Hash      string
	Skipped   bool
	Result    ParseResult
	ReadError error
}

// Incremental is the Incremental Parser component (C3): given the full set
// of files currently on disk, it diffs against the Cache Manager's last
// known fingerprints and parses only what changed, in parallel, bounded by
// a worker pool.
type Incremental struct {
	parser *Parser
	cache  *Cache
	opts   IncrementalOptions
}

// NewIncremental builds an Incremental Parser over parser and cache.
func NewIncremental(parser *Parser, cache *Cache, opts IncrementalOptions) *Incremental {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Incremental{parser: parser, cache: cache, opts: opts}
}

// DiffResult partitions the current file listing against the cache.
type DiffResult struct {
	Changed []string
	Added   []string
	Deleted []string
}

// Diff compares currentFiles (path -> os.FileInfo, as returned by a
// filesystem walk) against the cache's last known fingerprints.
func (inc *Incremental) Diff(currentFiles map[string]os.FileInfo) DiffResult {
	var diff DiffResult
	seen := make(map[string]bool, len(currentFiles))

	for path, info := range currentFiles {
		seen[path] = true
		if _, unchanged := inc.cache.Unchanged(path, info); unchanged {
			continue
		}
		if _, hadEntry := inc.cache.Symbols(path); hadEntry {
			diff.Changed = append(diff.Changed, path)
		} else {
			diff.Added = append(diff.Added, path)
		}
	}

	for _, shard := range inc.cache.shards {
		shard.mu.RLock()
		for path := range shard.entries {
			if !seen[path] {
				diff.Deleted = append(diff.Deleted, path)
			}
		}
		shard.mu.RUnlock()
	}

	return diff
}

// ParseChanged parses every path in paths concurrently, bounded by
// opts.MaxConcurrency via errgroup.SetLimit. Order of the returned outcomes
// is not guaranteed to match paths. A per-file read or parse error is
// recorded on that file's outcome rather than aborting the group — a bad
// file should not block the rest of a reindex pass.
func (inc *Incremental) ParseChanged(paths []string, infoOf map[string]os.FileInfo) []FileParseOutcome {
	if len(paths) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(inc.opts.MaxConcurrency)

	var mu sync.Mutex
	outcomes := make([]FileParseOutcome, 0, len(paths))

	for _, path := range paths {
		path := path
		g.Go(func() error {
			outcome := inc.parseOne(path, infoOf[path])
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// ParseOne runs the same single-file parse-and-cache step ParseChanged uses
// internally, exported for callers (the Sync Coordinator) driving one path
// at a time instead of a full-tree diff pass.
func (inc *Incremental) ParseOne(path string, info os.FileInfo) FileParseOutcome {
	return inc.parseOne(path, info)
}

func (inc *Incremental) parseOne(path string, info os.FileInfo) FileParseOutcome {
	content, err := os.ReadFile(path)
	if err != nil {
		logging.IncrementalDebug("read failed for %s: %v", path, err)
		return FileParseOutcome{Path: path, ReadError: err}
	}

	hash := ContentHash(content)
	result, err := inc.parser.Parse(path, content)
	if err != nil {
		return FileParseOutcome{Path: path, Hash: hash, ReadError: err}
	}

	inc.cache.Put(path, info, hash, result.Symbols)
	return FileParseOutcome{Path: path, Hash: hash, Result: result}
}

// EvictDeleted removes every deleted path from the cache. Callers should
// still mark the corresponding File entity inactive in the Entity Store;
// the cache itself only tracks fingerprints and symbol tables.
func (inc *Incremental) EvictDeleted(paths []string) {
	for _, path := range paths {
		inc.cache.Evict(path)
	}
}

// markerEntityFor is a convenience used by callers building a synthetic
// File entity for a path that no longer exists on disk, for rename
// tracking (§9 standardized rename breadcrumb).
func markerEntityFor(path, renamedFrom string) model.Entity {
	return model.Entity{
		ID: model.FileEntityID(path), Kind: model.KindFile, Path: path,
		Created: nowUTC(), LastModified: nowUTC(),
		Data: model.FileData{RenamedFrom: renamedFrom},
	}
}
