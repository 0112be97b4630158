package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"memento/internal/logging"
	"memento/internal/model"
)

// fileCacheEntry is the on-disk fingerprint for one file: enough to detect
// a change without re-reading and re-hashing the file's content.
type fileCacheEntry struct {
	Hash    string `json:"hash"`
	ModTime int64  `json:"modTime"`
	Size    int64  `json:"size"`
}

// shardCount controls how many manifest shards the Cache Manager keeps, to
// bound lock contention under concurrent ingestion of many files (§5): a
// path's shard is the first byte of its SHA-256 modulo shardCount, rather
// than one global mutex.
const shardCount = 16

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]fileCacheEntry
	symbols map[string][]model.Entity // path -> last known symbols
	dirty   bool
}

// ExportEntry is one entry in a file's export map (§4.2): the entity an
// exported name resolves to, the file that declares it, the local name it
// was declared under (which may differ from the exported name through a
// re-export), and how many re-export hops separate the two. ReExportOf
// names the (path, name) this entry re-exports, if any; no parser currently
// emits re-export statements (e.g. JS's "export * from"), so this field is
// always empty in this revision — the shape exists ahead of the data.
type ExportEntry struct {
	EntityID   string
	FileRel    string
	LocalName  string
	Depth      int
	ReExportOf string
}

// Cache is the Cache Manager component (C2): per-file hash/parse caching,
// the global name index, the qualified global symbol index keyed
// "fileRelPath:name" the Relationship Builder uses for import-map lookups,
// and each file's export map (§4.2).
type Cache struct {
	workspace string
	manifestDir string
	shards    [shardCount]*cacheShard

	indexMu     sync.RWMutex
	byName      map[string][]string // symbol name -> entity ids
	byExportOf  map[string][]string // file path -> exported entity ids
	bySymbolKey map[string]string   // "fileRelPath:name" -> entity id
	exports     map[string]map[string]ExportEntry // file path -> exported name -> entry
}

// NewCache creates a Cache Manager rooted at workspace's .memento directory,
// loading any manifest shards already on disk.
func NewCache(workspace string) *Cache {
	c := &Cache{
		workspace:   workspace,
		manifestDir: filepath.Join(workspace, ".memento", "cache"),
		byName:      make(map[string][]string),
		byExportOf:  make(map[string][]string),
		bySymbolKey: make(map[string]string),
		exports:     make(map[string]map[string]ExportEntry),
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]fileCacheEntry), symbols: make(map[string][]model.Entity)}
	}
	c.load()
	return c
}

func (c *Cache) shardFor(path string) *cacheShard {
	if path == "" {
		return c.shards[0]
	}
	sum := sha256.Sum256([]byte(path))
	return c.shards[int(sum[0])%shardCount]
}

func (c *Cache) shardPath(i int) string {
	return filepath.Join(c.manifestDir, "shard_"+hex.EncodeToString([]byte{byte(i)})+".json")
}

func (c *Cache) load() {
	for i, shard := range c.shards {
		data, err := os.ReadFile(c.shardPath(i))
		if err != nil {
			continue
		}
		shard.mu.Lock()
		if err := json.Unmarshal(data, &shard.entries); err != nil {
			logging.CacheDebug("shard %d corrupt, starting fresh: %v", i, err)
			shard.entries = make(map[string]fileCacheEntry)
		}
		shard.mu.Unlock()
	}
	logging.Cache("cache loaded from %s", c.manifestDir)
}

// Flush persists every dirty shard's manifest to disk.
func (c *Cache) Flush() error {
	if err := os.MkdirAll(c.manifestDir, 0755); err != nil {
		return err
	}
	for i, shard := range c.shards {
		shard.mu.Lock()
		if !shard.dirty {
			shard.mu.Unlock()
			continue
		}
		data, err := json.MarshalIndent(shard.entries, "", "  ")
		shard.dirty = false
		shard.mu.Unlock()
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.shardPath(i), data, 0644); err != nil {
			return err
		}
	}
	return nil
}

// ContentHash returns the SHA256 hex digest of content (§4.1/§4.2 identity
// used to decide whether a file actually changed, independent of mtime).
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Unchanged reports whether path's fingerprint matches what the cache last
// recorded, letting the caller skip re-parsing entirely.
func (c *Cache) Unchanged(path string, info os.FileInfo) (hash string, ok bool) {
	shard := c.shardFor(path)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.entries[path]
	if !exists {
		return "", false
	}
	if entry.ModTime == info.ModTime().Unix() && entry.Size == info.Size() {
		return entry.Hash, true
	}
	return "", false
}

// Put records a file's fingerprint and symbol table after a (re)parse, and
// updates the global name/export indexes.
func (c *Cache) Put(path string, info os.FileInfo, hash string, symbols []model.Entity) {
	shard := c.shardFor(path)
	shard.mu.Lock()
	shard.entries[path] = fileCacheEntry{Hash: hash, ModTime: info.ModTime().Unix(), Size: info.Size()}
	shard.symbols[path] = symbols
	shard.dirty = true
	shard.mu.Unlock()

	c.reindex(path, symbols)
}

// Symbols returns the last known symbol table for path, if cached.
func (c *Cache) Symbols(path string) ([]model.Entity, bool) {
	shard := c.shardFor(path)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	symbols, ok := shard.symbols[path]
	return symbols, ok
}

// Evict drops path's cache entry entirely (used on delete/rename so a
// removed file's symbols stop shadowing name-index lookups).
func (c *Cache) Evict(path string) {
	shard := c.shardFor(path)
	shard.mu.Lock()
	delete(shard.entries, path)
	delete(shard.symbols, path)
	shard.dirty = true
	shard.mu.Unlock()

	c.indexMu.Lock()
	delete(c.byExportOf, path)
	delete(c.exports, path)
	for name, ids := range c.byName {
		c.byName[name] = filterNotFromPath(ids, path)
	}
	for key := range c.bySymbolKey {
		if strings.HasPrefix(key, path+":") {
			delete(c.bySymbolKey, key)
		}
	}
	c.indexMu.Unlock()
}

func (c *Cache) reindex(path string, symbols []model.Entity) {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	for name, ids := range c.byName {
		c.byName[name] = filterNotFromPath(ids, path)
	}
	for key := range c.bySymbolKey {
		if strings.HasPrefix(key, path+":") {
			delete(c.bySymbolKey, key)
		}
	}

	var exported []string
	fileExports := make(map[string]ExportEntry)
	for _, entity := range symbols {
		name := symbolName(entity)
		if name == "" {
			continue
		}
		c.byName[name] = append(c.byName[name], entity.ID)
		c.bySymbolKey[path+":"+name] = entity.ID
		if symbolExported(entity) {
			exported = append(exported, entity.ID)
			fileExports[name] = ExportEntry{EntityID: entity.ID, FileRel: path, LocalName: name, Depth: 0}
		}
	}
	if len(exported) > 0 {
		c.byExportOf[path] = exported
		c.exports[path] = fileExports
	} else {
		delete(c.byExportOf, path)
		delete(c.exports, path)
	}
}

// LookupGlobalSymbol resolves name as declared specifically in path (the
// qualified global symbol index, §4.2), distinct from LookupByName's
// unqualified, cross-file fan-out (§4.4 resolution step 2).
func (c *Cache) LookupGlobalSymbol(path, name string) (string, bool) {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	id, ok := c.bySymbolKey[path+":"+name]
	return id, ok
}

// ResolveExport resolves name as exported by path, following its
// ReExportOf chain up to maxDepth hops (§4.4 resolution step 3). maxDepth
// <= 0 is treated as 1 (the export itself, no re-export hop).
func (c *Cache) ResolveExport(path, name string, maxDepth int) (string, bool) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()

	curPath, curName := path, name
	for depth := 0; depth < maxDepth; depth++ {
		entry, ok := c.exports[curPath][curName]
		if !ok {
			return "", false
		}
		if entry.ReExportOf == "" {
			return entry.EntityID, true
		}
		parts := strings.SplitN(entry.ReExportOf, ":", 2)
		if len(parts) != 2 {
			return entry.EntityID, true
		}
		curPath, curName = parts[0], parts[1]
	}
	return "", false
}

// LookupInDirectory scans the name index for a candidate declared in dir,
// standing in for a real type-checker resolution pass (§4.4 resolution step
// 4): no go/types (or equivalent) integration exists in this revision, so
// this budgeted, directory-scoped name match is the closest approximation
// available without one.
func (c *Cache) LookupInDirectory(dir, name string) (string, bool) {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	for _, id := range c.byName[name] {
		if p, ok := pathFromSymbolID(id); ok && filepath.Dir(p) == dir {
			return id, true
		}
	}
	return "", false
}

// pathFromSymbolID extracts the file path embedded in a "sym:<path>#..."
// entity id, as produced by model.SymbolEntityID.
func pathFromSymbolID(id string) (string, bool) {
	if !strings.HasPrefix(id, "sym:") {
		return "", false
	}
	rest := id[len("sym:"):]
	idx := strings.LastIndex(rest, "#")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// LookupByName returns every known entity id previously indexed under name,
// across every file the Cache Manager has seen (§4.4 resolution step 5).
func (c *Cache) LookupByName(name string) []string {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	out := make([]string, len(c.byName[name]))
	copy(out, c.byName[name])
	return out
}

// ExportsOf returns the exported entity ids declared by path.
func (c *Cache) ExportsOf(path string) []string {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	out := make([]string, len(c.byExportOf[path]))
	copy(out, c.byExportOf[path])
	return out
}

func filterNotFromPath(ids []string, path string) []string {
	prefix := model.FileEntityID(path)
	_ = prefix // entity ids embed the path verbatim for symbols; compare by substring below
	out := ids[:0:0]
	for _, id := range ids {
		if !entityBelongsToPath(id, path) {
			out = append(out, id)
		}
	}
	return out
}

func entityBelongsToPath(entityID, path string) bool {
	norm := "sym:" + path
	return len(entityID) >= len(norm) && entityID[:len(norm)] == norm
}

func symbolName(e model.Entity) string {
	switch d := e.Data.(type) {
	case model.FunctionData:
		return d.Name
	case model.ClassData:
		return d.Name
	case model.InterfaceData:
		return d.Name
	case model.TypeAliasData:
		return d.Name
	case model.VariableData:
		return d.Name
	default:
		return ""
	}
}

func symbolExported(e model.Entity) bool {
	switch d := e.Data.(type) {
	case model.FunctionData:
		return d.IsExported
	case model.ClassData:
		return d.IsExported
	case model.InterfaceData:
		return d.IsExported
	case model.TypeAliasData:
		return d.IsExported
	case model.VariableData:
		return d.IsExported
	default:
		return false
	}
}
