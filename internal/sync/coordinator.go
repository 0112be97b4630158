// Package sync implements the Sync Coordinator (C9): it turns a stream of
// FileChange events into committed Entity Store, Relationship Store, Vector
// Store and History Manager writes, publishing the result to the Event Bus.
// Per-path changes are debounced and coalesced, then dispatched to a bounded
// worker pool that processes different paths in parallel while keeping
// same-path changes strictly serial (§4.9, §5).
package sync

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"memento/internal/embedding"
	"memento/internal/eventbus"
	"memento/internal/history"
	"memento/internal/ingest"
	"memento/internal/logging"
	"memento/internal/model"
	"memento/internal/store"
)

// Options configures the Sync Coordinator. Zero values resolve to the
// spec's defaults (§6 Configuration).
type Options struct {
	DebounceWindow   time.Duration
	Workers          int
	RetryBase        time.Duration
	RetryCap         time.Duration
	RetryMaxAttempts int
	EmbedRatePerSec  float64
	EmbedBurst       int
	SessionID        string

	// MaterializeDirectories gates Directory entity construction and the
	// CONTAINS chain from workspace root to file (§4.1 invariant 7).
	MaterializeDirectories bool
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 100 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 30 * time.Second
	}
	if o.RetryMaxAttempts <= 0 {
		o.RetryMaxAttempts = 5
	}
	if o.EmbedRatePerSec <= 0 {
		o.EmbedRatePerSec = 20
	}
	if o.EmbedBurst <= 0 {
		o.EmbedBurst = 100
	}
	if o.SessionID == "" {
		o.SessionID = "default"
	}
	return o
}

// debounceEntry coalesces repeated changes to one path within the debounce
// window: last wins, with delete overriding modify (§4.9 step 1).
type debounceEntry struct {
	mu     sync.Mutex
	timer  *time.Timer
	latest model.FileChange
}

// Coordinator is the Sync Coordinator component (C9).
type Coordinator struct {
	opts Options

	entities      *store.EntityStore
	relationships *store.RelationshipStore
	vectors       *store.VectorStore
	historyMgr    *history.Manager
	cache         *ingest.Cache
	parser        *ingest.Parser
	incremental   *ingest.Incremental
	relate        *ingest.Relate
	embedder      embedding.EmbeddingEngine
	limiter       *rate.Limiter
	bus           *eventbus.Bus

	debounceMu sync.Mutex
	debounce   map[string]*debounceEntry

	queue chan model.FileChange

	pathLocks sync.Map // path -> *sync.Mutex

	gateMu sync.Mutex
	gate   chan struct{}

	conflictMu         sync.RWMutex
	conflictStrategies map[model.EntityKind]ConflictStrategy

	journal *journal

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
	changeSeq atomic.Uint64
}

// New wires a Coordinator over the already-open stores and pipeline
// collaborators and starts its worker pool. embedder may be nil to disable
// embedding (vectors are simply left stale).
func New(
	entities *store.EntityStore,
	relationships *store.RelationshipStore,
	vectors *store.VectorStore,
	historyMgr *history.Manager,
	cache *ingest.Cache,
	parser *ingest.Parser,
	incremental *ingest.Incremental,
	relate *ingest.Relate,
	embedder embedding.EmbeddingEngine,
	bus *eventbus.Bus,
	opts Options,
) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		opts:               opts,
		entities:           entities,
		relationships:      relationships,
		vectors:            vectors,
		historyMgr:         historyMgr,
		cache:              cache,
		parser:             parser,
		incremental:        incremental,
		relate:             relate,
		embedder:           embedder,
		limiter:            rate.NewLimiter(rate.Limit(opts.EmbedRatePerSec), opts.EmbedBurst),
		bus:                bus,
		debounce:           make(map[string]*debounceEntry),
		queue:              make(chan model.FileChange, 4096),
		gate:               closedGate(),
		conflictStrategies: make(map[model.EntityKind]ConflictStrategy),
		journal:            newJournal(),
		stopCh:             make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		c.wg.Add(1)
		go c.workerLoop()
	}
	logging.Sync("sync coordinator started with %d workers, debounce=%s", opts.Workers, opts.DebounceWindow)
	return c
}

// Stop signals every worker to drain its current task and exit, then waits
// for them. Pending debounce timers are not waited on; callers that need a
// clean shutdown should stop the upstream watcher first.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	c.bus.Publish(eventbus.Event{Type: eventbus.Shutdown, Timestamp: time.Now().UTC(), ShutdownReason: "coordinator stopped"})
}

// Enqueue accepts one FileChange from the watcher collaborator (§6 Inputs).
// It debounces by path: repeated changes to the same path within
// opts.DebounceWindow coalesce into a single dispatched change.
func (c *Coordinator) Enqueue(fc model.FileChange) {
	if fc.Detected.IsZero() {
		fc.Detected = time.Now().UTC()
	}

	c.debounceMu.Lock()
	entry, ok := c.debounce[fc.Path]
	if !ok {
		entry = &debounceEntry{}
		c.debounce[fc.Path] = entry
	}
	c.debounceMu.Unlock()

	entry.mu.Lock()
	entry.latest = coalesce(entry.latest, fc)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	path := fc.Path
	entry.timer = time.AfterFunc(c.opts.DebounceWindow, func() { c.flush(path) })
	entry.mu.Unlock()
}

// coalesce folds next onto prev per the spec's debounce rule: last wins,
// but a delete anywhere in the window overrides a modify (§4.9 step 1).
func coalesce(prev, next model.FileChange) model.FileChange {
	if prev.Path == "" {
		return next
	}
	if prev.Type == model.ChangeDelete || next.Type == model.ChangeDelete {
		merged := next
		merged.Type = model.ChangeDelete
		return merged
	}
	return next
}

func (c *Coordinator) flush(path string) {
	c.debounceMu.Lock()
	entry, ok := c.debounce[path]
	if ok {
		delete(c.debounce, path)
	}
	c.debounceMu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	final := entry.latest
	entry.mu.Unlock()

	select {
	case c.queue <- final:
	case <-c.stopCh:
	}
}

// closedGate returns an already-closed channel: reading from it never
// blocks, the "running" state of the pause/resume gate.
func closedGate() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Pause stops workers from picking up new queued changes; any change
// already being processed runs to completion, and the queue keeps
// accumulating (§4.9 pause/resume/rollback).
func (c *Coordinator) Pause() {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	select {
	case <-c.gate:
		c.gate = make(chan struct{})
		logging.Sync("sync coordinator paused")
	default:
	}
}

// Resume releases workers blocked by a prior Pause.
func (c *Coordinator) Resume() {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	select {
	case <-c.gate:
	default:
		close(c.gate)
		logging.Sync("sync coordinator resumed")
	}
}

func (c *Coordinator) currentGate() chan struct{} {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	return c.gate
}

func (c *Coordinator) workerLoop() {
	defer c.wg.Done()
	for {
		select {
		case fc, ok := <-c.queue:
			if !ok {
				return
			}
			select {
			case <-c.currentGate():
			case <-c.stopCh:
				return
			}
			c.handle(fc)
		case <-c.stopCh:
			return
		}
	}
}

// handle acquires the per-path serialization lock before processing, the
// core ordering guarantee: different paths run on different workers in
// parallel, same-path changes never overlap (§4.9 step 2, §5).
func (c *Coordinator) handle(fc model.FileChange) {
	lockIface, _ := c.pathLocks.LoadOrStore(fc.Path, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	c.processWithRetry(fc)
}

// processWithRetry retries transient store errors with exponential backoff
// (base 100ms, cap 30s, max 5 attempts by default); a parse error or any
// other non-transient failure is surfaced immediately as a syncError event
// and the change is dead-lettered (§4.9 failure policy, §7).
func (c *Coordinator) processWithRetry(fc model.FileChange) {
	backoff := c.opts.RetryBase
	for attempt := 1; ; attempt++ {
		err := c.process(fc)
		if err == nil {
			return
		}
		if !model.IsTransient(err) || attempt >= c.opts.RetryMaxAttempts {
			logging.SyncError("change %s %s dead-lettered after %d attempt(s): %v", fc.Type, fc.Path, attempt, err)
			c.bus.Publish(eventbus.Event{
				Type: eventbus.SyncStatus, Timestamp: time.Now().UTC(),
				SyncStatusMsg: "syncError: " + fc.Path + ": " + err.Error(),
			})
			return
		}
		logging.SyncWarn("transient error on %s (attempt %d/%d): %v", fc.Path, attempt, c.opts.RetryMaxAttempts, err)
		select {
		case <-time.After(backoff):
		case <-c.stopCh:
			return
		}
		backoff *= 2
		if backoff > c.opts.RetryCap {
			backoff = c.opts.RetryCap
		}
	}
}
