package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"memento/internal/config"
	"memento/internal/embedding"
	"memento/internal/eventbus"
	"memento/internal/facade"
	"memento/internal/history"
	"memento/internal/ingest"
	"memento/internal/logging"
	"memento/internal/store"
	"memento/internal/sync"
)

var (
	workspace  string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "memento",
	Short: "Memento turns a source tree into a live, queryable knowledge graph",
	Long: `Memento watches a workspace, parses source incrementally, and keeps an
entity/relationship graph, a vector index, and a version history in sync
with the filesystem.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := workspace
		if ws == "" {
			var err error
			ws, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		abs, err := filepath.Abs(ws)
		if err != nil {
			return err
		}
		workspace = abs
		return logging.Initialize(workspace)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: <workspace>/.memento/config.yaml)")

	rootCmd.AddCommand(watchCmd, statsCmd, checkpointCmd, rollbackCmd)
}

// loadConfig resolves configPath against workspace and loads it, falling
// back to defaults if it doesn't exist (config.Load's own behavior).
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(workspace, ".memento", "config.yaml")
	}
	return config.Load(path)
}

// pipeline bundles every collaborator the Sync Coordinator needs, wired over
// a single SQLite database under <workspace>/.memento/memento.db.
type pipeline struct {
	db            *store.DB
	entities      *store.EntityStore
	relationships *store.RelationshipStore
	vectors       *store.VectorStore
	versions      *store.VersionStore
	checkpoints   *store.CheckpointStore
	historyMgr    *history.Manager
	cache         *ingest.Cache
	parser        *ingest.Parser
	incremental   *ingest.Incremental
	relate        *ingest.Relate
	bus           *eventbus.Bus
	cfg           *config.Config
	reads         *facade.Facade
}

func openPipeline() (*pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(workspace, ".memento", "memento.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	entities := store.NewEntityStore(db)
	relationships := store.NewRelationshipStore(db)
	vectors, err := store.NewVectorStore(db, cfg.VectorDimension)
	if err != nil {
		db.Close()
		return nil, err
	}
	versions := store.NewVersionStore(db)
	checkpoints := store.NewCheckpointStore(db)
	historyMgr := history.New(entities, relationships, versions, checkpoints)

	cache := ingest.NewCache(workspace)
	parser := ingest.NewParser()
	incremental := ingest.NewIncremental(parser, cache, ingest.IncrementalOptions{})
	relate := ingest.NewRelate(cache).WithOptions(ingest.RelateOptions{
		ReExportMaxDepth:         cfg.ReExportMaxDepth,
		TypeCheckerBudgetPerFile: cfg.TypeCheckerBudgetPerFile,
	})

	bus := eventbus.New()
	reads := facade.New(entities, relationships, vectors, historyMgr)

	return &pipeline{
		db: db, entities: entities, relationships: relationships, vectors: vectors,
		versions: versions, checkpoints: checkpoints, historyMgr: historyMgr,
		cache: cache, parser: parser, incremental: incremental, relate: relate,
		bus: bus, cfg: cfg, reads: reads,
	}, nil
}

func (p *pipeline) Close() { p.db.Close() }

// newEmbedder builds the configured embedding engine. A failure to
// construct it (an unsupported provider) is not fatal: it returns nil and
// the coordinator simply leaves vectors stale, per New's documented
// nil-embedder behavior. The Ollama server is not contacted here.
func (p *pipeline) newEmbedder() embedding.EmbeddingEngine {
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       p.cfg.Embedding.Provider,
		OllamaEndpoint: p.cfg.Embedding.OllamaEndpoint,
		OllamaModel:    p.cfg.Embedding.OllamaModel,
	})
	if err != nil {
		logging.BootError("embedding engine unavailable, vectors will be left stale: %v", err)
		return nil
	}
	return engine
}

func (p *pipeline) coordinatorOptions() sync.Options {
	return sync.Options{
		DebounceWindow:   time.Duration(p.cfg.DebounceMs) * time.Millisecond,
		Workers:          p.cfg.Workers,
		RetryBase:        p.cfg.RetryBase(),
		RetryCap:         p.cfg.RetryCap(),
		RetryMaxAttempts: p.cfg.RetryMaxAttempts,
		EmbedRatePerSec:  float64(p.cfg.EmbedRatePerSec),
		EmbedBurst:       p.cfg.EmbedBurst,

		MaterializeDirectories: p.cfg.MaterializeDirectories,
	}
}
