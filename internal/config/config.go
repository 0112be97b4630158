// Package config loads Memento's workspace configuration: the debounce
// window, worker pool size, retry policy, embedding rate limit, and history
// retention that the Sync Coordinator, History Manager, and Vector Store
// read at startup (§10.2).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"memento/internal/logging"
)

// Config holds Memento's runtime configuration.
type Config struct {
	Workspace string `yaml:"workspace"`

	DebounceMs int `yaml:"debounceMs"`
	Workers    int `yaml:"workers"` // 0 = runtime.NumCPU()

	RetryBaseMs      int `yaml:"retryBaseMs"`
	RetryCapMs       int `yaml:"retryCapMs"`
	RetryMaxAttempts int `yaml:"retryMaxAttempts"`

	EmbedRatePerSec int `yaml:"embedRatePerSec"`
	EmbedBurst      int `yaml:"embedBurst"`
	VectorDimension int `yaml:"vectorDimension"` // 0 = infer from first Upsert

	HistoryRetentionDays int `yaml:"historyRetentionDays"`
	CheckpointHops       int `yaml:"checkpointHops"`

	// TypeCheckerBudgetPerFile caps how many type-checker-backed reference
	// resolutions (§4.4 resolution step 4) the Relationship Builder spends
	// per file, bounding the cost of its directory-scoped fallback lookup.
	TypeCheckerBudgetPerFile int `yaml:"typeCheckerBudgetPerFile"`
	// ReExportMaxDepth bounds how many re-export hops ResolveExport follows
	// before giving up (§4.4 resolution step 3).
	ReExportMaxDepth int `yaml:"reExportMaxDepth"`
	// MaterializeDirectories gates Directory entity construction and the
	// CONTAINS chain from workspace root to file (§4.1, invariant 7). Off by
	// default since most workspaces care about file/symbol structure, not
	// the directory tree itself.
	MaterializeDirectories bool `yaml:"materializeDirectories"`

	IgnoreGlobs []string `yaml:"ignoreGlobs"`

	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig mirrors embedding.Config's YAML surface so it can be
// loaded from the same workspace config file instead of constructed by
// hand at every call site.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	OllamaEndpoint string `yaml:"ollamaEndpoint"`
	OllamaModel    string `yaml:"ollamaModel"`
}

// DefaultConfig returns the defaults documented in SPEC_FULL.md §10.2.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",

		DebounceMs: 500,
		Workers:    0,

		RetryBaseMs:      100,
		RetryCapMs:       30000,
		RetryMaxAttempts: 5,

		EmbedRatePerSec: 20,
		EmbedBurst:      100,
		VectorDimension: 0,

		HistoryRetentionDays: 90,
		CheckpointHops:       2,

		TypeCheckerBudgetPerFile: 200,
		ReExportMaxDepth:         5,
		MaterializeDirectories:   false,

		IgnoreGlobs: []string{".git/**", "node_modules/**", ".memento/**"},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
		},
	}
}

// Load reads path as YAML over top of DefaultConfig, then applies
// environment overrides. A missing file is not an error: callers get
// defaults, matching the teacher's load-then-validate-then-default idiom.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Boot("config loaded: workspace=%s workers=%d embedRatePerSec=%d", cfg.Workspace, cfg.Workers, cfg.EmbedRatePerSec)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides lets operators override the embedding backend and
// workspace path without editing the YAML file, matching the teacher's
// env-override pattern for its own LLM/database settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEMENTO_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_EMBEDDING_MODEL"); v != "" {
		c.Embedding.OllamaModel = v
	}
	if v := os.Getenv("MEMENTO_EMBED_RATE_PER_SEC"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.EmbedRatePerSec = n
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive: %s", s)
	}
	return n, nil
}

// Validate rejects configurations the rest of the system can't act on.
func (c *Config) Validate() error {
	if c.DebounceMs < 0 {
		return fmt.Errorf("debounceMs must be >= 0, got %d", c.DebounceMs)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retryMaxAttempts must be >= 1, got %d", c.RetryMaxAttempts)
	}
	if c.EmbedRatePerSec <= 0 {
		return fmt.Errorf("embedRatePerSec must be > 0, got %d", c.EmbedRatePerSec)
	}
	if c.HistoryRetentionDays < 0 {
		return fmt.Errorf("historyRetentionDays must be >= 0, got %d", c.HistoryRetentionDays)
	}
	if c.TypeCheckerBudgetPerFile < 0 {
		return fmt.Errorf("typeCheckerBudgetPerFile must be >= 0, got %d", c.TypeCheckerBudgetPerFile)
	}
	if c.ReExportMaxDepth < 0 {
		return fmt.Errorf("reExportMaxDepth must be >= 0, got %d", c.ReExportMaxDepth)
	}
	switch c.Embedding.Provider {
	case "ollama":
	default:
		return fmt.Errorf("unsupported embedding provider: %s (use 'ollama')", c.Embedding.Provider)
	}
	return nil
}

// RetryBase returns RetryBaseMs as a Duration, for the Sync Coordinator's
// exponential backoff (§4.9).
func (c *Config) RetryBase() time.Duration { return time.Duration(c.RetryBaseMs) * time.Millisecond }

// RetryCap returns RetryCapMs as a Duration.
func (c *Config) RetryCap() time.Duration { return time.Duration(c.RetryCapMs) * time.Millisecond }

// DebounceWindow returns DebounceMs as a Duration.
func (c *Config) DebounceWindow() time.Duration { return time.Duration(c.DebounceMs) * time.Millisecond }

// HistoryRetention returns HistoryRetentionDays as a Duration.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}
