package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Workers != 0 {
		t.Errorf("expected Workers=0 (NumCPU), got %d", cfg.Workers)
	}
	if cfg.EmbedRatePerSec != 20 || cfg.EmbedBurst != 100 {
		t.Errorf("expected EmbedRatePerSec=20 EmbedBurst=100, got %d/%d", cfg.EmbedRatePerSec, cfg.EmbedBurst)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DebounceMs != 500 {
		t.Errorf("expected default DebounceMs=500, got %d", cfg.DebounceMs)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.HistoryRetentionDays = 30

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Workers != 4 {
		t.Errorf("expected Workers=4, got %d", loaded.Workers)
	}
	if loaded.HistoryRetentionDays != 30 {
		t.Errorf("expected HistoryRetentionDays=30, got %d", loaded.HistoryRetentionDays)
	}
}

func TestValidate_RejectsZeroEmbedRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbedRatePerSec = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for EmbedRatePerSec=0")
	}
}

func TestValidate_RejectsUnsupportedEmbeddingProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Provider = "genai"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported embedding provider")
	}
}

func TestApplyEnvOverrides_WorkspaceAndOllama(t *testing.T) {
	t.Setenv("MEMENTO_WORKSPACE", "/tmp/ws")
	t.Setenv("OLLAMA_ENDPOINT", "http://example:11434")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Workspace != "/tmp/ws" {
		t.Errorf("expected Workspace=/tmp/ws, got %s", cfg.Workspace)
	}
	if cfg.Embedding.OllamaEndpoint != "http://example:11434" {
		t.Errorf("expected overridden Ollama endpoint, got %s", cfg.Embedding.OllamaEndpoint)
	}
}
