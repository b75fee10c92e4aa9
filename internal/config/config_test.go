package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.QueryTimeoutSeconds != 5.0 {
		t.Errorf("query_timeout_seconds = %v, want 5", cfg.QueryTimeoutSeconds)
	}
	if cfg.QueryMaxRows != 5000 {
		t.Errorf("query_max_rows = %d, want 5000", cfg.QueryMaxRows)
	}
	if cfg.QueryMaxPerRequest != 10 {
		t.Errorf("query_max_per_request = %d, want 10", cfg.QueryMaxPerRequest)
	}
	if cfg.AskCacheTTLSeconds != 600 {
		t.Errorf("ask_cache_ttl_seconds = %d, want 600", cfg.AskCacheTTLSeconds)
	}
	if cfg.LLMEstimatedCompletionTokens != 600 {
		t.Errorf("llm_estimated_completion_tokens = %d, want 600", cfg.LLMEstimatedCompletionTokens)
	}
	if cfg.RAGTopK != 5 {
		t.Errorf("rag_top_k = %d, want 5", cfg.RAGTopK)
	}
	if !cfg.LLMEnabled {
		t.Error("llm should be enabled by default")
	}
	if cfg.LLMProvider != "mock" {
		t.Errorf("llm_provider = %q, want mock", cfg.LLMProvider)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DATAGHOST_QUERY_MAX_ROWS", "123")
	t.Setenv("DATAGHOST_LLM_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueryMaxRows != 123 {
		t.Errorf("query_max_rows = %d, want env override 123", cfg.QueryMaxRows)
	}
	if cfg.LLMEnabled {
		t.Error("llm_enabled env override ignored")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "listen_addr = \"127.0.0.1:9999\"\nquery_max_per_request = 3\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.QueryMaxPerRequest != 3 {
		t.Errorf("query_max_per_request = %d, want 3", cfg.QueryMaxPerRequest)
	}
	// Untouched keys keep their defaults.
	if cfg.QueryMaxRows != 5000 {
		t.Errorf("query_max_rows = %d, want default 5000", cfg.QueryMaxRows)
	}
}
