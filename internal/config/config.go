// Package config loads dataghost settings from defaults, an optional
// config.toml, and DATAGHOST_* environment variables, in that order of
// precedence (later wins). The resulting Config is built once at startup and
// passed explicitly to collaborators.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	AppName    string `mapstructure:"app_name"`
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`
	DBPath     string `mapstructure:"db_path"`

	LLMProvider       string `mapstructure:"llm_provider"`
	LLMDefaultModel   string `mapstructure:"llm_default_model"`
	LLMCheapModel     string `mapstructure:"llm_cheap_model"`
	LLMExpensiveModel string `mapstructure:"llm_expensive_model"`
	LLMEnabled        bool   `mapstructure:"llm_enabled"`

	LLMMaxUSDPerRequest          float64 `mapstructure:"llm_max_usd_per_request"`
	LLMMaxUSDPerDay              float64 `mapstructure:"llm_max_usd_per_day"`
	LLMEstimatedCompletionTokens int     `mapstructure:"llm_estimated_completion_tokens"`
	LLMPricePromptPer1K          float64 `mapstructure:"llm_price_prompt_per_1k"`
	LLMPriceCompletionPer1K      float64 `mapstructure:"llm_price_completion_per_1k"`

	QueryTimeoutSeconds float64 `mapstructure:"query_timeout_seconds"`
	QueryMaxRows        int     `mapstructure:"query_max_rows"`
	QueryMaxPerRequest  int     `mapstructure:"query_max_per_request"`

	RAGChunkSize    int `mapstructure:"rag_chunk_size"`
	RAGChunkOverlap int `mapstructure:"rag_chunk_overlap"`
	RAGTopK         int `mapstructure:"rag_top_k"`

	AskCacheTTLSeconds    int `mapstructure:"ask_cache_ttl_seconds"`
	AskRateLimitPerMinute int `mapstructure:"ask_rate_limit_per_minute"`
	AskRateLimitPerHour   int `mapstructure:"ask_rate_limit_per_hour"`

	DatasetMaxUploadMB int `mapstructure:"dataset_max_upload_mb"`
	DatasetMaxRows     int `mapstructure:"dataset_max_rows"`
	DatasetMaxColumns  int `mapstructure:"dataset_max_columns"`
	ContextMaxUploadMB int `mapstructure:"context_max_upload_mb"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "dataghost")
	v.SetDefault("listen_addr", "127.0.0.1:8000")
	v.SetDefault("data_dir", "data")
	v.SetDefault("db_path", filepath.Join("data", "dataghost.db"))

	v.SetDefault("llm_provider", "mock")
	v.SetDefault("llm_default_model", "mock-default")
	v.SetDefault("llm_cheap_model", "mock-cheap")
	v.SetDefault("llm_expensive_model", "mock-expensive")
	v.SetDefault("llm_enabled", true)

	v.SetDefault("llm_max_usd_per_request", 0.03)
	v.SetDefault("llm_max_usd_per_day", 2.0)
	v.SetDefault("llm_estimated_completion_tokens", 600)
	v.SetDefault("llm_price_prompt_per_1k", 0.001)
	v.SetDefault("llm_price_completion_per_1k", 0.002)

	v.SetDefault("query_timeout_seconds", 5.0)
	v.SetDefault("query_max_rows", 5000)
	v.SetDefault("query_max_per_request", 10)

	v.SetDefault("rag_chunk_size", 800)
	v.SetDefault("rag_chunk_overlap", 100)
	v.SetDefault("rag_top_k", 5)

	v.SetDefault("ask_cache_ttl_seconds", 600)
	v.SetDefault("ask_rate_limit_per_minute", 30)
	v.SetDefault("ask_rate_limit_per_hour", 300)

	v.SetDefault("dataset_max_upload_mb", 10)
	v.SetDefault("dataset_max_rows", 10000)
	v.SetDefault("dataset_max_columns", 150)
	v.SetDefault("context_max_upload_mb", 10)
}

// Load builds a Config. When configPath is empty, data_dir/config.toml is
// used if it exists; a missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DATAGHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		candidate := filepath.Join(v.GetString("data_dir"), "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration with no file or environment
// overrides applied. Test helpers start from this and adjust fields directly.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}
