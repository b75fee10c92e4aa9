package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
)

var (
	flagInitForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the dataghost data directory",
	Long: `Create the data directory, the SQLite database, and a commented
default config.toml. Existing files are left alone unless --force is given.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&flagInitForce, "force", "f", false, "rewrite config.toml even if it exists")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	database.Close()

	configPath := filepath.Join(cfg.DataDir, "config.toml")
	if err := writeDefaultConfig(configPath, flagInitForce); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}

	fmt.Printf("Initialized dataghost in %s\n", cfg.DataDir)
	fmt.Println()
	fmt.Println("Created:")
	fmt.Printf("  %s   - SQLite database\n", cfg.DBPath)
	fmt.Printf("  %s - Configuration file\n", configPath)
	return nil
}

// defaultConfigFile is serialized to config.toml by init.
type defaultConfigFile struct {
	ListenAddr string `toml:"listen_addr"`

	LLMProvider       string `toml:"llm_provider"`
	LLMEnabled        bool   `toml:"llm_enabled"`
	LLMDefaultModel   string `toml:"llm_default_model"`
	LLMCheapModel     string `toml:"llm_cheap_model"`
	LLMExpensiveModel string `toml:"llm_expensive_model"`

	LLMMaxUSDPerRequest float64 `toml:"llm_max_usd_per_request"`
	LLMMaxUSDPerDay     float64 `toml:"llm_max_usd_per_day"`

	QueryTimeoutSeconds float64 `toml:"query_timeout_seconds"`
	QueryMaxRows        int     `toml:"query_max_rows"`
	QueryMaxPerRequest  int     `toml:"query_max_per_request"`

	AskCacheTTLSeconds    int `toml:"ask_cache_ttl_seconds"`
	AskRateLimitPerMinute int `toml:"ask_rate_limit_per_minute"`
	AskRateLimitPerHour   int `toml:"ask_rate_limit_per_hour"`
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return nil
	}

	defaults := config.Default()
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := fmt.Fprintln(file, "# dataghost configuration. Environment variables with a DATAGHOST_ prefix override these values."); err != nil {
		return err
	}
	return toml.NewEncoder(file).Encode(defaultConfigFile{
		ListenAddr:            defaults.ListenAddr,
		LLMProvider:           defaults.LLMProvider,
		LLMEnabled:            defaults.LLMEnabled,
		LLMDefaultModel:       defaults.LLMDefaultModel,
		LLMCheapModel:         defaults.LLMCheapModel,
		LLMExpensiveModel:     defaults.LLMExpensiveModel,
		LLMMaxUSDPerRequest:   defaults.LLMMaxUSDPerRequest,
		LLMMaxUSDPerDay:       defaults.LLMMaxUSDPerDay,
		QueryTimeoutSeconds:   defaults.QueryTimeoutSeconds,
		QueryMaxRows:          defaults.QueryMaxRows,
		QueryMaxPerRequest:    defaults.QueryMaxPerRequest,
		AskCacheTTLSeconds:    defaults.AskCacheTTLSeconds,
		AskRateLimitPerMinute: defaults.AskRateLimitPerMinute,
		AskRateLimitPerHour:   defaults.AskRateLimitPerHour,
	})
}
