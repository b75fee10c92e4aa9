package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/llm"
	"github.com/clash402/dataghost/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dataghost HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.AppName)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	provider, err := llm.ProviderFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("building model provider: %w", err)
	}
	logger.Info("starting",
		"db", cfg.DBPath,
		"provider", provider.Name(),
		"llm_enabled", cfg.LLMEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, database, provider, logger)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
