// Package cli implements the dataghost command line interface.
package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
)

var rootCmd = &cobra.Command{
	Use:   "dataghost",
	Short: "Analytical question answering over an uploaded CSV dataset",
	Long: `dataghost answers free-form analytical questions about an uploaded
tabular dataset by planning safe read-only SQL, executing it under strict
bounds, and synthesizing a grounded narrative with drivers, charts, and
SQL citations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config.toml (default: <data_dir>/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func newLogger(prefix string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	})
	return logger
}
