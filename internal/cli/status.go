package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active dataset, context store, and spend summary",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	fmt.Println(headingStyle.Render("dataghost status"))
	fmt.Println()

	meta, err := database.GetDatasetMeta()
	if err != nil {
		return err
	}
	if meta == nil {
		fmt.Println(warnStyle.Render("No dataset uploaded."))
	} else {
		printField("Dataset", meta.Name)
		printField("Table", meta.TableName)
		printField("Rows", fmt.Sprintf("%d", meta.Rows))
		printField("Columns", strings.Join(meta.Columns, ", "))
		printField("Created", meta.CreatedAt.Format(time.RFC3339))
	}
	fmt.Println()

	docs, err := database.CountDocs()
	if err != nil {
		return err
	}
	printField("Context docs", fmt.Sprintf("%d", docs))

	requests, err := database.CountRequestLogs()
	if err != nil {
		return err
	}
	printField("Logged requests", fmt.Sprintf("%d", requests))

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	spend, err := database.GlobalSpendUSDSince(dayStart)
	if err != nil {
		return err
	}
	printField("Spend today", fmt.Sprintf("$%.4f of $%.4f", spend, cfg.LLMMaxUSDPerDay))
	return nil
}

func printField(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", label+":")), valueStyle.Render(value))
}
