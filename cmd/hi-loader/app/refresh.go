package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/codefordc/housing-insights-loader/internal/app"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
)

// errTablesFailed makes the process exit non-zero when a table fell back to backup data
var errTablesFailed = errors.New("one or more tables failed to load")

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh [table...]",
		Short: "Refresh tables once and exit",
		Long: `Refresh the named tables in order, or the daily tables when none are named.
The command waits for a run already in progress unless --no-wait is set.

Examples:
  # Refresh the daily tables and mail the report
  hi-loader refresh --config config.yaml --notify

  # Rebuild zone facts only
  hi-loader refresh zone_facts --config config.yaml`,
		RunE: runRefresh,
	}

	cmd.Flags().Bool("notify", false, "Send the report through the configured notifier")
	cmd.Flags().Bool("no-wait", false, "Fail instead of waiting when another run is in progress")
	return cmd
}

func runRefresh(cmd *cobra.Command, args []string) error {
	notify, err := cmd.Flags().GetBool("notify")
	if err != nil {
		return fmt.Errorf("failed to get notify flag: %w", err)
	}
	noWait, err := cmd.Flags().GetBool("no-wait")
	if err != nil {
		return fmt.Errorf("failed to get no-wait flag: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	opts := append([]app.LoaderAppOptions{app.WithConfig(cfg)}, telemetryOptions(tel)...)
	components, err := app.NewRefreshComponents(ctx, opts...)
	if err != nil {
		return err
	}
	defer components.Close()

	tables := args
	if len(tables) == 0 {
		tables = cfg.Schedule.Tables
	}
	if len(tables) == 0 {
		tables = refresh.DailyTables
	}

	orch := components.Orchestrator
	run := orch.Run
	if noWait {
		run = orch.TryRun
	}

	slog.Info("Starting one-shot refresh", "tables", tables)
	results, err := run(ctx, refresh.OriginCLI, tables)
	printResults(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}

	if notify {
		if err := components.Notifier.Send(ctx, orch.Registry().Report(results)); err != nil {
			slog.Error("Failed to send refresh report", "error", err)
		}
	}

	for _, result := range results {
		if !result.Succeeded {
			return errTablesFailed
		}
	}
	return nil
}

// printResults renders one row per attempted table
func printResults(w io.Writer, results []refresh.LoadResult) {
	if len(results) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Table", "Result", "Duration", "Detail"})
	table.SetAutoWrapText(false)

	for _, result := range results {
		table.Append(resultColumns(result))
	}
	table.Render()
}

func resultColumns(result refresh.LoadResult) []string {
	outcome := "ok"
	switch {
	case !result.Succeeded:
		outcome = "failed (backup)"
	case result.Stale():
		outcome = "stale: " + strings.Join(result.StaleDependencies, ",")
	}
	return []string{
		result.Table,
		outcome,
		result.Duration.Round(time.Millisecond).String(),
		result.Detail,
	}
}
