package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/codefordc/housing-insights-loader/internal/backup"
	"github.com/codefordc/housing-insights-loader/internal/httpclient"
	"github.com/codefordc/housing-insights-loader/internal/loader"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
)

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the refreshable tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			registry, err := loader.NewRegistry(cfg.Tables, httpclient.NewDefaultClient(httpclient.DefaultTimeout),
				backup.NopStore{}, nil)
			if err != nil {
				return fmt.Errorf("failed to build loader registry: %w", err)
			}

			daily := cfg.Schedule.Tables
			if len(daily) == 0 {
				daily = refresh.DailyTables
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Table", "Source", "Depends On", "Daily"})
			for _, name := range registry.Tables() {
				entry, _ := registry.Entry(name)
				source := "-"
				if tc, ok := cfg.Table(name); ok {
					source = tc.Source
				}
				table.Append([]string{
					name,
					source,
					strings.Join(entry.DependsOn, ","),
					yesNo(slices.Contains(daily, name)),
				})
			}
			table.Render()
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
