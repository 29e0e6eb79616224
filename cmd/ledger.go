package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sponsorn/mythic-tournament/internal/adapters/repository"
	"github.com/Sponsorn/mythic-tournament/internal/app/collector"
	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
)

func (c *cli) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query and export the run ledger",
	}
	cmd.AddCommand(c.ledgerBestCmd(), c.ledgerStatsCmd(), c.ledgerExportCmd())
	return cmd
}

func (c *cli) loadRuns(cmd *cobra.Command) ([]model.RunRecord, error) {
	store, err := c.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Runs(cmd.Context())
}

func (c *cli) ledgerBestCmd() *cobra.Command {
	var dungeon string
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Best timed runs per dungeon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := c.loadRuns(cmd)
			if err != nil {
				return err
			}
			best := repository.BestRunsPerDungeon(runs, dungeon)
			if len(best) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no timed runs")
				return nil
			}
			names := make([]string, 0, len(best))
			for name := range best {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				color.New(color.Bold).Fprintln(out, name)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for i, r := range best[name] {
					fmt.Fprintf(tw, "  %d.\t%s\t+%d\t%s\t%d deaths\n", i+1, r.Team, r.Level, collector.FormatTimer(r.DurationMS), r.Deaths)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dungeon, "dungeon", "", "only this dungeon")
	return cmd
}

func (c *cli) ledgerStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Per-team highest key, deaths and dungeon count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := c.loadRuns(cmd)
			if err != nil {
				return err
			}
			stats := repository.TeamStats(runs)
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			teams := make([]string, 0, len(stats))
			for t := range stats {
				teams = append(teams, t)
			}
			sort.Strings(teams)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TEAM\tHIGHEST\tDEATHS\tDUNGEONS")
			for _, t := range teams {
				s := stats[t]
				fmt.Fprintf(tw, "%s\t+%d\t%d\t%d\n", t, s.HighestKey, s.TotalDeaths, s.UniqueDungeons)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) ledgerExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger to an xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				out = fmt.Sprintf("ledger-%s.xlsx", time.Now().Format("20060102-150405"))
			}
			runs, err := c.loadRuns(cmd)
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := repository.ExportLedgerXLSX(f, runs); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d runs to %s\n", len(runs), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file")
	return cmd
}
