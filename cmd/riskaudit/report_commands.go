package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"riskaudit/internal/report"
	"riskaudit/internal/services"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render audit reports",
	}
	reportCmd.AddCommand(newReportSubcommand(ctx, "summary", "One row per comparison audit", cobra.NoArgs,
		func(c context.Context, src report.Source, _ []string) (report.Table, error) {
			return report.SummaryRows(c, src)
		}))
	reportCmd.AddCommand(newReportSubcommand(ctx, "results <contest>", "Drawn ballots and their current ACVRs", cobra.ExactArgs(1),
		func(c context.Context, src report.Source, args []string) (report.Table, error) {
			return report.ResultsRows(services.WithContest(c, args[0]), src, args[0])
		}))
	reportCmd.AddCommand(newReportSubcommand(ctx, "activity <contest>", "Every audit record entered for a contest", cobra.ExactArgs(1),
		func(c context.Context, src report.Source, args []string) (report.Table, error) {
			return report.ActivityRows(services.WithContest(c, args[0]), src, args[0])
		}))
	return reportCmd
}

type reportBuilder func(ctx context.Context, src report.Source, args []string) (report.Table, error)

func newReportSubcommand(ctx *commandContext, use, short string, args cobra.PositionalArgs, build reportBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				table, err := build(s.ctx, s.store, args)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, table)
				}
				out := cmd.OutOrStdout()
				printTable(out, table.Title, table.Header, table.Rows, nil)
				fmt.Fprintf(out, "%d rows\n", len(table.Rows))
				return nil
			})
		},
	}
}
