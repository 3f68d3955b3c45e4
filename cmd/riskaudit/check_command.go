package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"riskaudit/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, locks and the audit database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				results := preflight.RunAll(s.ctx, s.cfg, s.store)
				if ctx.wantJSON() {
					if err := writeJSON(cmd, results); err != nil {
						return err
					}
				} else {
					rows := make([][]string, 0, len(results))
					for _, r := range results {
						status := "ok"
						if !r.Passed {
							status = "FAIL"
						}
						rows = append(rows, []string{r.Name, status, r.Detail})
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
				}
				if preflight.Failed(results) {
					return errors.New("preflight checks failed")
				}
				return nil
			})
		},
	}
}
