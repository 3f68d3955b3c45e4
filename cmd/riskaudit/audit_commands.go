package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"riskaudit/internal/engine"
	"riskaudit/internal/ledger"
	"riskaudit/internal/services"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Define and inspect comparison audits",
	}
	auditCmd.AddCommand(newAuditDefineCommand(ctx))
	auditCmd.AddCommand(newAuditStatusCommand(ctx))
	auditCmd.AddCommand(newAuditHandCountCommand(ctx))
	auditCmd.AddCommand(newAuditResetCommand(ctx))
	return auditCmd
}

func newAuditDefineCommand(ctx *commandContext) *cobra.Command {
	var (
		reason        string
		opportunistic bool
		riskLimit     float64
	)
	cmd := &cobra.Command{
		Use:   "define <contest>",
		Short: "Create the comparison audit for a contest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := ledger.ParseReason(strings.ToUpper(strings.TrimSpace(reason)))
			if err != nil {
				return err
			}
			if opportunistic {
				parsed = ledger.ReasonOpportunistic
			}
			return ctx.withEngine(cmd, func(s *session) error {
				audit, err := s.engine.DefineAudit(services.WithContest(s.ctx, args[0]), engine.AuditRequest{
					Contest:   args[0],
					Reason:    parsed,
					Targeted:  !opportunistic,
					RiskLimit: riskLimit,
				})
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, audit)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Defined audit for %s: winners %s, diluted margin %.4f, %s ballots, %d optimistic samples\n",
					audit.Contest.Name,
					strings.Join(audit.Result.Winners, ", "),
					audit.DilutedMargin(),
					humanize.Comma(int64(audit.Result.BallotCount)),
					audit.OptimisticSamplesToAudit(),
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", string(ledger.ReasonCountyWide), "Audit reason (e.g. STATE_WIDE_CONTEST, CLOSE_CONTEST)")
	cmd.Flags().BoolVar(&opportunistic, "opportunistic", false, "Audit opportunistically instead of targeting the contest")
	cmd.Flags().Float64Var(&riskLimit, "risk-limit", 0, "Override the configured risk limit")
	return cmd
}

func newAuditStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state-wide audit dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				status, err := s.engine.StateStatus(s.ctx)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				updated := "never"
				if !status.UpdatedAt.IsZero() {
					updated = humanize.Time(status.UpdatedAt)
				}
				printFields(out, [][2]string{{"State", string(status.State)}, {"Updated", updated}})

				rows := make([][]string, 0, len(status.Counties))
				for _, c := range status.Counties {
					rows = append(rows, []string{
						strconv.FormatInt(c.ID, 10), c.Name, string(c.State),
						humanize.Comma(int64(c.CVRsImported)),
						humanize.Comma(int64(c.BallotsInManifest)),
						humanize.Comma(int64(c.BallotsAudited)),
					})
				}
				fmt.Fprintln(out)
				printTable(out, "Counties", []string{"ID", "County", "State", "CVRs", "Manifest", "Audited"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight})
				fmt.Fprintln(out)
				renderAudits(out, status.Audits)
				return nil
			})
		},
	}
}

func renderAudits(out io.Writer, audits []engine.AuditStatus) {
	rows := make([][]string, 0, len(audits))
	for _, a := range audits {
		rows = append(rows, []string{
			a.Contest,
			string(a.Status),
			a.RiskMeasurement.String(),
			a.RiskLimit.String(),
			yesNo(a.RiskLimitMet),
			strconv.Itoa(a.AuditedSamples),
			strconv.Itoa(a.OptimisticSamples),
			fmt.Sprintf("%d/%d/%d/%d", a.Counts.TwoOver, a.Counts.OneOver, a.Counts.OneUnder, a.Counts.TwoUnder),
			countyList(a.Counties),
		})
	}
	printTable(out, "Audits",
		[]string{"Contest", "Status", "Risk", "Limit", "Met", "Audited", "Optimistic", "+2/+1/-1/-2", "Counties"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignRight},
	)
}

func newAuditHandCountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "handcount <contest>",
		Short: "Escalate a contest to a full hand count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				audit, err := s.engine.IndicateHandCount(services.WithContest(s.ctx, args[0]), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Contest %s marked for hand count (status %s)\n", audit.Contest.Name, audit.Status)
				return nil
			})
		},
	}
}

func newAuditResetCommand(ctx *commandContext) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard every audit, round and ACVR while keeping uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("audit reset discards all audit progress; pass --yes to confirm")
			}
			return ctx.withEngine(cmd, func(s *session) error {
				if err := s.engine.ResetAudit(s.ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Audit data reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the reset")
	return cmd
}
