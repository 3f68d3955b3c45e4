package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"riskaudit/internal/services"
)

func newRoundCommand(ctx *commandContext) *cobra.Command {
	roundCmd := &cobra.Command{
		Use:   "round",
		Short: "Start and sign off audit rounds",
	}
	roundCmd.AddCommand(newRoundStartCommand(ctx))
	roundCmd.AddCommand(newRoundSignOffCommand(ctx))
	return roundCmd
}

func newRoundStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <county> <tributes-file>",
		Short: "Open the county's next round from drawn tributes (JSON lines)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				county, err := s.engine.LookupCounty(s.ctx, args[0])
				if err != nil {
					return err
				}
				file, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("open tributes: %w", err)
				}
				defer file.Close()
				tributes, err := readTributes(file, county.ID)
				if err != nil {
					return err
				}

				start, err := s.engine.StartRound(services.WithCountyID(s.ctx, county.ID), county.ID, tributes)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, start)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Started round %d for %s: %d tributes, %d ballots to examine, %d phantoms, %d already audited\n",
					start.Round.Number, county.Name, len(start.Drawn), start.Ballots, start.Phantoms, start.AlreadyAudited)
				contests := make([]string, 0, len(start.Expected))
				for name := range start.Expected {
					contests = append(contests, name)
				}
				slices.Sort(contests)
				for _, name := range contests {
					fmt.Fprintf(out, "  %s: %d samples expected\n", name, start.Expected[name])
				}
				rows := make([][]string, 0, len(start.Drawn))
				for _, d := range start.Drawn {
					rows = append(rows, []string{
						strconv.Itoa(d.Tribute.RandSequencePosition),
						d.Tribute.ImprintedID(),
						strconv.FormatInt(d.CVRID, 10),
						d.Tribute.ContestName,
					})
				}
				printTable(out, "", []string{"Seq", "Imprinted ID", "CVR", "Contest"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight})
				return nil
			})
		},
	}
}

func newRoundSignOffCommand(ctx *commandContext) *cobra.Command {
	var (
		board   int
		members []string
	)
	cmd := &cobra.Command{
		Use:   "signoff <county>",
		Short: "Record an audit board's sign-off of the current round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if board < 1 {
				return fmt.Errorf("--board must be 1 or greater")
			}
			return ctx.withEngine(cmd, func(s *session) error {
				county, err := s.engine.LookupCounty(s.ctx, args[0])
				if err != nil {
					return err
				}
				result, err := s.engine.SignOffRound(services.WithCountyID(s.ctx, county.ID), county.ID, board-1, members)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				if !result.Closed {
					fmt.Fprintf(out, "Board %d signed round %d; waiting for %d of %d boards\n",
						board, result.Round.Number, county.AuditBoards-len(result.Round.Signatories), county.AuditBoards)
					return nil
				}
				fmt.Fprintf(out, "Round %d closed (%s): county %s, state %s\n",
					result.Round.Number, result.Branch, result.CountyState, result.StateState)
				if len(result.Effects) > 0 {
					effects := make([]string, 0, len(result.Effects))
					for _, e := range result.Effects {
						effects = append(effects, string(e))
					}
					fmt.Fprintf(out, "Effects: %s\n", strings.Join(effects, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&board, "board", 1, "Audit board number (1-based)")
	cmd.Flags().StringArrayVar(&members, "member", nil, "Signing board member (repeat for each)")
	return cmd
}
