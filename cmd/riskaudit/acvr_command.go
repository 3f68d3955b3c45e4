package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"riskaudit/internal/ballot"
	"riskaudit/internal/engine"
	"riskaudit/internal/services"
)

func newACVRCommand(ctx *commandContext) *cobra.Command {
	acvrCmd := &cobra.Command{
		Use:   "acvr",
		Short: "Submit audit board interpretations",
	}
	acvrCmd.AddCommand(newACVRSubmitCommand(ctx))
	return acvrCmd
}

func newACVRSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		board          int
		votes          []string
		noConsensus    []string
		comments       []string
		notFound       bool
		reaudit        bool
		reauditComment string
	)
	cmd := &cobra.Command{
		Use:   "submit <county> <cvr-id>",
		Short: "Record the audited reading of a drawn ballot",
		Long: "Record the audited reading of a drawn ballot.\n\n" +
			"Each --vote takes CONTEST=CHOICE[,CHOICE...]; an empty choice list records an undervote.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cvrID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cvr id %q", args[1])
			}
			if board < 1 {
				return fmt.Errorf("--board must be 1 or greater")
			}
			parsed, err := parseVotes(votes, noConsensus, comments)
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(s *session) error {
				county, err := s.engine.LookupCounty(s.ctx, args[0])
				if err != nil {
					return err
				}
				result, err := s.engine.SubmitACVR(services.WithCountyID(s.ctx, county.ID), engine.ACVRRequest{
					CountyID:       county.ID,
					CVRID:          cvrID,
					BoardIndex:     board - 1,
					Votes:          parsed,
					BallotNotFound: notFound,
					Reaudit:        reaudit,
					ReauditComment: reauditComment,
				})
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Recorded ACVR %d for %s (revision %d)\n", result.ACVR.ID, result.ACVR.ImprintedID, result.ACVR.Revision)
				contests := make([]string, 0, len(result.Discrepancies))
				for name := range result.Discrepancies {
					contests = append(contests, name)
				}
				slices.Sort(contests)
				for _, name := range contests {
					fmt.Fprintf(out, "  %s: discrepancy %+d\n", name, result.Discrepancies[name])
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&board, "board", 1, "Audit board number (1-based)")
	cmd.Flags().StringArrayVar(&votes, "vote", nil, "Contest reading as CONTEST=CHOICE[,CHOICE...]")
	cmd.Flags().StringArrayVar(&noConsensus, "no-consensus", nil, "Contest the board could not agree on")
	cmd.Flags().StringArrayVar(&comments, "comment", nil, "Contest comment as CONTEST=TEXT")
	cmd.Flags().BoolVar(&notFound, "not-found", false, "The ballot could not be located")
	cmd.Flags().BoolVar(&reaudit, "reaudit", false, "Replace the ballot's current ACVR")
	cmd.Flags().StringVar(&reauditComment, "reaudit-comment", "", "Reason for the reaudit")
	return cmd
}

// parseVotes builds per-contest readings from the repeated flag values.
func parseVotes(votes, noConsensus, comments []string) (map[string]engine.ContestVote, error) {
	out := make(map[string]engine.ContestVote, len(votes))
	for _, raw := range votes {
		contest, value, ok := strings.Cut(raw, "=")
		contest = strings.TrimSpace(contest)
		if !ok || contest == "" {
			return nil, fmt.Errorf("invalid --vote %q (want CONTEST=CHOICE[,CHOICE...])", raw)
		}
		if _, dup := out[contest]; dup {
			return nil, fmt.Errorf("contest %q given more than once", contest)
		}
		var choices []string
		for _, choice := range strings.Split(value, ",") {
			if choice = strings.TrimSpace(choice); choice != "" {
				choices = append(choices, choice)
			}
		}
		out[contest] = engine.ContestVote{Choices: choices, Consensus: ballot.ConsensusYes}
	}
	for _, contest := range noConsensus {
		vote, ok := out[strings.TrimSpace(contest)]
		if !ok {
			return nil, fmt.Errorf("--no-consensus %q has no matching --vote", contest)
		}
		vote.Consensus = ballot.ConsensusNo
		out[strings.TrimSpace(contest)] = vote
	}
	for _, raw := range comments {
		contest, text, ok := strings.Cut(raw, "=")
		contest = strings.TrimSpace(contest)
		vote, found := out[contest]
		if !ok || !found {
			return nil, fmt.Errorf("--comment %q has no matching --vote", raw)
		}
		vote.Comment = strings.TrimSpace(text)
		out[contest] = vote
	}
	return out, nil
}
