package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"riskaudit/internal/engine"
	"riskaudit/internal/services"
)

func newContestCommand(ctx *commandContext) *cobra.Command {
	contestCmd := &cobra.Command{
		Use:   "contest",
		Short: "List contests and standardize their names",
	}
	contestCmd.AddCommand(newContestListCommand(ctx))
	contestCmd.AddCommand(newContestStandardizeCommand(ctx))
	return contestCmd
}

func newContestListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List declared contests and the counties carrying them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				contests, err := s.engine.Contests(s.ctx)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, contests)
				}
				rows := make([][]string, 0, len(contests))
				for _, c := range contests {
					counties := make([]string, 0, len(c.CountyIDs))
					for _, id := range c.CountyIDs {
						counties = append(counties, strconv.FormatInt(id, 10))
					}
					rows = append(rows, []string{
						c.Contest.Name,
						strconv.Itoa(c.Contest.VotesAllowed),
						strings.Join(c.Contest.Choices, ", "),
						strings.Join(counties, ", "),
					})
				}
				printTable(cmd.OutOrStdout(), "Contests", []string{"Contest", "Votes", "Choices", "Counties"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft})
				return nil
			})
		},
	}
}

func newContestStandardizeCommand(ctx *commandContext) *cobra.Command {
	var (
		name    string
		choices []string
	)
	cmd := &cobra.Command{
		Use:   "standardize <contest>",
		Short: "Rename a contest or its choices across every county",
		Long: "Rename a contest or its choices across every county before audits are defined.\n" +
			"Renaming to an existing contest name merges the two contests.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			renames, err := parseChoiceRenames(choices)
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(s *session) error {
				contest, err := s.engine.StandardizeContest(s.ctx, engine.StandardizeRequest{
					Contest: args[0],
					Name:    name,
					Choices: renames,
				})
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, contest)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Standardized %s as %s: %s\n",
					args[0], contest.Name, strings.Join(contest.Choices, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Standard contest name")
	cmd.Flags().StringArrayVar(&choices, "choice", nil, "Choice rename as OLD=NEW (repeatable)")
	return cmd
}

func parseChoiceRenames(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	renames := make(map[string]string, len(values))
	for _, v := range values {
		from, to, ok := strings.Cut(v, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, services.Wrap(services.ErrValidation, "cli", "contest standardize",
				fmt.Sprintf("choice rename %q must look like OLD=NEW", v), nil)
		}
		if _, dup := renames[from]; dup {
			return nil, services.Wrap(services.ErrValidation, "cli", "contest standardize",
				fmt.Sprintf("choice %q renamed twice", from), nil)
		}
		renames[from] = to
	}
	return renames, nil
}
