package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"riskaudit/internal/engine"
	"riskaudit/internal/services"
)

func newCountyCommand(ctx *commandContext) *cobra.Command {
	countyCmd := &cobra.Command{
		Use:   "county",
		Short: "Manage participating counties",
	}
	countyCmd.AddCommand(newCountyAddCommand(ctx))
	countyCmd.AddCommand(newCountyStatusCommand(ctx))
	countyCmd.AddCommand(newCountyBoardsCommand(ctx))
	return countyCmd
}

func newCountyAddCommand(ctx *commandContext) *cobra.Command {
	var boards int
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a county",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				county, err := s.engine.CreateCounty(s.ctx, args[0], boards)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, county)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created county %s (id %d, %d audit boards)\n", county.Name, county.ID, county.AuditBoards)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&boards, "boards", 0, "Number of audit boards (default from config)")
	return cmd
}

func newCountyBoardsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "boards <county> <count>",
		Short: "Set the number of audit boards for a county",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boards, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid board count %q", args[1])
			}
			return ctx.withEngine(cmd, func(s *session) error {
				county, err := s.engine.LookupCounty(s.ctx, args[0])
				if err != nil {
					return err
				}
				if err := s.engine.SetAuditBoards(services.WithCountyID(s.ctx, county.ID), county.ID, boards); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "County %s now has %d audit boards\n", county.Name, boards)
				return nil
			})
		},
	}
}

func newCountyStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <county>",
		Short: "Show a county's import, round and audit progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(s *session) error {
				county, err := s.engine.LookupCounty(s.ctx, args[0])
				if err != nil {
					return err
				}
				status, err := s.engine.CountyStatus(s.ctx, county.ID)
				if err != nil {
					return err
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, status)
				}
				renderCountyStatus(cmd, status)
				return nil
			})
		},
	}
}

func renderCountyStatus(cmd *cobra.Command, status engine.CountyStatus) {
	out := cmd.OutOrStdout()
	c := status.County
	fields := [][2]string{
		{"County", fmt.Sprintf("%s (id %d)", c.Name, c.ID)},
		{"State", string(c.State)},
		{"Audit boards", strconv.Itoa(c.AuditBoards)},
		{"Import", string(c.ImportStatus)},
		{"CVRs imported", humanize.Comma(int64(c.CVRsImported))},
		{"Ballots in manifest", humanize.Comma(int64(c.BallotsInManifest))},
		{"Ballots audited", humanize.Comma(int64(c.BallotsAudited))},
	}
	if c.ImportError != "" {
		fields = append(fields, [2]string{"Import error", c.ImportError})
	}
	if status.ImportID != "" {
		fields = append(fields, [2]string{"Running import", status.ImportID})
	}
	if r := status.Round; r != nil {
		state := "open"
		if !r.Open() {
			state = "closed " + humanize.Time(r.EndedAt)
		}
		fields = append(fields,
			[2]string{"Round", fmt.Sprintf("%d (%s)", r.Number, state)},
			[2]string{"Drawn", fmt.Sprintf("%d tributes, %d ballots pending", status.Drawn, len(status.Pending))},
		)
	}
	printFields(out, fields)

	fileRows := make([][]string, 0, len(status.Files))
	for _, f := range status.Files {
		fileRows = append(fileRows, []string{strconv.FormatInt(f.ID, 10), string(f.Kind), f.Name, string(f.Status), f.Result})
	}
	fmt.Fprintln(out)
	printTable(out, "Files", []string{"ID", "Kind", "Name", "Status", "Result"}, fileRows, []columnAlignment{alignRight})

	fmt.Fprintln(out)
	renderAudits(out, status.Audits)

	if len(status.Pending) > 0 {
		pending := make([][]string, 0, len(status.Pending))
		for _, d := range status.Pending {
			pending = append(pending, []string{
				strconv.Itoa(d.Tribute.RandSequencePosition),
				d.Tribute.ImprintedID(),
				strconv.FormatInt(d.CVRID, 10),
			})
		}
		fmt.Fprintln(out)
		printTable(out, "Pending ballots", []string{"Seq", "Imprinted ID", "CVR"}, pending, []columnAlignment{alignRight, alignLeft, alignRight})
	}
}

func countyList(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
