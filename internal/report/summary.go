package report

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"riskaudit/internal/ledger"
)

var summaryHeader = []string{
	"Contest", "targeted", "Winner", "Risk Limit met?", "Risk measurement %",
	"Audit Risk Limit %", "diluted margin %", "disc +2", "disc +1", "disc -1",
	"disc -2", "gamma", "audited sample count", "ballot count", "min margin",
	"votes for winner", "votes for runner up", "total votes", "disagreement count",
	"optimistic samples to audit", "counties",
}

var hundred = decimal.NewFromInt(100)

// SummaryRows renders one row per comparison audit in definition order.
func SummaryRows(ctx context.Context, src Source) (Table, error) {
	var (
		audits []*ledger.ComparisonAudit
		names  map[int64]string
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		audits, err = src.Audits(gctx)
		return err
	})
	group.Go(func() error {
		var err error
		names, err = countyNames(gctx, src)
		return err
	})
	if err := group.Wait(); err != nil {
		return Table{}, err
	}

	table := Table{Title: "Summary", Header: summaryHeader, Rows: make([][]string, 0, len(audits))}
	for _, audit := range audits {
		table.Rows = append(table.Rows, summaryRow(audit, names))
	}
	return table, nil
}

func percent(d decimal.Decimal) string {
	return d.Mul(hundred).String()
}

func summaryRow(a *ledger.ComparisonAudit, names map[int64]string) []string {
	counties := make([]string, 0, len(a.CountyIDs()))
	for _, id := range a.CountyIDs() {
		counties = append(counties, names[id])
	}
	return []string{
		a.Contest.Name,
		formatBool(a.Targeted),
		strings.Join(a.Result.Winners, ", "),
		formatBool(a.RiskLimitMet()),
		percent(a.RiskMeasurement()),
		percent(a.RiskLimit),
		percent(decimal.NewFromFloat(a.DilutedMargin()).Round(5)),
		strconv.Itoa(a.Counts.TwoOver),
		strconv.Itoa(a.Counts.OneOver),
		strconv.Itoa(a.Counts.OneUnder),
		strconv.Itoa(a.Counts.TwoUnder),
		decimal.NewFromFloat(a.Gamma).String(),
		strconv.Itoa(a.AuditedSamples),
		strconv.Itoa(a.Result.BallotCount),
		strconv.Itoa(a.Result.MinMargin),
		strconv.Itoa(a.Result.WinnerVotes()),
		strconv.Itoa(a.Result.RunnerUpVotes()),
		strconv.Itoa(a.Result.TotalVotes()),
		strconv.Itoa(a.Disagreements),
		strconv.Itoa(a.OptimisticSamplesToAudit()),
		strings.Join(counties, ", "),
	}
}
