package report

import (
	"context"
	"slices"
	"strconv"

	"riskaudit/internal/ballot"
	"riskaudit/internal/discrepancy"
)

var activityHeader = []string{
	"county", "imprinted id", "scanner id", "batch id", "record id", "db id",
	"round", "audit board", "record type", "discrepancy", "consensus", "comment",
	"revision", "re-audit ballot comment", "time of submission",
}

// ActivityRows lists every audit record, current and superseded, entered for the
// contest's sampled ballots, in submission order.
func ActivityRows(ctx context.Context, src Source, contest string) (Table, error) {
	audit, err := src.AuditByContest(ctx, contest)
	if err != nil {
		return Table{}, err
	}
	names, err := countyNames(ctx, src)
	if err != nil {
		return Table{}, err
	}
	cvrIDs := make([]int64, 0, len(audit.Samples))
	for id := range audit.Samples {
		cvrIDs = append(cvrIDs, id)
	}
	slices.Sort(cvrIDs)
	records, err := src.AuditRecords(ctx, cvrIDs)
	if err != nil {
		return Table{}, err
	}
	slices.SortStableFunc(records, func(a, b ballot.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	outcome := discrepancy.OutcomeOf(audit.Contest, audit.Result)
	classifier := discrepancy.NewClassifier(src, src)
	table := Table{Title: "Activity: " + audit.Contest.Name, Header: activityHeader}
	for _, rec := range records {
		value, ok, err := classifier.Find(ctx, outcome, rec)
		if err != nil {
			return Table{}, err
		}
		info, hasInfo := rec.ContestInfo(audit.Contest.Name)
		table.Rows = append(table.Rows, []string{
			names[rec.Key.CountyID],
			rec.ImprintedID,
			strconv.Itoa(rec.Key.ScannerID),
			rec.Key.BatchID,
			strconv.Itoa(rec.Key.Position),
			strconv.FormatInt(rec.ID, 10),
			strconv.Itoa(rec.RoundNumber),
			strconv.Itoa(rec.AuditBoardIndex + 1),
			string(rec.Type),
			formatDiscrepancy(value, ok),
			formatConsensus(info, hasInfo),
			info.Comment,
			strconv.FormatInt(rec.Revision, 10),
			rec.ReauditComment,
			formatTime(rec.Timestamp),
		})
	}
	return table, nil
}
