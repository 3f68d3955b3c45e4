package report

import (
	"context"
	"slices"
	"strconv"

	"riskaudit/internal/ballot"
	"riskaudit/internal/store"
)

var resultsHeader = []string{
	"county", "imprinted id", "scanner id", "batch id", "record id", "db id",
	"round", "audit board", "record type", "discrepancy", "consensus", "comment",
	"time of submission", "random number", "random sequence position", "multiplicity",
}

// ResultsRows lists one row per tribute drawn for the contest, in random
// sequence order, joined with the ballot's current ACVR. Superseded records
// are left out.
func ResultsRows(ctx context.Context, src Source, contest string) (Table, error) {
	audit, err := src.AuditByContest(ctx, contest)
	if err != nil {
		return Table{}, err
	}
	names, err := countyNames(ctx, src)
	if err != nil {
		return Table{}, err
	}
	drawn, err := src.SampledDrawnBallots(ctx, audit.ID)
	if err != nil {
		return Table{}, err
	}
	slices.SortStableFunc(drawn, func(a, b store.DrawnBallot) int {
		return a.Tribute.RandSequencePosition - b.Tribute.RandSequencePosition
	})

	cvrIDs := make([]int64, 0, len(drawn))
	for _, d := range drawn {
		cvrIDs = append(cvrIDs, d.CVRID)
	}
	slices.Sort(cvrIDs)
	records, err := src.AuditRecords(ctx, slices.Compact(cvrIDs))
	if err != nil {
		return Table{}, err
	}
	current := make(map[int64]ballot.Record, len(records))
	for _, rec := range records {
		if rec.Type == ballot.RecordAuditorEntered {
			current[rec.CVRID] = rec
		}
	}

	table := Table{Title: "Results: " + audit.Contest.Name, Header: resultsHeader}
	for _, d := range drawn {
		t := d.Tribute
		row := []string{
			names[t.CountyID],
			t.ImprintedID(),
			strconv.Itoa(t.ScannerID),
			t.BatchID,
			strconv.Itoa(t.Position),
			strconv.FormatInt(d.CVRID, 10),
		}
		acvr, audited := current[d.CVRID]
		if audited {
			value, ok, err := src.CachedDiscrepancy(ctx, audit.Contest.Name, d.CVRID)
			if err != nil {
				return Table{}, err
			}
			info, hasInfo := acvr.ContestInfo(audit.Contest.Name)
			row = append(row,
				strconv.Itoa(acvr.RoundNumber),
				strconv.Itoa(acvr.AuditBoardIndex+1),
				string(acvr.Type),
				formatDiscrepancy(value, ok),
				formatConsensus(info, hasInfo),
				info.Comment,
				formatTime(acvr.Timestamp),
			)
		} else {
			row = append(row, strconv.Itoa(d.RoundNumber), "", "", "", "", "", "")
		}
		row = append(row,
			strconv.Itoa(t.RandomNumber),
			strconv.Itoa(t.RandSequencePosition),
			strconv.Itoa(audit.Multiplicity(d.CVRID)),
		)
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
