package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"riskaudit/internal/ballot"
	"riskaudit/internal/ledger"
	"riskaudit/internal/store"
)

// TimeLayout is the rendering of submission timestamps.
const TimeLayout = "01/02/2006 03:04:05 PM"

// Table is a rendered report.
type Table struct {
	Title  string     `json:"title"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Source is the committed state the reports read.
type Source interface {
	Audits(ctx context.Context) ([]*ledger.ComparisonAudit, error)
	AuditByContest(ctx context.Context, contest string) (*ledger.ComparisonAudit, error)
	AuditRecords(ctx context.Context, cvrIDs []int64) ([]ballot.Record, error)
	SampledDrawnBallots(ctx context.Context, auditID int64) ([]store.DrawnBallot, error)
	Counties(ctx context.Context) ([]store.County, error)
	CachedDiscrepancy(ctx context.Context, contest string, cvrID int64) (int, bool, error)
	RecordByID(ctx context.Context, id int64) (ballot.Record, error)
}

var titleCaser = cases.Title(language.Und)

// countyNames maps county ids to title-cased names.
func countyNames(ctx context.Context, src Source) (map[int64]string, error) {
	counties, err := src.Counties(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(counties))
	for _, c := range counties {
		names[c.ID] = titleCaser.String(strings.ToLower(c.Name))
	}
	return names, nil
}

// formatDiscrepancy renders positive values with a sign and leaves zero and
// "none" blank.
func formatDiscrepancy(value int, ok bool) string {
	if !ok || value == 0 {
		return ""
	}
	if value > 0 {
		return fmt.Sprintf("+%d", value)
	}
	return fmt.Sprintf("%d", value)
}

func formatConsensus(info ballot.ContestInfo, ok bool) string {
	if ok && info.Consensus == ballot.ConsensusNo {
		return "No"
	}
	return "Yes"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimeLayout)
}

func formatBool(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
