package engine

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"riskaudit/internal/coordinator"
	"riskaudit/internal/ledger"
	"riskaudit/internal/risk"
	"riskaudit/internal/store"
)

// AuditStatus is a read-only view of one comparison audit.
type AuditStatus struct {
	Contest           string
	Reason            ledger.Reason
	Targeted          bool
	Status            ledger.Status
	RiskLimit         decimal.Decimal
	RiskMeasurement   decimal.Decimal
	RiskLimitMet      bool
	DilutedMargin     float64
	Counts            risk.Counts
	AuditedSamples    int
	Disagreements     int
	OptimisticSamples int
	Counties          []int64
}

func auditStatus(audit *ledger.ComparisonAudit) AuditStatus {
	return AuditStatus{
		Contest:           audit.Contest.Name,
		Reason:            audit.Reason,
		Targeted:          audit.Targeted,
		Status:            audit.Status,
		RiskLimit:         audit.RiskLimit,
		RiskMeasurement:   audit.RiskMeasurement(),
		RiskLimitMet:      audit.RiskLimitMet(),
		DilutedMargin:     audit.DilutedMargin(),
		Counts:            audit.Counts,
		AuditedSamples:    audit.AuditedSamples,
		Disagreements:     audit.Disagreements,
		OptimisticSamples: audit.OptimisticSamplesToAudit(),
		Counties:          slices.Clone(audit.CountyIDs()),
	}
}

// CountyStatus is the county dashboard.
type CountyStatus struct {
	County store.County
	// Round is the latest round; nil before the first round.
	Round  *coordinator.Round
	Files  []store.UploadedFile
	Audits []AuditStatus
	// Drawn is the number of tributes in the latest round, Pending the
	// distinct ballots of that round still without an ACVR.
	Drawn   int
	Pending []store.DrawnBallot
	// ImportID identifies an import this process is still running for the county.
	ImportID string
}

// CountyStatus returns the county dashboard.
func (e *Engine) CountyStatus(ctx context.Context, countyID int64) (CountyStatus, error) {
	county, err := e.store.County(ctx, countyID)
	if err != nil {
		return CountyStatus{}, err
	}
	out := CountyStatus{County: county}
	if task, running := e.importer.Running(countyID); running {
		out.ImportID = task.ImportID
	}
	if out.Files, err = e.store.UploadedFiles(ctx, countyID); err != nil {
		return CountyStatus{}, err
	}
	audits, err := e.store.AuditsForCounty(ctx, countyID)
	if err != nil {
		return CountyStatus{}, err
	}
	for _, audit := range audits {
		out.Audits = append(out.Audits, auditStatus(audit))
	}

	round, ok, err := e.store.CurrentRound(ctx, countyID)
	if err != nil {
		return CountyStatus{}, err
	}
	if !ok {
		return out, nil
	}
	out.Round = &round
	drawn, err := e.store.DrawnBallots(ctx, countyID, round.Number)
	if err != nil {
		return CountyStatus{}, err
	}
	out.Drawn = len(drawn)
	seen := make(map[int64]bool, len(drawn))
	for _, d := range drawn {
		if seen[d.CVRID] {
			continue
		}
		seen[d.CVRID] = true
		_, audited, err := e.store.CurrentACVR(ctx, d.CVRID)
		if err != nil {
			return CountyStatus{}, err
		}
		if !audited {
			out.Pending = append(out.Pending, d)
		}
	}
	return out, nil
}

// StateStatus is the state dashboard.
type StateStatus struct {
	State     coordinator.StateState
	UpdatedAt time.Time
	Counties  []store.County
	Audits    []AuditStatus
}

// StateStatus returns the state dashboard.
func (e *Engine) StateStatus(ctx context.Context) (StateStatus, error) {
	state, updated, err := e.store.StateState(ctx)
	if err != nil {
		return StateStatus{}, err
	}
	out := StateStatus{State: state, UpdatedAt: updated}
	if out.Counties, err = e.store.Counties(ctx); err != nil {
		return StateStatus{}, err
	}
	audits, err := e.store.Audits(ctx)
	if err != nil {
		return StateStatus{}, err
	}
	for _, audit := range audits {
		out.Audits = append(out.Audits, auditStatus(audit))
	}
	return out, nil
}
