package ledger

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"riskaudit/internal/ballot"
	"riskaudit/internal/risk"
)

// Status is the lifecycle state of a comparison audit.
type Status string

const (
	StatusNotStarted        Status = "NOT_STARTED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusRiskLimitAchieved Status = "RISK_LIMIT_ACHIEVED"
	StatusEnded             Status = "ENDED"
	StatusHandCount         Status = "HAND_COUNT"
)

var allStatuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusRiskLimitAchieved,
	StatusEnded,
	StatusHandCount,
}

// ParseStatus validates a stored status.
func ParseStatus(value string) (Status, error) {
	if slices.Contains(allStatuses, Status(value)) {
		return Status(value), nil
	}
	return "", fmt.Errorf("unknown audit status %q", value)
}

// Finished reports whether no further ballots will be examined for the audit.
func (s Status) Finished() bool {
	return s == StatusRiskLimitAchieved || s == StatusEnded || s == StatusHandCount
}

// Reason records why a contest is audited.
type Reason string

const (
	ReasonStateWide     Reason = "STATE_WIDE_CONTEST"
	ReasonCountyWide    Reason = "COUNTY_WIDE_CONTEST"
	ReasonCloseContest  Reason = "CLOSE_CONTEST"
	ReasonTied          Reason = "TIED_CONTEST"
	ReasonGeographical  Reason = "GEOGRAPHICAL_SCOPE"
	ReasonConcern       Reason = "CONCERN_REGARDING_ACCURACY"
	ReasonOpportunistic Reason = "OPPORTUNISTIC_BENEFITS"
)

// ParseReason validates an audit reason.
func ParseReason(value string) (Reason, error) {
	switch r := Reason(value); r {
	case ReasonStateWide, ReasonCountyWide, ReasonCloseContest, ReasonTied,
		ReasonGeographical, ReasonConcern, ReasonOpportunistic:
		return r, nil
	default:
		return "", fmt.Errorf("unknown audit reason %q", value)
	}
}

// ComparisonAudit is the per-contest evidence ledger.
type ComparisonAudit struct {
	ID             int64
	Contest        ballot.Contest
	Result         ballot.Result
	Reason         Reason
	Targeted       bool
	RiskLimit      decimal.Decimal
	Gamma          float64
	Counts         risk.Counts
	AuditedSamples int
	Disagreements  int
	Status         Status
	// Samples maps sampled CVR ids to the number of times they were drawn.
	Samples map[int64]int
}

// New builds a not-yet-started audit for a tallied contest.
func New(contest ballot.Contest, result ballot.Result, reason Reason, targeted bool, riskLimit decimal.Decimal, gamma float64) *ComparisonAudit {
	return &ComparisonAudit{
		Contest:   contest,
		Result:    result,
		Reason:    reason,
		Targeted:  targeted,
		RiskLimit: riskLimit,
		Gamma:     gamma,
		Status:    StatusNotStarted,
		Samples:   make(map[int64]int),
	}
}

// DilutedMargin is the contest's diluted margin.
func (a *ComparisonAudit) DilutedMargin() float64 {
	return a.Result.DilutedMargin()
}

// Params returns the current risk inputs.
func (a *ComparisonAudit) Params() risk.Params {
	return risk.Params{
		AuditedSamples: a.AuditedSamples,
		DilutedMargin:  a.DilutedMargin(),
		Gamma:          a.Gamma,
		Counts:         a.Counts,
	}
}

// RiskMeasurement returns the rounded p-value of the evidence so far.
func (a *ComparisonAudit) RiskMeasurement() decimal.Decimal {
	return risk.Measure(a.Params())
}

// RiskLimitMet reports whether the declared limit strictly exceeds the measured risk.
func (a *ComparisonAudit) RiskLimitMet() bool {
	return risk.LimitMet(a.RiskLimit, a.RiskMeasurement())
}

// OptimisticSamplesToAudit estimates the total sample needed given the
// discrepancies observed so far.
func (a *ComparisonAudit) OptimisticSamplesToAudit() int {
	return risk.OptimisticSamplesToAudit(a.RiskLimit.InexactFloat64(), a.DilutedMargin(), a.Gamma, a.Counts)
}

// CountyIDs lists the counties contributing ballots to the contest.
func (a *ComparisonAudit) CountyIDs() []int64 {
	return a.Result.CountyIDs
}

// Covers reports whether countyID contributes ballots to the audit.
func (a *ComparisonAudit) Covers(countyID int64) bool {
	return slices.Contains(a.Result.CountyIDs, countyID)
}

// IsSingleCounty reports whether only one county contributes ballots.
func (a *ComparisonAudit) IsSingleCounty() bool {
	return len(a.Result.CountyIDs) <= 1
}

// IsStateAudit reports whether the audit is shared state coordinated across
// counties: more than one county, targeted for a reason other than
// opportunistic benefit, and not on a hand count.
func (a *ComparisonAudit) IsStateAudit() bool {
	return !a.IsSingleCounty() && a.Reason != ReasonOpportunistic && a.Status != StatusHandCount
}

// Blocking reports whether the audit holds its counties open: targeted audits
// and hand counts must finish before a county is done, opportunistic ones never
// block.
func (a *ComparisonAudit) Blocking() bool {
	return a.Targeted || a.Status == StatusHandCount
}

// AddSample registers a draw of cvrID with the given multiplicity.
func (a *ComparisonAudit) AddSample(cvrID int64, multiplicity int) {
	if multiplicity <= 0 {
		return
	}
	if a.Samples == nil {
		a.Samples = make(map[int64]int)
	}
	a.Samples[cvrID] += multiplicity
	if a.Status == StatusNotStarted {
		a.Status = StatusInProgress
	}
}

// Multiplicity returns how many times cvrID was drawn for the audit.
func (a *ComparisonAudit) Multiplicity(cvrID int64) int {
	return a.Samples[cvrID]
}

// Record adds the first audit of a ballot drawn multiplicity times.
func (a *ComparisonAudit) Record(discrepancy, multiplicity int, consensusNo bool) {
	if multiplicity <= 0 {
		return
	}
	a.AuditedSamples += multiplicity
	a.Counts = a.Counts.Add(discrepancy, multiplicity)
	if consensusNo {
		a.Disagreements += multiplicity
	}
}

// Revise replaces a previously recorded classification after a reaudit. The
// audited sample count is unchanged.
func (a *ComparisonAudit) Revise(previous, next, multiplicity int, previousNo, nextNo bool) {
	if multiplicity <= 0 {
		return
	}
	a.Counts = a.Counts.Add(previous, -multiplicity).Add(next, multiplicity)
	if previousNo {
		a.Disagreements -= multiplicity
	}
	if nextNo {
		a.Disagreements += multiplicity
	}
}

// Achieve marks the audit complete when its risk limit is met.
func (a *ComparisonAudit) Achieve() bool {
	if a.Status.Finished() || !a.RiskLimitMet() {
		return false
	}
	a.Status = StatusRiskLimitAchieved
	return true
}

// End finishes the audit: achieved when the risk limit is met, ended otherwise.
func (a *ComparisonAudit) End() {
	if a.Status.Finished() {
		return
	}
	if a.RiskLimitMet() {
		a.Status = StatusRiskLimitAchieved
		return
	}
	a.Status = StatusEnded
}

// EndWithHandCount finishes the audit after its ballots ran out: achieved when
// the risk limit is met, otherwise the contest falls back to a full hand count.
func (a *ComparisonAudit) EndWithHandCount() {
	if a.Status.Finished() {
		return
	}
	if a.RiskLimitMet() {
		a.Status = StatusRiskLimitAchieved
		return
	}
	a.Status = StatusHandCount
}

// HandCount orders a full hand count and removes the contest from targeting.
func (a *ComparisonAudit) HandCount() {
	a.Status = StatusHandCount
	a.Targeted = false
}

// Clone returns a deep copy of the audit.
func (a *ComparisonAudit) Clone() *ComparisonAudit {
	clone := *a
	clone.Contest.Choices = slices.Clone(a.Contest.Choices)
	clone.Result.CountyIDs = slices.Clone(a.Result.CountyIDs)
	clone.Result.Winners = slices.Clone(a.Result.Winners)
	clone.Result.Losers = slices.Clone(a.Result.Losers)
	clone.Result.Tallies = make(map[string]int, len(a.Result.Tallies))
	for choice, votes := range a.Result.Tallies {
		clone.Result.Tallies[choice] = votes
	}
	clone.Samples = make(map[int64]int, len(a.Samples))
	for id, n := range a.Samples {
		clone.Samples[id] = n
	}
	return &clone
}
