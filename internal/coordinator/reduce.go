package coordinator

import (
	"maps"
	"slices"

	"riskaudit/internal/ledger"
)

// Snapshot is a consistent read of every county and audit.
type Snapshot struct {
	State    StateState
	Counties map[int64]CountyState
	Audits   []*ledger.ComparisonAudit
}

// Reduction is the state-level outcome of a snapshot. Counties holds only the
// counties whose state changed, Audits only the audits whose status changed.
type Reduction struct {
	State         StateState
	Counties      map[int64]CountyState
	Audits        []*ledger.ComparisonAudit
	RoundComplete bool
	AuditComplete bool
}

// Changed reports whether the reduction has anything to persist.
func (r Reduction) Changed(previous StateState) bool {
	return r.State != previous || len(r.Counties) > 0 || len(r.Audits) > 0
}

// ReduceState folds the snapshot into the state-level outcome. It never
// mutates the snapshot. A county counts as done only once it is observed in a
// terminal state.
func ReduceState(snap Snapshot) Reduction {
	out := Reduction{State: snap.State, Counties: make(map[int64]CountyState)}
	if snap.State != StateAuditOngoing && snap.State != StateRoundComplete {
		return out
	}

	counties := maps.Clone(snap.Counties)
	if counties == nil {
		counties = make(map[int64]CountyState)
	}
	audits := make([]*ledger.ComparisonAudit, 0, len(snap.Audits))
	for _, audit := range snap.Audits {
		audits = append(audits, audit.Clone())
	}
	changed := make(map[*ledger.ComparisonAudit]struct{})

	for _, audit := range audits {
		if !audit.IsStateAudit() || audit.Status.Finished() {
			continue
		}
		if anyAwaitingRound(audit.CountyIDs(), counties) {
			continue
		}
		if audit.Achieve() {
			changed[audit] = struct{}{}
		}
	}

	if !anyInRound(sortedIDs(counties), counties) {
		for _, id := range sortedIDs(counties) {
			next, ok := CompleteIfFinished(counties[id], Covering(audits, id))
			if ok {
				counties[id] = next
				out.Counties[id] = next
			}
		}
		if out.State == StateAuditOngoing {
			out.State, _ = TransitionState(out.State, StateRoundFinished)
			out.RoundComplete = true
		}
	}

	if allOutstandingTerminal(counties, audits) {
		if next, err := TransitionState(out.State, StateAuditFinished); err == nil {
			out.State = next
			out.AuditComplete = true
			for _, audit := range audits {
				if !audit.Status.Finished() {
					audit.End()
					changed[audit] = struct{}{}
				}
			}
		}
	}

	for _, audit := range audits {
		if _, ok := changed[audit]; ok {
			out.Audits = append(out.Audits, audit)
		}
	}
	return out
}

// CompleteIfFinished moves a signed-off county whose blocking audits are all
// finished to its terminal state. ok is false when the county stays put.
func CompleteIfFinished(state CountyState, audits []*ledger.ComparisonAudit) (CountyState, bool) {
	if state != CountyRoundSignedOff || !AllFinished(audits) {
		return state, false
	}
	next, _, err := completeCounty(state, audits)
	if err != nil {
		return state, false
	}
	return next, true
}

// Covering returns the audits countyID contributes ballots to.
func Covering(audits []*ledger.ComparisonAudit, countyID int64) []*ledger.ComparisonAudit {
	var out []*ledger.ComparisonAudit
	for _, audit := range audits {
		if audit.Covers(countyID) {
			out = append(out, audit)
		}
	}
	return out
}

func anyInRound(ids []int64, counties map[int64]CountyState) bool {
	for _, id := range ids {
		if counties[id] == CountyRoundInProgress {
			return true
		}
	}
	return false
}

// awaitingRound reports whether a county still owes a closed round: it is
// mid-round, has never started one, or was never observed at all.
func awaitingRound(state CountyState) bool {
	return !state.Terminal() && state != CountyRoundSignedOff
}

func anyAwaitingRound(ids []int64, counties map[int64]CountyState) bool {
	for _, id := range ids {
		if awaitingRound(counties[id]) {
			return true
		}
	}
	return false
}

// allOutstandingTerminal reports whether every county that entered the audit,
// or is covered by an unfinished blocking audit, is terminal. At least one
// county must have entered.
func allOutstandingTerminal(counties map[int64]CountyState, audits []*ledger.ComparisonAudit) bool {
	participants := 0
	for _, state := range counties {
		if !state.Participating() {
			continue
		}
		participants++
		if !state.Terminal() {
			return false
		}
	}
	for _, audit := range audits {
		if !audit.Blocking() || audit.Status.Finished() {
			continue
		}
		for _, id := range audit.CountyIDs() {
			if !counties[id].Terminal() {
				return false
			}
		}
	}
	return participants > 0
}

func sortedIDs(counties map[int64]CountyState) []int64 {
	ids := slices.Collect(maps.Keys(counties))
	slices.Sort(ids)
	return ids
}
