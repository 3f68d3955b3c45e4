package coordinator

import (
	"fmt"
	"time"

	"riskaudit/internal/ledger"
	"riskaudit/internal/services"
)

// Branch identifies which closure rule applied to a signed-off round.
type Branch string

const (
	BranchNone           Branch = ""
	BranchRiskMet        Branch = "risk_limit_met"
	BranchBallotsExhaust Branch = "ballots_exhausted"
	BranchRoundClosed    Branch = "round_closed"
)

// SignOffRequest carries everything the sign-off policy reads.
type SignOffRequest struct {
	CountyID    int64
	State       CountyState
	Round       *Round
	AuditBoards int
	BoardIndex  int
	Signatories []string
	MinMembers  int
	// CVRsImported and BallotsAudited are the county dashboard counters.
	CVRsImported   int
	BallotsAudited int
	// Audits are the comparison audits the county contributes ballots to.
	Audits []*ledger.ComparisonAudit
	// Peers holds the current state of every other county.
	Peers map[int64]CountyState
	Now   time.Time
}

// SignOffDecision is the outcome of DecideSignOff. Round and Audits are copies;
// Audits holds only the audits whose status changed.
type SignOffDecision struct {
	Round   Round
	Closed  bool
	Branch  Branch
	State   CountyState
	Effects []Effect
	Audits  []*ledger.ComparisonAudit
}

func invariant(message string) error {
	return services.Wrap(services.ErrInvariant, "coordinator", "sign off", message, nil)
}

// DecideSignOff records one audit board's signatures and, once every
// configured board has signed, closes the round and applies the first
// matching closure rule:
//
//  1. every blocking audit is finished or has met its risk limit;
//  2. the county has no more ballots to draw;
//  3. otherwise the round is simply closed.
//
// Rejected requests return services.ErrInvariant and no decision.
func DecideSignOff(req SignOffRequest) (SignOffDecision, error) {
	if req.AuditBoards <= 0 {
		return SignOffDecision{}, invariant(fmt.Sprintf("county %d has no audit board count", req.CountyID))
	}
	if req.Round == nil || !req.Round.Open() {
		return SignOffDecision{}, invariant(fmt.Sprintf("county %d has no current round", req.CountyID))
	}
	if len(req.Signatories) < req.MinMembers {
		return SignOffDecision{}, invariant(fmt.Sprintf(
			"%d signatories for board %d, at least %d required",
			len(req.Signatories), req.BoardIndex+1, req.MinMembers,
		))
	}
	if req.BoardIndex < 0 || req.BoardIndex >= req.AuditBoards {
		return SignOffDecision{}, services.Wrap(
			services.ErrValidation,
			"coordinator",
			"sign off",
			fmt.Sprintf("audit board %d out of range 1..%d", req.BoardIndex+1, req.AuditBoards),
			nil,
		)
	}
	if req.State != CountyRoundInProgress {
		return SignOffDecision{}, invariant(fmt.Sprintf("county %d is %s, not in a round", req.CountyID, req.State))
	}

	decision := SignOffDecision{Round: req.Round.Clone(), State: req.State}
	decision.Round.Sign(req.BoardIndex, req.Signatories)
	if decision.Round.SignedBoards(req.MinMembers) < req.AuditBoards {
		return decision, nil
	}

	state, effects, err := TransitionCounty(req.State, CountyEvent{Kind: RoundSignedOff})
	if err != nil {
		return SignOffDecision{}, err
	}
	decision.Round.EndedAt = req.Now
	decision.Closed = true
	decision.State = state
	decision.Effects = effects

	audits := make([]*ledger.ComparisonAudit, 0, len(req.Audits))
	for _, audit := range req.Audits {
		audits = append(audits, audit.Clone())
	}

	complete := false
	switch {
	case blockingSettled(audits):
		decision.Branch = BranchRiskMet
		decision.Audits = endSingleCounty(audits, (*ledger.ComparisonAudit).End)
		complete = !sharedPeerAwaiting(req.CountyID, audits, req.Peers)
	case req.CVRsImported <= req.BallotsAudited:
		decision.Branch = BranchBallotsExhaust
		decision.Audits = endSingleCounty(audits, (*ledger.ComparisonAudit).EndWithHandCount)
		complete = AllFinished(audits)
	default:
		decision.Branch = BranchRoundClosed
	}

	if complete {
		state, effects, err := completeCounty(decision.State, audits)
		if err != nil {
			return SignOffDecision{}, err
		}
		decision.State = state
		decision.Effects = append(decision.Effects, effects...)
	}
	return decision, nil
}

// blockingSettled reports whether every blocking audit is finished or has met
// its risk limit.
func blockingSettled(audits []*ledger.ComparisonAudit) bool {
	for _, audit := range audits {
		if !audit.Blocking() {
			continue
		}
		if !audit.Status.Finished() && !audit.RiskLimitMet() {
			return false
		}
	}
	return true
}

// AllFinished reports whether every blocking audit in audits is finished.
func AllFinished(audits []*ledger.ComparisonAudit) bool {
	for _, audit := range audits {
		if audit.Blocking() && !audit.Status.Finished() {
			return false
		}
	}
	return true
}

func endSingleCounty(audits []*ledger.ComparisonAudit, end func(*ledger.ComparisonAudit)) []*ledger.ComparisonAudit {
	var changed []*ledger.ComparisonAudit
	for _, audit := range audits {
		if !audit.IsSingleCounty() || audit.Status.Finished() {
			continue
		}
		end(audit)
		changed = append(changed, audit)
	}
	return changed
}

// sharedPeerAwaiting reports whether another county contributing to one of the
// shared audits has a round open or has not yet closed its first one.
func sharedPeerAwaiting(countyID int64, audits []*ledger.ComparisonAudit, peers map[int64]CountyState) bool {
	for _, audit := range audits {
		if !audit.IsStateAudit() || audit.Status.Finished() {
			continue
		}
		for _, peer := range audit.CountyIDs() {
			if peer != countyID && awaitingRound(peers[peer]) {
				return true
			}
		}
	}
	return false
}

func completeCounty(state CountyState, audits []*ledger.ComparisonAudit) (CountyState, []Effect, error) {
	kind := AuditCompleted
	for _, audit := range audits {
		if audit.Status == ledger.StatusHandCount {
			kind = HandCounted
			break
		}
	}
	return TransitionCounty(state, CountyEvent{Kind: kind})
}
