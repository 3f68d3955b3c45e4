package discrepancy

import (
	"slices"

	"riskaudit/internal/ballot"
)

// BallotNotFound is the value assigned when the audit board could not locate
// the physical ballot.
const BallotNotFound = 2

// Outcome is the reported result of a contest: its declared choices and who
// won and lost.
type Outcome struct {
	Contest ballot.Contest
	Winners []string
	Losers  []string
}

// OutcomeOf builds an Outcome from a tallied result.
func OutcomeOf(contest ballot.Contest, result ballot.Result) Outcome {
	return Outcome{Contest: contest, Winners: result.Winners, Losers: result.Losers}
}

// Compute compares cvr and acvr for the outcome's contest.
func Compute(o Outcome, cvr, acvr ballot.Record) int {
	if acvr.BallotNotFound {
		return BallotNotFound
	}

	var cvrChoices, acvrChoices []string
	if info, ok := cvr.ContestInfo(o.Contest.Name); ok {
		cvrChoices = info.Choices
	}
	if info, ok := acvr.ContestInfo(o.Contest.Name); ok {
		acvrChoices = info.Choices
	}
	// An overvote on the audited ballot counts as no vote at all.
	if o.Contest.VotesAllowed > 0 && len(acvrChoices) > o.Contest.VotesAllowed {
		acvrChoices = nil
	}

	if sameChoices(cvrChoices, acvrChoices) {
		return 0
	}
	if len(o.Losers) == 0 || len(o.Winners) == 0 {
		return 0
	}

	worst := 0
	first := true
	for _, winner := range o.Winners {
		winnerChange := change(winner, cvrChoices, acvrChoices)
		for _, loser := range o.Losers {
			d := winnerChange - change(loser, cvrChoices, acvrChoices)
			if first || d > worst {
				worst = d
				first = false
			}
		}
	}
	return worst
}

// change is +1 when choice was recorded on the CVR but not the ACVR, -1 for
// the reverse, and 0 otherwise. Overstatement is winner change minus loser
// change.
func change(choice string, cvrChoices, acvrChoices []string) int {
	inCVR := slices.Contains(cvrChoices, choice)
	inACVR := slices.Contains(acvrChoices, choice)
	switch {
	case inCVR && !inACVR:
		return 1
	case !inCVR && inACVR:
		return -1
	default:
		return 0
	}
}

func sameChoices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, choice := range a {
		if !slices.Contains(b, choice) {
			return false
		}
	}
	return true
}
