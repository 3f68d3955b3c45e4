package ballot

import (
	"fmt"
	"slices"
	"strings"

	"riskaudit/internal/services"
)

// Consensus records whether the audit board agreed on the ballot's interpretation.
type Consensus string

const (
	ConsensusYes Consensus = "YES"
	ConsensusNo  Consensus = "NO"
)

// ParseConsensus accepts YES/NO case-insensitively; blank means YES.
func ParseConsensus(value string) (Consensus, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(ConsensusYes):
		return ConsensusYes, nil
	case string(ConsensusNo):
		return ConsensusNo, nil
	default:
		return "", fmt.Errorf("unknown consensus value %q", value)
	}
}

// Contest describes a contest and its declared choices.
type Contest struct {
	ID           int64
	Name         string
	Choices      []string
	VotesAllowed int
}

// IsChoice reports whether choice belongs to the declared choice set.
func (c Contest) IsChoice(choice string) bool {
	return slices.Contains(c.Choices, choice)
}

// ContestInfo is the set of choices selected for one contest on one ballot.
type ContestInfo struct {
	Contest   string
	Choices   []string
	Consensus Consensus
	Comment   string
}

// NewContestInfo validates choices against the contest's declared set.
func NewContestInfo(contest Contest, choices []string, consensus Consensus, comment string) (ContestInfo, error) {
	for _, choice := range choices {
		if !contest.IsChoice(choice) {
			return ContestInfo{}, services.Wrap(
				services.ErrIntegrity,
				"ballot",
				"contest info",
				fmt.Sprintf("choice %q is not a choice in contest %q", choice, contest.Name),
				nil,
			)
		}
	}
	if consensus == "" {
		consensus = ConsensusYes
	}
	return ContestInfo{
		Contest:   contest.Name,
		Choices:   slices.Clone(choices),
		Consensus: consensus,
		Comment:   comment,
	}, nil
}

// Result is a contest's reported outcome computed from uploaded CVRs.
type Result struct {
	Contest     string
	CountyIDs   []int64
	Tallies     map[string]int
	Winners     []string
	Losers      []string
	MinMargin   int
	BallotCount int
}

// DilutedMargin is the smallest winner/loser margin divided by the ballot count.
func (r Result) DilutedMargin() float64 {
	if r.BallotCount <= 0 {
		return 0
	}
	return float64(r.MinMargin) / float64(r.BallotCount)
}

// TotalVotes sums the tallies of every choice.
func (r Result) TotalVotes() int {
	total := 0
	for _, votes := range r.Tallies {
		total += votes
	}
	return total
}

// RunnerUpVotes is the tally of the strongest loser.
func (r Result) RunnerUpVotes() int {
	best := 0
	for _, loser := range r.Losers {
		best = max(best, r.Tallies[loser])
	}
	return best
}

// WinnerVotes is the tally of the weakest winner.
func (r Result) WinnerVotes() int {
	if len(r.Winners) == 0 {
		return 0
	}
	weakest := r.Tallies[r.Winners[0]]
	for _, w := range r.Winners[1:] {
		weakest = min(weakest, r.Tallies[w])
	}
	return weakest
}

// Tally computes winners, losers and margins for contest over the supplied
// uploaded records. Ties at the cut are resolved by choice order.
func Tally(contest Contest, countyIDs []int64, records []Record) Result {
	result := Result{
		Contest:   contest.Name,
		CountyIDs: slices.Clone(countyIDs),
		Tallies:   make(map[string]int, len(contest.Choices)),
	}
	for _, choice := range contest.Choices {
		result.Tallies[choice] = 0
	}
	for _, rec := range records {
		info, ok := rec.ContestInfo(contest.Name)
		if !ok {
			continue
		}
		result.BallotCount++
		if len(info.Choices) > contest.VotesAllowed {
			continue
		}
		for _, choice := range info.Choices {
			result.Tallies[choice]++
		}
	}

	ranked := slices.Clone(contest.Choices)
	slices.SortStableFunc(ranked, func(a, b string) int {
		return result.Tallies[b] - result.Tallies[a]
	})
	allowed := max(contest.VotesAllowed, 1)
	if allowed > len(ranked) {
		allowed = len(ranked)
	}
	result.Winners = ranked[:allowed]
	result.Losers = ranked[allowed:]
	if len(result.Losers) > 0 {
		result.MinMargin = result.WinnerVotes() - result.RunnerUpVotes()
	} else {
		result.MinMargin = result.BallotCount
	}
	return result
}
