package store_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"riskaudit/internal/ballot"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
	"riskaudit/internal/testsupport"
)

func standardize(t *testing.T, st *store.Store, rename store.ContestRename) (ballot.Contest, error) {
	t.Helper()
	var contest ballot.Contest
	err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		var err error
		contest, err = tx.StandardizeContest(context.Background(), rename)
		return err
	})
	return contest, err
}

func TestStandardizeContestRenamesChoices(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	seed(t, st, "Adams", 20)
	ctx := context.Background()

	contest, err := standardize(t, st, store.ContestRename{
		Contest: "Mayor",
		Name:    "Mayor of Adams",
		Choices: map[string]string{"Alice": "Alice Smith"},
	})
	if err != nil {
		t.Fatalf("StandardizeContest: %v", err)
	}
	if contest.Name != "Mayor of Adams" || !slices.Equal(contest.Choices, []string{"Alice Smith", "Bob"}) {
		t.Fatalf("contest = %+v", contest)
	}
	if _, err := st.ContestByName(ctx, "Mayor"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("old name still resolves: %v", err)
	}

	votes, err := st.UploadedVotes(ctx, contest)
	if err != nil {
		t.Fatalf("UploadedVotes: %v", err)
	}
	result := ballot.Tally(contest, nil, votes)
	if result.Tallies["Alice Smith"] != 18 || result.Tallies["Bob"] != 2 || result.Tallies["Alice"] != 0 {
		t.Fatalf("tallies = %v", result.Tallies)
	}
}

func TestStandardizeContestMergesSpellings(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	adams := seed(t, st, "Adams", 10)

	shouting := ballot.Contest{Name: "MAYOR", Choices: []string{"ALICE", "Bob"}, VotesAllowed: 1}
	ballots := testsupport.Ballots(1, "A", 10, shouting.Name, func(int) []string { return []string{"ALICE"} })
	baca := testsupport.SeedCounty(t, st, "Baca", 1, []ballot.Contest{shouting}, ballots,
		[]ballot.ManifestBatch{{ScannerID: 1, BatchID: "A", Count: 10}})

	merged, err := standardize(t, st, store.ContestRename{
		Contest: "MAYOR",
		Name:    "Mayor",
		Choices: map[string]string{"ALICE": "Alice"},
	})
	if err != nil {
		t.Fatalf("StandardizeContest: %v", err)
	}
	if !slices.Equal(merged.Choices, []string{"Alice", "Bob"}) {
		t.Fatalf("choices = %v", merged.Choices)
	}
	if _, err := st.ContestByName(ctx, "MAYOR"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("merged contest still declared: %v", err)
	}
	counties, err := st.ContestCounties(ctx, merged.ID)
	if err != nil || !slices.Equal(counties, []int64{adams.ID, baca.ID}) {
		t.Fatalf("ContestCounties = %v, %v", counties, err)
	}
	votes, err := st.UploadedVotes(ctx, merged)
	if err != nil {
		t.Fatalf("UploadedVotes: %v", err)
	}
	if got := ballot.Tally(merged, nil, votes).Tallies["Alice"]; got != 19 {
		t.Fatalf("Alice = %d, want 19", got)
	}
}

func TestStandardizeContestRejects(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	seed(t, st, "Adams", 10)
	if _, err := st.EnsureContest(context.Background(), ballot.Contest{Name: "Sheriff", Choices: []string{"Alice", "Bob"}, VotesAllowed: 2}); err != nil {
		t.Fatalf("EnsureContest: %v", err)
	}

	tests := []struct {
		name   string
		rename store.ContestRename
		want   error
	}{
		{"unknown contest", store.ContestRename{Contest: "Governor", Name: "Gov"}, services.ErrNotFound},
		{"unknown choice", store.ContestRename{Contest: "Mayor", Choices: map[string]string{"Carol": "Caroline"}}, services.ErrValidation},
		{"blank choice", store.ContestRename{Contest: "Mayor", Choices: map[string]string{"Bob": " "}}, services.ErrValidation},
		{"votes allowed differ", store.ContestRename{Contest: "Mayor", Name: "Sheriff"}, services.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := standardize(t, st, tt.rename); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	contest, err := st.ContestByName(context.Background(), "Mayor")
	if err != nil || !slices.Equal(contest.Choices, []string{"Alice", "Bob"}) {
		t.Fatalf("rejected renames changed the contest: %+v, %v", contest, err)
	}
}
