package main

import (
	"slices"
	"strings"
	"testing"

	"riskaudit/internal/ballot"
)

func TestParseVotes(t *testing.T) {
	votes, err := parseVotes(
		[]string{"Mayor=Alice", "Council = Dee, Eve", "Measure 1="},
		[]string{"Council"},
		[]string{"Council=overvote marks"},
	)
	if err != nil {
		t.Fatalf("parseVotes: %v", err)
	}
	if got := votes["Mayor"]; !slices.Equal(got.Choices, []string{"Alice"}) || got.Consensus != ballot.ConsensusYes {
		t.Fatalf("Mayor = %+v", got)
	}
	council := votes["Council"]
	if !slices.Equal(council.Choices, []string{"Dee", "Eve"}) || council.Consensus != ballot.ConsensusNo || council.Comment != "overvote marks" {
		t.Fatalf("Council = %+v", council)
	}
	if got, ok := votes["Measure 1"]; !ok || len(got.Choices) != 0 {
		t.Fatalf("undervote = %+v, %v", got, ok)
	}
}

func TestParseVotesRejects(t *testing.T) {
	tests := []struct {
		name        string
		votes       []string
		noConsensus []string
		comments    []string
	}{
		{name: "missing separator", votes: []string{"Mayor"}},
		{name: "empty contest", votes: []string{"=Alice"}},
		{name: "duplicate contest", votes: []string{"Mayor=Alice", "Mayor=Bob"}},
		{name: "unknown no-consensus", votes: []string{"Mayor=Alice"}, noConsensus: []string{"Council"}},
		{name: "unknown comment", votes: []string{"Mayor=Alice"}, comments: []string{"Council=x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseVotes(tt.votes, tt.noConsensus, tt.comments); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReadTributes(t *testing.T) {
	input := strings.Join([]string{
		`{"scanner_id":1,"batch_id":"A","record_id":4,"contest":"Mayor","random_number":91}`,
		``,
		`{"scanner_id":1,"batch_id":"A","record_id":4,"contest":"Mayor","random_number":17}`,
		`{"scanner_id":2,"batch_id":"B","record_id":1,"contest":"Mayor","random_number":5,"sequence_position":9}`,
	}, "\n")
	tributes, err := readTributes(strings.NewReader(input), 3)
	if err != nil {
		t.Fatalf("readTributes: %v", err)
	}
	if len(tributes) != 3 {
		t.Fatalf("tributes = %d, want 3", len(tributes))
	}
	if tributes[1].RandSequencePosition != 2 || tributes[2].RandSequencePosition != 9 {
		t.Fatalf("unexpected sequence positions: %+v", tributes)
	}
	if tributes[0].Key != (ballot.Key{CountyID: 3, ScannerID: 1, BatchID: "A", Position: 4}) {
		t.Fatalf("key = %+v", tributes[0].Key)
	}

	if _, err := readTributes(strings.NewReader(`{"batch_id":"A","record_id":0}`), 3); err == nil {
		t.Fatal("expected missing record_id to fail")
	}
	if _, err := readTributes(strings.NewReader(`{"batch_id":"A","record_id":1,"extra":true}`), 3); err == nil {
		t.Fatal("expected unknown field to fail")
	}
	if _, err := readTributes(strings.NewReader("\n"), 3); err == nil {
		t.Fatal("expected empty input to fail")
	}
}
