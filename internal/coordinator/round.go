package coordinator

import (
	"slices"
	"time"
)

// Round is one county audit round.
type Round struct {
	ID        int64
	CountyID  int64
	Number    int
	StartedAt time.Time
	// EndedAt is zero while the round is open.
	EndedAt time.Time
	// ExpectedCount is the number of tributes drawn for the round.
	ExpectedCount int
	// Signatories maps audit board index to the members who signed.
	Signatories map[int][]string
}

// Open reports whether the round has not been closed.
func (r Round) Open() bool {
	return r.EndedAt.IsZero()
}

// Sign records board's signatories, replacing an earlier signature.
func (r *Round) Sign(board int, names []string) {
	if r.Signatories == nil {
		r.Signatories = make(map[int][]string)
	}
	r.Signatories[board] = slices.Clone(names)
}

// SignedBoards counts boards whose signatory list reaches minMembers.
func (r Round) SignedBoards(minMembers int) int {
	signed := 0
	for _, names := range r.Signatories {
		if len(names) >= minMembers {
			signed++
		}
	}
	return signed
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	clone := r
	clone.Signatories = make(map[int][]string, len(r.Signatories))
	for board, names := range r.Signatories {
		clone.Signatories[board] = slices.Clone(names)
	}
	return clone
}
