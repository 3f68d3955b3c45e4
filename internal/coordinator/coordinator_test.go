package coordinator_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/ledger"
	"riskaudit/internal/services"
)

func TestTransitionCounty(t *testing.T) {
	cases := []struct {
		name  string
		from  coordinator.CountyState
		event coordinator.CountyEvent
		want  coordinator.CountyState
	}{
		{"import starts", coordinator.CountyNotStarted, coordinator.CountyEvent{Kind: coordinator.ImportStarted}, coordinator.CountyImporting},
		{"reimport", coordinator.CountyImported, coordinator.CountyEvent{Kind: coordinator.ImportStarted}, coordinator.CountyImporting},
		{"import ready", coordinator.CountyImporting, coordinator.CountyEvent{Kind: coordinator.ImportSucceeded, Ready: true}, coordinator.CountyImported},
		{"import partial", coordinator.CountyImporting, coordinator.CountyEvent{Kind: coordinator.ImportSucceeded}, coordinator.CountyNotStarted},
		{"import failed", coordinator.CountyImporting, coordinator.CountyEvent{Kind: coordinator.ImportFailed}, coordinator.CountyNotStarted},
		{"files deleted", coordinator.CountyImported, coordinator.CountyEvent{Kind: coordinator.FilesDeleted}, coordinator.CountyNotStarted},
		{"first round", coordinator.CountyImported, coordinator.CountyEvent{Kind: coordinator.RoundStarted}, coordinator.CountyRoundInProgress},
		{"next round", coordinator.CountyRoundSignedOff, coordinator.CountyEvent{Kind: coordinator.RoundStarted}, coordinator.CountyRoundInProgress},
		{"sign off", coordinator.CountyRoundInProgress, coordinator.CountyEvent{Kind: coordinator.RoundSignedOff}, coordinator.CountyRoundSignedOff},
		{"complete", coordinator.CountyRoundSignedOff, coordinator.CountyEvent{Kind: coordinator.AuditCompleted}, coordinator.CountyAuditComplete},
		{"hand count", coordinator.CountyRoundSignedOff, coordinator.CountyEvent{Kind: coordinator.HandCounted}, coordinator.CountyHandCount},
		{"reset ready", coordinator.CountyAuditComplete, coordinator.CountyEvent{Kind: coordinator.CountyReset, Ready: true}, coordinator.CountyImported},
		{"reset keeps import", coordinator.CountyImporting, coordinator.CountyEvent{Kind: coordinator.CountyReset, Ready: true}, coordinator.CountyImporting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := coordinator.TransitionCounty(tc.from, tc.event)
			if err != nil {
				t.Fatalf("TransitionCounty: %v", err)
			}
			if got != tc.want {
				t.Fatalf("state = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTransitionCountyRejectsIllegalEvents(t *testing.T) {
	cases := []struct {
		from coordinator.CountyState
		kind coordinator.CountyEventKind
	}{
		{coordinator.CountyNotStarted, coordinator.RoundStarted},
		{coordinator.CountyImporting, coordinator.ImportStarted},
		{coordinator.CountyImporting, coordinator.FilesDeleted},
		{coordinator.CountyRoundSignedOff, coordinator.RoundSignedOff},
		{coordinator.CountyAuditComplete, coordinator.RoundStarted},
		{coordinator.CountyRoundInProgress, coordinator.AuditCompleted},
	}
	for _, tc := range cases {
		got, effects, err := coordinator.TransitionCounty(tc.from, coordinator.CountyEvent{Kind: tc.kind})
		if !errors.Is(err, services.ErrInvariant) {
			t.Fatalf("%s on %s: err = %v, want invariant", tc.kind, tc.from, err)
		}
		if got != tc.from || effects != nil {
			t.Fatalf("%s on %s changed state to %s", tc.kind, tc.from, got)
		}
	}
}

func TestTransitionState(t *testing.T) {
	state := coordinator.StateInitial
	steps := []struct {
		event coordinator.StateEvent
		want  coordinator.StateState
	}{
		{coordinator.StateAuditDefined, coordinator.StateAuditReady},
		{coordinator.StateRoundStarted, coordinator.StateAuditOngoing},
		{coordinator.StateRoundFinished, coordinator.StateRoundComplete},
		{coordinator.StateRoundStarted, coordinator.StateAuditOngoing},
		{coordinator.StateAuditFinished, coordinator.StateAuditComplete},
		{coordinator.StateReset, coordinator.StateInitial},
	}
	for _, step := range steps {
		next, err := coordinator.TransitionState(state, step.event)
		if err != nil {
			t.Fatalf("%s from %s: %v", step.event, state, err)
		}
		if next != step.want {
			t.Fatalf("%s from %s = %s, want %s", step.event, state, next, step.want)
		}
		state = next
	}

	if _, err := coordinator.TransitionState(coordinator.StateAuditOngoing, coordinator.StateAuditDefined); !errors.Is(err, services.ErrInvariant) {
		t.Fatalf("redefining an ongoing audit: err = %v", err)
	}
}

var mayor = ballot.Contest{ID: 1, Name: "Mayor", Choices: []string{"Alice", "Bob"}, VotesAllowed: 1}

func audit(id int64, countyIDs ...int64) *ledger.ComparisonAudit {
	result := ballot.Result{
		Contest:     mayor.Name,
		CountyIDs:   countyIDs,
		Tallies:     map[string]int{"Alice": 95, "Bob": 5},
		Winners:     []string{"Alice"},
		Losers:      []string{"Bob"},
		MinMargin:   90,
		BallotCount: 100,
	}
	a := ledger.New(mayor, result, ledger.ReasonCountyWide, true, decimal.RequireFromString("0.03"), 1.03905)
	a.ID = id
	a.Status = ledger.StatusInProgress
	return a
}

func met(a *ledger.ComparisonAudit) *ledger.ComparisonAudit {
	a.Record(0, 10, false)
	return a
}

func openRound() *coordinator.Round {
	return &coordinator.Round{ID: 1, CountyID: 1, Number: 1, StartedAt: time.Unix(100, 0)}
}

func request(audits ...*ledger.ComparisonAudit) coordinator.SignOffRequest {
	return coordinator.SignOffRequest{
		CountyID:       1,
		State:          coordinator.CountyRoundInProgress,
		Round:          openRound(),
		AuditBoards:    1,
		BoardIndex:     0,
		Signatories:    []string{"Ada", "Grace"},
		MinMembers:     2,
		CVRsImported:   100,
		BallotsAudited: 10,
		Audits:         audits,
		Peers:          map[int64]coordinator.CountyState{},
		Now:            time.Unix(200, 0),
	}
}

func TestSignOffRejectsInvalidRequests(t *testing.T) {
	cases := map[string]func(*coordinator.SignOffRequest){
		"too few signatories": func(r *coordinator.SignOffRequest) { r.Signatories = []string{"Ada"} },
		"no current round":    func(r *coordinator.SignOffRequest) { r.Round = nil },
		"closed round":        func(r *coordinator.SignOffRequest) { r.Round.EndedAt = time.Unix(150, 0) },
		"board count unset":   func(r *coordinator.SignOffRequest) { r.AuditBoards = 0 },
		"not in a round":      func(r *coordinator.SignOffRequest) { r.State = coordinator.CountyRoundSignedOff },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			a := met(audit(1, 1))
			req := request(a)
			mutate(&req)
			decision, err := coordinator.DecideSignOff(req)
			if !errors.Is(err, services.ErrInvariant) {
				t.Fatalf("err = %v, want invariant", err)
			}
			if decision.Closed || decision.Effects != nil {
				t.Fatalf("rejected sign-off produced %+v", decision)
			}
			if a.Status != ledger.StatusInProgress {
				t.Fatalf("input audit mutated to %s", a.Status)
			}
			if req.Round != nil && len(req.Round.Signatories) != 0 {
				t.Fatal("input round mutated")
			}
		})
	}
}

func TestSignOffRejectsBoardOutOfRange(t *testing.T) {
	req := request(audit(1, 1))
	req.BoardIndex = 3
	if _, err := coordinator.DecideSignOff(req); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestSignOffWaitsForEveryBoard(t *testing.T) {
	req := request(met(audit(1, 1)))
	req.AuditBoards = 3
	req.Round.Sign(1, []string{"Lin", "Mo"})

	decision, err := coordinator.DecideSignOff(req)
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.Closed || !decision.Round.Open() {
		t.Fatal("round must stay open with two of three boards signed")
	}
	if decision.State != coordinator.CountyRoundInProgress {
		t.Fatalf("state = %s", decision.State)
	}
	if len(decision.Effects) != 0 || len(decision.Audits) != 0 {
		t.Fatalf("unexpected effects %v audits %d", decision.Effects, len(decision.Audits))
	}
	if got := decision.Round.SignedBoards(2); got != 2 {
		t.Fatalf("signed boards = %d, want 2", got)
	}
}

func TestSignOffUndersizedBoardDoesNotCount(t *testing.T) {
	req := request(met(audit(1, 1)))
	req.AuditBoards = 2
	req.Round.Sign(1, []string{"Lin"})

	decision, err := coordinator.DecideSignOff(req)
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.Closed {
		t.Fatal("a board below the member minimum must not close the round")
	}
}

func TestSignOffRiskMetCompletesCounty(t *testing.T) {
	decision, err := coordinator.DecideSignOff(request(met(audit(1, 1))))
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if !decision.Closed || decision.Branch != coordinator.BranchRiskMet {
		t.Fatalf("closed=%v branch=%s", decision.Closed, decision.Branch)
	}
	if decision.State != coordinator.CountyAuditComplete {
		t.Fatalf("state = %s, want AUDIT_COMPLETE", decision.State)
	}
	if len(decision.Audits) != 1 || decision.Audits[0].Status != ledger.StatusRiskLimitAchieved {
		t.Fatalf("audits = %+v", decision.Audits)
	}
	if decision.Round.EndedAt != time.Unix(200, 0) {
		t.Fatalf("ended at %v", decision.Round.EndedAt)
	}
	want := []coordinator.Effect{coordinator.EffectRoundClosed, coordinator.EffectStateScanRequired, coordinator.EffectCountyComplete}
	if len(decision.Effects) != len(want) {
		t.Fatalf("effects = %v, want %v", decision.Effects, want)
	}
	for i := range want {
		if decision.Effects[i] != want[i] {
			t.Fatalf("effects = %v, want %v", decision.Effects, want)
		}
	}
}

func TestSignOffOpportunisticAuditDoesNotBlock(t *testing.T) {
	opportunistic := audit(2, 1)
	opportunistic.Targeted = false
	opportunistic.Reason = ledger.ReasonOpportunistic

	decision, err := coordinator.DecideSignOff(request(met(audit(1, 1)), opportunistic))
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.State != coordinator.CountyAuditComplete {
		t.Fatalf("state = %s, want AUDIT_COMPLETE", decision.State)
	}
	if len(decision.Audits) != 2 || decision.Audits[1].Status != ledger.StatusEnded {
		t.Fatalf("opportunistic audit not ended: %+v", decision.Audits)
	}
}

func TestSignOffBallotsExhaustedOrdersHandCount(t *testing.T) {
	req := request(audit(1, 1))
	req.CVRsImported = 10
	req.BallotsAudited = 10

	decision, err := coordinator.DecideSignOff(req)
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.Branch != coordinator.BranchBallotsExhaust {
		t.Fatalf("branch = %s", decision.Branch)
	}
	if decision.State != coordinator.CountyHandCount {
		t.Fatalf("state = %s, want HAND_COUNT", decision.State)
	}
	if decision.Audits[0].Status != ledger.StatusHandCount {
		t.Fatalf("audit status = %s", decision.Audits[0].Status)
	}
}

func TestSignOffSimplyClosesRound(t *testing.T) {
	decision, err := coordinator.DecideSignOff(request(audit(1, 1)))
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.Branch != coordinator.BranchRoundClosed || !decision.Closed {
		t.Fatalf("branch = %s closed = %v", decision.Branch, decision.Closed)
	}
	if decision.State != coordinator.CountyRoundSignedOff {
		t.Fatalf("state = %s", decision.State)
	}
	if len(decision.Audits) != 0 {
		t.Fatal("no audit may change on a plain close")
	}
}

func TestSignOffSharedAuditWaitsForPeers(t *testing.T) {
	shared := met(audit(1, 1, 2))
	req := request(shared)
	req.Peers = map[int64]coordinator.CountyState{2: coordinator.CountyRoundInProgress}

	decision, err := coordinator.DecideSignOff(req)
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.State != coordinator.CountyRoundSignedOff {
		t.Fatalf("state = %s, want ROUND_SIGNED_OFF while a peer audits", decision.State)
	}
	if len(decision.Audits) != 0 {
		t.Fatal("shared audit must not be ended by one county")
	}

	req.Peers[2] = coordinator.CountyRoundSignedOff
	decision, err = coordinator.DecideSignOff(req)
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.State != coordinator.CountyAuditComplete {
		t.Fatalf("state = %s, want AUDIT_COMPLETE once peers signed off", decision.State)
	}
}

func TestReduceStateSharedAuditConservative(t *testing.T) {
	shared := met(audit(1, 1, 2))
	snap := coordinator.Snapshot{
		State: coordinator.StateAuditOngoing,
		Counties: map[int64]coordinator.CountyState{
			1: coordinator.CountyRoundSignedOff,
			2: coordinator.CountyRoundInProgress,
		},
		Audits: []*ledger.ComparisonAudit{shared},
	}

	out := coordinator.ReduceState(snap)
	if len(out.Audits) != 0 {
		t.Fatal("shared audit achieved while a county still has an open round")
	}
	if out.State != coordinator.StateAuditOngoing || out.RoundComplete {
		t.Fatalf("state = %s", out.State)
	}
	if len(out.Counties) != 0 {
		t.Fatalf("counties changed: %v", out.Counties)
	}

	snap.Counties[2] = coordinator.CountyRoundSignedOff
	out = coordinator.ReduceState(snap)
	if len(out.Audits) != 1 || out.Audits[0].Status != ledger.StatusRiskLimitAchieved {
		t.Fatalf("audits = %+v", out.Audits)
	}
	if out.Counties[1] != coordinator.CountyAuditComplete || out.Counties[2] != coordinator.CountyAuditComplete {
		t.Fatalf("counties = %v", out.Counties)
	}
	if out.State != coordinator.StateAuditComplete || !out.AuditComplete {
		t.Fatalf("state = %s", out.State)
	}
	if shared.Status != ledger.StatusInProgress {
		t.Fatal("snapshot audit mutated")
	}
}

func TestReduceStateUnmetSharedAuditStaysOpen(t *testing.T) {
	shared := audit(1, 1, 2)
	local := met(audit(2, 3))
	local.Status = ledger.StatusRiskLimitAchieved
	snap := coordinator.Snapshot{
		State: coordinator.StateAuditOngoing,
		Counties: map[int64]coordinator.CountyState{
			1: coordinator.CountyRoundSignedOff,
			2: coordinator.CountyRoundSignedOff,
			3: coordinator.CountyRoundSignedOff,
		},
		Audits: []*ledger.ComparisonAudit{shared, local},
	}

	out := coordinator.ReduceState(snap)
	if out.State != coordinator.StateRoundComplete || !out.RoundComplete {
		t.Fatalf("state = %s, want round complete", out.State)
	}
	if out.Counties[3] != coordinator.CountyAuditComplete {
		t.Fatalf("county 3 = %s, want AUDIT_COMPLETE", out.Counties[3])
	}
	if _, ok := out.Counties[1]; ok {
		t.Fatal("county 1 must stay signed off while its shared audit is unmet")
	}
	if out.AuditComplete {
		t.Fatal("state audit complete with an unmet shared contest")
	}
}

func TestReduceStateIgnoresInactiveAudit(t *testing.T) {
	out := coordinator.ReduceState(coordinator.Snapshot{
		State:    coordinator.StateAuditReady,
		Counties: map[int64]coordinator.CountyState{1: coordinator.CountyImported},
	})
	if out.Changed(coordinator.StateAuditReady) {
		t.Fatalf("reduction changed an audit that has not started: %+v", out)
	}
}

func TestReduceStateWaitsForCountyThatNeverStarted(t *testing.T) {
	done := met(audit(1, 1))
	done.Status = ledger.StatusRiskLimitAchieved
	pending := audit(2, 2)
	pending.Status = ledger.StatusNotStarted
	snap := coordinator.Snapshot{
		State: coordinator.StateAuditOngoing,
		Counties: map[int64]coordinator.CountyState{
			1: coordinator.CountyAuditComplete,
			2: coordinator.CountyImported,
		},
		Audits: []*ledger.ComparisonAudit{done, pending},
	}

	out := coordinator.ReduceState(snap)
	if out.AuditComplete || out.State == coordinator.StateAuditComplete {
		t.Fatalf("state = %s while county 2 has not audited", out.State)
	}
	if len(out.Audits) != 0 {
		t.Fatalf("audits changed: %+v", out.Audits)
	}
	if !out.RoundComplete {
		t.Fatal("expected the state round to complete")
	}
}

func TestReduceStateSharedAuditWaitsForUnstartedPeer(t *testing.T) {
	shared := met(audit(1, 1, 2))
	snap := coordinator.Snapshot{
		State: coordinator.StateAuditOngoing,
		Counties: map[int64]coordinator.CountyState{
			1: coordinator.CountyRoundSignedOff,
			2: coordinator.CountyImported,
		},
		Audits: []*ledger.ComparisonAudit{shared},
	}

	out := coordinator.ReduceState(snap)
	if len(out.Audits) != 0 {
		t.Fatalf("shared audit achieved before county 2 drew a ballot: %+v", out.Audits)
	}
	if out.AuditComplete {
		t.Fatal("state audit complete with an unstarted participant")
	}
}

func TestSignOffSharedAuditWaitsForUnstartedPeer(t *testing.T) {
	req := request(met(audit(1, 1, 2)))
	req.Peers = map[int64]coordinator.CountyState{2: coordinator.CountyImported}

	decision, err := coordinator.DecideSignOff(req)
	if err != nil {
		t.Fatalf("DecideSignOff: %v", err)
	}
	if decision.State != coordinator.CountyRoundSignedOff {
		t.Fatalf("state = %s, want ROUND_SIGNED_OFF until county 2 audits", decision.State)
	}
}
