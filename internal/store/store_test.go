package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/ledger"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
	"riskaudit/internal/testsupport"
)

var mayor = ballot.Contest{Name: "Mayor", Choices: []string{"Alice", "Bob"}, VotesAllowed: 1}

func seed(t *testing.T, st *store.Store, name string, n int) store.County {
	t.Helper()
	ballots := testsupport.Ballots(1, "A", n, mayor.Name, func(i int) []string {
		if i%10 == 0 {
			return []string{"Bob"}
		}
		return []string{"Alice"}
	})
	return testsupport.SeedCounty(t, st, name, 1, []ballot.Contest{mayor}, ballots, []ballot.ManifestBatch{{ScannerID: 1, BatchID: "A", Count: n}})
}

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	version, err := st.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 2 {
		t.Fatalf("schema version = %d, want 2", version)
	}
	state, _, err := st.StateState(ctx)
	if err != nil {
		t.Fatalf("StateState: %v", err)
	}
	if state != coordinator.StateInitial {
		t.Fatalf("state = %s, want initial", state)
	}

	health, err := st.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if _, err := st.CreateCounty(ctx, "Adams", 2); err != nil {
		t.Fatalf("CreateCounty: %v", err)
	}
	st.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	county, err := reopened.CountyByName(ctx, "adams")
	if err != nil {
		t.Fatalf("CountyByName: %v", err)
	}
	if county.AuditBoards != 2 || county.State != coordinator.CountyNotStarted {
		t.Fatalf("unexpected county %+v", county)
	}
}

func TestCountyNotFound(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := st.County(context.Background(), 42)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := st.SetCountyState(context.Background(), 42, coordinator.CountyImported); !store.IsNotFound(err) {
		t.Fatalf("SetCountyState err = %v, want not found", err)
	}
}

func TestSeededCountyIsReady(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	county := seed(t, st, "Boulder", 20)
	ctx := context.Background()

	if county.State != coordinator.CountyImported || county.CVRsImported != 20 || county.BallotsInManifest != 20 {
		t.Fatalf("unexpected county %+v", county)
	}
	ready, err := st.CountyReady(ctx, county.ID)
	if err != nil || !ready {
		t.Fatalf("CountyReady = %v, %v", ready, err)
	}

	contest, err := st.ContestByName(ctx, mayor.Name)
	if err != nil {
		t.Fatalf("ContestByName: %v", err)
	}
	votes, err := st.UploadedVotes(ctx, contest)
	if err != nil {
		t.Fatalf("UploadedVotes: %v", err)
	}
	result := ballot.Tally(contest, []int64{county.ID}, votes)
	if result.Tallies["Alice"] != 18 || result.Tallies["Bob"] != 2 {
		t.Fatalf("tallies = %v", result.Tallies)
	}
	counties, err := st.ContestCounties(ctx, contest.ID)
	if err != nil || len(counties) != 1 || counties[0] != county.ID {
		t.Fatalf("ContestCounties = %v, %v", counties, err)
	}
}

func TestEnsureContestMergesChoices(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, err := st.EnsureContest(ctx, mayor)
	if err != nil {
		t.Fatalf("EnsureContest: %v", err)
	}
	merged, err := st.EnsureContest(ctx, ballot.Contest{Name: "Mayor", Choices: []string{"Bob", "Carol"}, VotesAllowed: 1})
	if err != nil {
		t.Fatalf("EnsureContest: %v", err)
	}
	if merged.ID != first.ID || len(merged.Choices) != 3 || merged.Choices[2] != "Carol" {
		t.Fatalf("merged = %+v", merged)
	}
	if _, err := st.EnsureContest(ctx, ballot.Contest{Name: "Mayor", Choices: []string{"Alice"}, VotesAllowed: 2}); !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("conflicting votes allowed: err = %v", err)
	}
}

func TestEnsurePhantomIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	county := seed(t, st, "Chaffee", 5)
	ctx := context.Background()
	key := ballot.Key{CountyID: county.ID, ScannerID: 9, BatchID: "Z", Position: 3}

	first, err := st.EnsurePhantom(ctx, key)
	if err != nil {
		t.Fatalf("EnsurePhantom: %v", err)
	}
	second, err := st.EnsurePhantom(ctx, key)
	if err != nil {
		t.Fatalf("EnsurePhantom: %v", err)
	}
	if first.ID != second.ID || first.ImprintedID != "9-Z-3" {
		t.Fatalf("phantoms differ: %+v vs %+v", first, second)
	}
	if first.Type != ballot.RecordPhantom || first.BallotType != ballot.PhantomBallotType || first.CVRNumber != 0 {
		t.Fatalf("unexpected phantom %+v", first)
	}

	found, err := st.RecordsByKeys(ctx, []ballot.Key{key})
	if err != nil || found[key].ID != first.ID {
		t.Fatalf("RecordsByKeys = %+v, %v", found, err)
	}
}

func TestRecordsByKeysPrefersUploaded(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	county := seed(t, st, "Delta", 5)
	ctx := context.Background()

	keys := []ballot.Key{
		{CountyID: county.ID, ScannerID: 1, BatchID: "A", Position: 2},
		{CountyID: county.ID, ScannerID: 1, BatchID: "A", Position: 99},
	}
	found, err := st.RecordsByKeys(ctx, keys)
	if err != nil {
		t.Fatalf("RecordsByKeys: %v", err)
	}
	rec, ok := found[keys[0]]
	if !ok || rec.Type != ballot.RecordUploaded || !rec.HasContest(mayor.Name) {
		t.Fatalf("uploaded record = %+v", rec)
	}
	if _, ok := found[keys[1]]; ok {
		t.Fatal("missing key must be absent")
	}
}

func TestACVRSupersedeRevisions(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	county := seed(t, st, "Eagle", 5)
	ctx := context.Background()
	contest, err := st.ContestByName(ctx, mayor.Name)
	if err != nil {
		t.Fatalf("ContestByName: %v", err)
	}
	cvrKey := ballot.Key{CountyID: county.ID, ScannerID: 1, BatchID: "A", Position: 2}
	byKey, err := st.RecordsByKeys(ctx, []ballot.Key{cvrKey})
	if err != nil {
		t.Fatalf("RecordsByKeys: %v", err)
	}
	cvr := byKey[cvrKey]

	submit := func() ballot.Record {
		info, err := ballot.NewContestInfo(contest, []string{"Alice"}, ballot.ConsensusYes, "")
		if err != nil {
			t.Fatalf("NewContestInfo: %v", err)
		}
		acvr := cvr
		acvr.ID = 0
		acvr.Type = ballot.RecordAuditorEntered
		acvr.CVRID = cvr.ID
		acvr.Contests = []ballot.ContestInfo{info}
		acvr.Timestamp = time.Now()
		stored, err := st.InsertACVR(ctx, acvr)
		if err != nil {
			t.Fatalf("InsertACVR: %v", err)
		}
		return stored
	}

	first := submit()
	if _, err := st.InsertACVR(ctx, first); err == nil {
		t.Fatal("a second current ACVR for one CVR must be rejected")
	}
	old, err := st.SupersedeACVR(ctx, first.ID, "wrong ballot")
	if err != nil {
		t.Fatalf("SupersedeACVR: %v", err)
	}
	if old.Type != ballot.RecordReaudited || old.Revision != 1 || old.ReauditComment != "wrong ballot" {
		t.Fatalf("superseded = %+v", old)
	}
	second := submit()
	again, err := st.SupersedeACVR(ctx, second.ID, "")
	if err != nil {
		t.Fatalf("SupersedeACVR: %v", err)
	}
	if again.Revision != 2 {
		t.Fatalf("revision = %d, want 2", again.Revision)
	}
	if _, ok, err := st.CurrentACVR(ctx, cvr.ID); err != nil || ok {
		t.Fatalf("CurrentACVR ok=%v err=%v, want none", ok, err)
	}

	all, err := st.AuditRecords(ctx, []int64{cvr.ID})
	if err != nil {
		t.Fatalf("AuditRecords: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("audit records = %d, want 2", len(all))
	}
}

func TestAuditPersistenceAndDiscrepancyCache(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	county := seed(t, st, "Fremont", 10)
	ctx := context.Background()
	contest, err := st.ContestByName(ctx, mayor.Name)
	if err != nil {
		t.Fatalf("ContestByName: %v", err)
	}
	votes, err := st.UploadedVotes(ctx, contest)
	if err != nil {
		t.Fatalf("UploadedVotes: %v", err)
	}
	result := ballot.Tally(contest, []int64{county.ID}, votes)
	audit := ledger.New(contest, result, ledger.ReasonCountyWide, true, decimal.RequireFromString("0.05"), 1.03905)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertAudit(ctx, audit); err != nil {
			return err
		}
		audit.AddSample(votes[0].ID, 2)
		audit.Record(1, 2, true)
		if err := tx.AddSample(ctx, audit.ID, votes[0].ID, 2); err != nil {
			return err
		}
		if err := tx.SetDiscrepancy(ctx, audit.ID, votes[0].ID, 1, true); err != nil {
			return err
		}
		return tx.SaveAudit(ctx, audit)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	loaded, err := st.AuditByContest(ctx, mayor.Name)
	if err != nil {
		t.Fatalf("AuditByContest: %v", err)
	}
	if loaded.Status != ledger.StatusInProgress || loaded.AuditedSamples != 2 || loaded.Counts.OneOver != 2 || loaded.Disagreements != 2 {
		t.Fatalf("loaded audit = %+v", loaded)
	}
	if !loaded.RiskLimit.Equal(decimal.RequireFromString("0.05")) || loaded.Multiplicity(votes[0].ID) != 2 {
		t.Fatalf("loaded audit = %+v", loaded)
	}
	if !loaded.Covers(county.ID) || loaded.Result.Tallies["Alice"] != 9 {
		t.Fatalf("loaded result = %+v", loaded.Result)
	}

	value, ok, err := st.CachedDiscrepancy(ctx, mayor.Name, votes[0].ID)
	if err != nil || !ok || value != 1 {
		t.Fatalf("CachedDiscrepancy = %d, %v, %v", value, ok, err)
	}
	if _, ok, _ := st.CachedDiscrepancy(ctx, mayor.Name, votes[1].ID); ok {
		t.Fatal("unaudited ballot must have no cached discrepancy")
	}

	forCounty, err := st.AuditsForCounty(ctx, county.ID)
	if err != nil || len(forCounty) != 1 {
		t.Fatalf("AuditsForCounty = %d, %v", len(forCounty), err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.CreateCounty(ctx, "Gilpin", 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := st.CountyByName(ctx, "Gilpin"); !store.IsNotFound(err) {
		t.Fatalf("county survived rollback: %v", err)
	}
}

func TestRoundsAndSignatories(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	county := seed(t, st, "Huerfano", 5)
	ctx := context.Background()

	round := coordinator.Round{CountyID: county.ID, Number: 1, StartedAt: time.Now(), ExpectedCount: 3}
	if err := st.InsertRound(ctx, &round); err != nil {
		t.Fatalf("InsertRound: %v", err)
	}
	round.Sign(0, []string{"Ada", "Grace"})
	round.EndedAt = time.Now()
	if err := st.SaveRound(ctx, round); err != nil {
		t.Fatalf("SaveRound: %v", err)
	}

	current, ok, err := st.CurrentRound(ctx, county.ID)
	if err != nil || !ok {
		t.Fatalf("CurrentRound ok=%v err=%v", ok, err)
	}
	if current.Open() || current.SignedBoards(2) != 1 || current.Signatories[0][1] != "Grace" {
		t.Fatalf("current round = %+v", current)
	}
}

func TestResetAuditDataKeepsUploads(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	county := seed(t, st, "Jackson", 5)
	ctx := context.Background()

	phantom, err := st.EnsurePhantom(ctx, ballot.Key{CountyID: county.ID, ScannerID: 2, BatchID: "B", Position: 1})
	if err != nil {
		t.Fatalf("EnsurePhantom: %v", err)
	}
	err = st.InsertDrawnBallots(ctx, 1, []store.DrawnBallot{{Tribute: ballot.Tribute{Key: phantom.Key, ContestName: mayor.Name}, CVRID: phantom.ID}})
	if err != nil {
		t.Fatalf("InsertDrawnBallots: %v", err)
	}

	if err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.ResetAuditData(ctx) }); err != nil {
		t.Fatalf("ResetAuditData: %v", err)
	}
	if _, err := st.RecordByID(ctx, phantom.ID); !store.IsNotFound(err) {
		t.Fatalf("phantom survived reset: %v", err)
	}
	uploaded, err := st.CountUploaded(ctx, county.ID)
	if err != nil || uploaded != 5 {
		t.Fatalf("CountUploaded = %d, %v", uploaded, err)
	}
	drawn, err := st.DrawnBallots(ctx, county.ID, 0)
	if err != nil || len(drawn) != 0 {
		t.Fatalf("DrawnBallots = %d, %v", len(drawn), err)
	}
}
