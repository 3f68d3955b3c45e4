package testsupport

import (
	"context"
	"fmt"
	"testing"

	"riskaudit/internal/ballot"
	"riskaudit/internal/config"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// Ballot describes one uploaded CVR to seed.
type Ballot struct {
	ScannerID int
	BatchID   string
	Position  int
	// Votes maps contest name to the choices marked.
	Votes map[string][]string
}

// Ballots builds count ballots in one scanner batch at positions 1..count,
// voting for choice(i) in contest.
func Ballots(scannerID int, batchID string, count int, contest string, choice func(i int) []string) []Ballot {
	out := make([]Ballot, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Ballot{
			ScannerID: scannerID,
			BatchID:   batchID,
			Position:  i + 1,
			Votes:     map[string][]string{contest: choice(i)},
		})
	}
	return out
}

// SeedCounty creates a county with imported CVRs and a manifest covering
// manifest batches, leaving the county IMPORTED.
func SeedCounty(t testing.TB, st *store.Store, name string, boards int, contests []ballot.Contest, ballots []Ballot, manifest []ballot.ManifestBatch) store.County {
	t.Helper()
	ctx := context.Background()

	var county store.County
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		county, err = tx.CreateCounty(ctx, name, boards)
		if err != nil {
			return err
		}
		declared := make(map[string]ballot.Contest, len(contests))
		for _, c := range contests {
			stored, err := tx.EnsureContest(ctx, c)
			if err != nil {
				return err
			}
			declared[c.Name] = stored
		}

		records := make([]ballot.Record, 0, len(ballots))
		for i, b := range ballots {
			key := ballot.Key{CountyID: county.ID, ScannerID: b.ScannerID, BatchID: b.BatchID, Position: b.Position}
			rec := ballot.Record{
				Type:           ballot.RecordUploaded,
				Key:            key,
				ImprintedID:    key.ImprintedID(),
				CVRNumber:      i + 1,
				SequenceNumber: i + 1,
				BallotType:     "Ballot 1",
			}
			for contestName, choices := range b.Votes {
				c, ok := declared[contestName]
				if !ok {
					return fmt.Errorf("contest %q not declared", contestName)
				}
				info, err := ballot.NewContestInfo(c, choices, ballot.ConsensusYes, "")
				if err != nil {
					return err
				}
				rec.Contests = append(rec.Contests, info)
			}
			records = append(records, rec)
		}
		if _, err := tx.InsertRecords(ctx, records, "seed"); err != nil {
			return err
		}

		batches := make([]ballot.ManifestBatch, len(manifest))
		copy(batches, manifest)
		total := 0
		for i := range batches {
			batches[i].CountyID = county.ID
			total += batches[i].Count
		}
		ballot.AssignSequences(batches, 1)
		if err := tx.InsertManifestBatches(ctx, batches, "seed"); err != nil {
			return err
		}

		for _, kind := range []store.FileKind{store.FileCVR, store.FileManifest} {
			file, err := tx.CreateUploadedFile(ctx, county.ID, kind, fmt.Sprintf("%s-%s", name, kind), "00ff")
			if err != nil {
				return err
			}
			if err := tx.SetFileStatus(ctx, file.ID, store.FileImported, "seeded"); err != nil {
				return err
			}
		}
		if err := tx.SetCVRsImported(ctx, county.ID, len(records)); err != nil {
			return err
		}
		if err := tx.SetBallotsInManifest(ctx, county.ID, total); err != nil {
			return err
		}
		if err := tx.SetImportStatus(ctx, county.ID, store.ImportSuccessful, ""); err != nil {
			return err
		}
		return tx.SetCountyState(ctx, county.ID, coordinator.CountyImported)
	})
	if err != nil {
		t.Fatalf("seed county %s: %v", name, err)
	}

	county, err = st.County(ctx, county.ID)
	if err != nil {
		t.Fatalf("load county %s: %v", name, err)
	}
	return county
}
