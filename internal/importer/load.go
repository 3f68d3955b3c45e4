package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"riskaudit/internal/ballot"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

func (i *Importer) loadCVRs(ctx context.Context, task *Task, src Source) (int, error) {
	if _, err := i.store.DeleteUploadedRecords(ctx, task.CountyID, ""); err != nil {
		return 0, services.Wrap(services.ErrTransient, "importer", "clear CVRs", "", err)
	}

	declared := make(map[string]ballot.Contest)
	err := i.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, contest := range src.Contests() {
			stored, err := tx.EnsureContest(ctx, contest)
			if err != nil {
				return err
			}
			declared[stored.Name] = stored
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	batch := make([]ballot.Record, 0, i.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := i.store.WithTx(ctx, func(tx *store.Tx) error {
			_, err := tx.InsertRecords(ctx, batch, task.ImportID)
			return err
		})
		if err != nil {
			return services.Wrap(services.ErrTransient, "importer", "commit CVRs", fmt.Sprintf("through row %d", count), err)
		}
		i.logger.Debug("committed CVR batch",
			logging.String(logging.FieldImportID, task.ImportID),
			logging.Int("rows", len(batch)),
			logging.Int("total", count),
		)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, err
		}
		rec, err := recordFromRow(task.CountyID, row, count+1, declared)
		if err != nil {
			return count, err
		}
		batch = append(batch, rec)
		count++
		if len(batch) >= i.batchSize {
			if err := flush(); err != nil {
				return count, err
			}
		}
	}
	if err := flush(); err != nil {
		return count, err
	}
	return count, nil
}

// recordFromRow validates a CVR row against the declared contests.
func recordFromRow(countyID int64, row CVRRow, sequence int, declared map[string]ballot.Contest) (ballot.Record, error) {
	if row.ScannerID < 0 || strings.TrimSpace(row.BatchID) == "" || row.Position < 1 {
		return ballot.Record{}, services.Wrap(services.ErrValidation, "importer", "parse CVR", fmt.Sprintf("row %d has an incomplete ballot position", sequence), nil)
	}
	key := ballot.Key{CountyID: countyID, ScannerID: row.ScannerID, BatchID: strings.TrimSpace(row.BatchID), Position: row.Position}
	imprinted := strings.TrimSpace(row.ImprintedID)
	if imprinted == "" {
		imprinted = key.ImprintedID()
	}
	rec := ballot.Record{
		Type:           ballot.RecordUploaded,
		Key:            key,
		ImprintedID:    imprinted,
		CVRNumber:      row.CVRNumber,
		SequenceNumber: sequence,
		BallotType:     row.BallotType,
	}
	for name, choices := range row.Votes {
		contest, ok := declared[name]
		if !ok {
			return ballot.Record{}, services.Wrap(services.ErrValidation, "importer", "parse CVR", fmt.Sprintf("row %d votes in undeclared contest %q", sequence, name), nil)
		}
		info, err := ballot.NewContestInfo(contest, choices, ballot.ConsensusYes, "")
		if err != nil {
			return ballot.Record{}, err
		}
		rec.Contests = append(rec.Contests, info)
	}
	return rec, nil
}

func (i *Importer) loadManifest(ctx context.Context, task *Task, src ManifestSource) (int, int, error) {
	if _, err := i.store.DeleteManifest(ctx, task.CountyID, ""); err != nil {
		return 0, 0, services.Wrap(services.ErrTransient, "importer", "clear manifest", "", err)
	}

	rows, ballots, next := 0, 0, 1
	batch := make([]ballot.ManifestBatch, 0, i.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		next = ballot.AssignSequences(batch, next)
		err := i.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.InsertManifestBatches(ctx, batch, task.ImportID)
		})
		if err != nil {
			return services.Wrap(services.ErrTransient, "importer", "commit manifest", fmt.Sprintf("through row %d", rows), err)
		}
		batch = batch[:0]
		return nil
	}

	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, ballots, err
		}
		rows++
		if strings.TrimSpace(row.BatchID) == "" || row.Count < 1 {
			return rows, ballots, services.Wrap(services.ErrValidation, "importer", "parse manifest", fmt.Sprintf("row %d needs a batch id and a positive count", rows), nil)
		}
		batch = append(batch, ballot.ManifestBatch{
			CountyID:  task.CountyID,
			ScannerID: row.ScannerID,
			BatchID:   strings.TrimSpace(row.BatchID),
			Count:     row.Count,
			Location:  row.Location,
		})
		ballots += row.Count
		if len(batch) >= i.batchSize {
			if err := flush(); err != nil {
				return rows, ballots, err
			}
		}
	}
	if err := flush(); err != nil {
		return rows, ballots, err
	}
	return rows, ballots, nil
}
