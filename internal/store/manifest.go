package store

import (
	"context"
	"database/sql"
	"fmt"

	"riskaudit/internal/ballot"
)

// InsertManifestBatches stores manifest rows for one import run.
func (q *queries) InsertManifestBatches(ctx context.Context, batches []ballot.ManifestBatch, importID string) error {
	for _, batch := range batches {
		if _, err := q.exec(
			ctx,
			`INSERT INTO ballot_manifest (
                county_id, scanner_id, batch_id, ballot_count, storage_location,
                sequence_start, sequence_end, import_id
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.CountyID, batch.ScannerID, batch.BatchID, batch.Count, nullableString(batch.Location),
			batch.SequenceStart, batch.SequenceEnd, nullableString(importID),
		); err != nil {
			return fmt.Errorf("insert manifest batch %d/%s: %w", batch.ScannerID, batch.BatchID, err)
		}
	}
	return nil
}

// ManifestBatches lists the county's manifest in sequence order.
func (q *queries) ManifestBatches(ctx context.Context, countyID int64) ([]ballot.ManifestBatch, error) {
	rows, err := q.query(
		ctx,
		`SELECT county_id, scanner_id, batch_id, ballot_count, storage_location, sequence_start, sequence_end
         FROM ballot_manifest WHERE county_id = ? ORDER BY sequence_start`,
		countyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list manifest: %w", err)
	}
	defer rows.Close()

	var batches []ballot.ManifestBatch
	for rows.Next() {
		var (
			batch    ballot.ManifestBatch
			location sql.NullString
		)
		if err := rows.Scan(&batch.CountyID, &batch.ScannerID, &batch.BatchID, &batch.Count, &location, &batch.SequenceStart, &batch.SequenceEnd); err != nil {
			return nil, err
		}
		batch.Location = location.String
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// ManifestTotal sums the county's manifest ballot counts.
func (q *queries) ManifestTotal(ctx context.Context, countyID int64) (int, error) {
	var total int
	if err := q.queryRow(ctx, `SELECT COALESCE(SUM(ballot_count), 0) FROM ballot_manifest WHERE county_id = ?`, countyID).Scan(&total); err != nil {
		return 0, fmt.Errorf("manifest total: %w", err)
	}
	return total, nil
}

// DeleteManifest removes the county's manifest rows, or only those written by
// importID when it is set.
func (q *queries) DeleteManifest(ctx context.Context, countyID int64, importID string) (int64, error) {
	query := `DELETE FROM ballot_manifest WHERE county_id = ?`
	args := []any{countyID}
	if importID != "" {
		query += ` AND import_id = ?`
		args = append(args, importID)
	}
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete manifest: %w", err)
	}
	return res.RowsAffected()
}
