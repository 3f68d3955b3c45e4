package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"riskaudit/internal/ballot"
	"riskaudit/internal/services"
)

var recordColumnNames = []string{
	"id", "record_type", "county_id", "scanner_id", "batch_id", "record_id", "imprinted_id",
	"cvr_number", "sequence_number", "ballot_type", "cvr_id", "revision", "round_number",
	"audit_board_index", "ballot_not_found", "reaudit_comment", "created_at",
}

var recordColumns = strings.Join(recordColumnNames, ", ")

func prefixedRecordColumns(alias string) string {
	cols := make([]string, len(recordColumnNames))
	for i, name := range recordColumnNames {
		cols[i] = alias + "." + name
	}
	return strings.Join(cols, ", ")
}

// contestInfoChunk bounds the number of ids bound into one IN clause.
const contestInfoChunk = 500

func scanRecord(row scanner, extra ...any) (ballot.Record, error) {
	var (
		rec            ballot.Record
		recordType     string
		cvrID          sql.NullInt64
		missing        int
		reauditComment sql.NullString
		createdRaw     sql.NullString
	)
	dest := []any{
		&rec.ID, &recordType, &rec.Key.CountyID, &rec.Key.ScannerID, &rec.Key.BatchID, &rec.Key.Position,
		&rec.ImprintedID, &rec.CVRNumber, &rec.SequenceNumber, &rec.BallotType, &cvrID, &rec.Revision,
		&rec.RoundNumber, &rec.AuditBoardIndex, &missing, &reauditComment, &createdRaw,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return ballot.Record{}, err
	}
	parsed, err := ballot.ParseRecordType(recordType)
	if err != nil {
		return ballot.Record{}, err
	}
	rec.Type = parsed
	rec.CVRID = cvrID.Int64
	rec.BallotNotFound = missing != 0
	rec.ReauditComment = reauditComment.String
	rec.Timestamp = parseTime(createdRaw)
	return rec, nil
}

func contestInfoFromRow(contest, choices, consensus string, comment sql.NullString) (ballot.ContestInfo, error) {
	decoded, err := decodeStrings(choices)
	if err != nil {
		return ballot.ContestInfo{}, err
	}
	parsed, err := ballot.ParseConsensus(consensus)
	if err != nil {
		return ballot.ContestInfo{}, err
	}
	return ballot.ContestInfo{Contest: contest, Choices: decoded, Consensus: parsed, Comment: comment.String}, nil
}

func (q *queries) scanRecords(ctx context.Context, rows *sql.Rows) ([]ballot.Record, error) {
	defer rows.Close()
	var records []ballot.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if err := q.attachContestInfo(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// attachContestInfo loads vote info for records in place.
func (q *queries) attachContestInfo(ctx context.Context, records []ballot.Record) error {
	if len(records) == 0 {
		return nil
	}
	index := make(map[int64]int, len(records))
	for i, rec := range records {
		index[rec.ID] = i
	}
	for start := 0; start < len(records); start += contestInfoChunk {
		end := min(start+contestInfoChunk, len(records))
		args := make([]any, 0, end-start)
		for _, rec := range records[start:end] {
			args = append(args, rec.ID)
		}
		rows, err := q.query(
			ctx,
			`SELECT ci.record_id, c.name, ci.choices_json, ci.consensus, ci.comment
             FROM cvr_contest_info ci JOIN contests c ON c.id = ci.contest_id
             WHERE ci.record_id IN (`+makePlaceholders(len(args))+`)
             ORDER BY ci.record_id, ci.position`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("load contest info: %w", err)
		}
		for rows.Next() {
			var (
				recordID  int64
				contest   string
				choices   string
				consensus string
				comment   sql.NullString
			)
			if err := rows.Scan(&recordID, &contest, &choices, &consensus, &comment); err != nil {
				rows.Close()
				return err
			}
			info, err := contestInfoFromRow(contest, choices, consensus, comment)
			if err != nil {
				rows.Close()
				return err
			}
			i := index[recordID]
			records[i].Contests = append(records[i].Contests, info)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertRecords stores records with their vote info. Contest names must
// already be declared.
func (q *queries) InsertRecords(ctx context.Context, records []ballot.Record, importID string) ([]int64, error) {
	contestIDs := make(map[string]int64)
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		id, err := q.insertRecord(ctx, rec, importID, contestIDs)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *queries) insertRecord(ctx context.Context, rec ballot.Record, importID string, contestIDs map[string]int64) (int64, error) {
	var cvrID any
	if rec.CVRID != 0 {
		cvrID = rec.CVRID
	}
	imprinted := rec.ImprintedID
	if imprinted == "" {
		imprinted = rec.Key.ImprintedID()
	}
	created := nowString()
	if !rec.Timestamp.IsZero() {
		created = formatTime(rec.Timestamp)
	}
	res, err := q.exec(
		ctx,
		`INSERT INTO cast_vote_records (
            record_type, county_id, scanner_id, batch_id, record_id, imprinted_id, cvr_number,
            sequence_number, ballot_type, cvr_id, revision, round_number, audit_board_index,
            ballot_not_found, reaudit_comment, import_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Type, rec.Key.CountyID, rec.Key.ScannerID, rec.Key.BatchID, rec.Key.Position, imprinted,
		rec.CVRNumber, rec.SequenceNumber, rec.BallotType, cvrID, rec.Revision, rec.RoundNumber,
		rec.AuditBoardIndex, boolToInt(rec.BallotNotFound), nullableString(rec.ReauditComment),
		nullableString(importID), created,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record %s: %w", rec.Key, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	for position, info := range rec.Contests {
		contestID, ok := contestIDs[info.Contest]
		if !ok {
			contest, err := q.ContestByName(ctx, info.Contest)
			if err != nil {
				return 0, err
			}
			contestID = contest.ID
			contestIDs[info.Contest] = contestID
		}
		choices, err := encodeStrings(info.Choices)
		if err != nil {
			return 0, err
		}
		consensus := info.Consensus
		if consensus == "" {
			consensus = ballot.ConsensusYes
		}
		if _, err := q.exec(
			ctx,
			`INSERT INTO cvr_contest_info (record_id, contest_id, position, choices_json, consensus, comment) VALUES (?, ?, ?, ?, ?, ?)`,
			id, contestID, position, choices, consensus, nullableString(info.Comment),
		); err != nil {
			return 0, fmt.Errorf("insert contest info: %w", err)
		}
	}
	return id, nil
}

// RecordByID loads one record with its vote info.
func (q *queries) RecordByID(ctx context.Context, id int64) (ballot.Record, error) {
	rows, err := q.query(ctx, `SELECT `+recordColumns+` FROM cast_vote_records WHERE id = ?`, id)
	if err != nil {
		return ballot.Record{}, fmt.Errorf("get record: %w", err)
	}
	records, err := q.scanRecords(ctx, rows)
	if err != nil {
		return ballot.Record{}, fmt.Errorf("get record: %w", err)
	}
	if len(records) == 0 {
		return ballot.Record{}, notFound("record", fmt.Sprintf("record %d", id))
	}
	return records[0], nil
}

// RecordsByKeys finds the uploaded or phantom record at each natural key.
// Missing keys are absent from the result.
func (q *queries) RecordsByKeys(ctx context.Context, keys []ballot.Key) (map[ballot.Key]ballot.Record, error) {
	found := make(map[ballot.Key]ballot.Record, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	values := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*4+2)
	args = append(args, ballot.RecordUploaded, ballot.RecordPhantom)
	for _, key := range keys {
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, key.CountyID, key.ScannerID, key.BatchID, key.Position)
	}
	rows, err := q.query(
		ctx,
		`SELECT `+recordColumns+` FROM cast_vote_records
         WHERE record_type IN (?, ?)
           AND (county_id, scanner_id, batch_id, record_id) IN (VALUES `+strings.Join(values, ", ")+`)
         ORDER BY CASE record_type WHEN 'UPLOADED' THEN 0 ELSE 1 END, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("records by keys: %w", err)
	}
	records, err := q.scanRecords(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("records by keys: %w", err)
	}
	for _, rec := range records {
		if _, ok := found[rec.Key]; !ok {
			found[rec.Key] = rec
		}
	}
	return found, nil
}

// EnsurePhantom returns the phantom record at key, creating it when absent.
// The unique index on phantom keys makes concurrent creation collapse onto one
// row.
func (q *queries) EnsurePhantom(ctx context.Context, key ballot.Key) (ballot.Record, error) {
	phantom := ballot.NewPhantom(key)
	if _, err := q.exec(
		ctx,
		`INSERT OR IGNORE INTO cast_vote_records (
            record_type, county_id, scanner_id, batch_id, record_id, imprinted_id,
            cvr_number, sequence_number, ballot_type, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		phantom.Type, key.CountyID, key.ScannerID, key.BatchID, key.Position,
		phantom.ImprintedID, phantom.BallotType, nowString(),
	); err != nil {
		return ballot.Record{}, fmt.Errorf("insert phantom %s: %w", key, err)
	}
	rows, err := q.query(
		ctx,
		`SELECT `+recordColumns+` FROM cast_vote_records
         WHERE record_type = ? AND county_id = ? AND scanner_id = ? AND batch_id = ? AND record_id = ?`,
		ballot.RecordPhantom, key.CountyID, key.ScannerID, key.BatchID, key.Position,
	)
	if err != nil {
		return ballot.Record{}, fmt.Errorf("load phantom: %w", err)
	}
	records, err := q.scanRecords(ctx, rows)
	if err != nil {
		return ballot.Record{}, fmt.Errorf("load phantom: %w", err)
	}
	if len(records) != 1 {
		return ballot.Record{}, services.Wrap(services.ErrIntegrity, "store", "ensure phantom", fmt.Sprintf("%d phantoms at %s", len(records), key), nil)
	}
	return records[0], nil
}

// CurrentACVR returns the current audit record for a CVR, if any.
func (q *queries) CurrentACVR(ctx context.Context, cvrID int64) (ballot.Record, bool, error) {
	rows, err := q.query(
		ctx,
		`SELECT `+recordColumns+` FROM cast_vote_records WHERE cvr_id = ? AND record_type = ?`,
		cvrID, ballot.RecordAuditorEntered,
	)
	if err != nil {
		return ballot.Record{}, false, fmt.Errorf("current acvr: %w", err)
	}
	records, err := q.scanRecords(ctx, rows)
	if err != nil {
		return ballot.Record{}, false, fmt.Errorf("current acvr: %w", err)
	}
	if len(records) == 0 {
		return ballot.Record{}, false, nil
	}
	return records[0], true, nil
}

// InsertACVR stores a new current audit record.
func (q *queries) InsertACVR(ctx context.Context, acvr ballot.Record) (ballot.Record, error) {
	if acvr.Type != ballot.RecordAuditorEntered || acvr.CVRID == 0 {
		return ballot.Record{}, services.Wrap(services.ErrValidation, "store", "insert acvr", "audit record must be AUDITOR_ENTERED and reference a cvr", nil)
	}
	id, err := q.insertRecord(ctx, acvr, "", make(map[string]int64))
	if err != nil {
		return ballot.Record{}, err
	}
	return q.RecordByID(ctx, id)
}

// SupersedeACVR marks the current audit record REAUDITED with the next
// revision number for its CVR and returns the updated record.
func (q *queries) SupersedeACVR(ctx context.Context, acvrID int64, comment string) (ballot.Record, error) {
	res, err := q.exec(
		ctx,
		`UPDATE cast_vote_records
         SET record_type = ?, reaudit_comment = ?,
             revision = 1 + (SELECT COALESCE(MAX(o.revision), 0) FROM cast_vote_records o WHERE o.cvr_id = cast_vote_records.cvr_id)
         WHERE id = ? AND record_type = ?`,
		ballot.RecordReaudited, nullableString(comment), acvrID, ballot.RecordAuditorEntered,
	)
	if err != nil {
		return ballot.Record{}, fmt.Errorf("supersede acvr: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ballot.Record{}, notFound("supersede acvr", fmt.Sprintf("current acvr %d", acvrID))
	}
	return q.RecordByID(ctx, acvrID)
}

// AuditRecords lists every audit record, current and superseded, entered
// against the given CVRs, oldest first.
func (q *queries) AuditRecords(ctx context.Context, cvrIDs []int64) ([]ballot.Record, error) {
	var out []ballot.Record
	for start := 0; start < len(cvrIDs); start += contestInfoChunk {
		end := min(start+contestInfoChunk, len(cvrIDs))
		args := make([]any, 0, end-start+2)
		args = append(args, ballot.RecordAuditorEntered, ballot.RecordReaudited)
		for _, id := range cvrIDs[start:end] {
			args = append(args, id)
		}
		rows, err := q.query(
			ctx,
			`SELECT `+recordColumns+` FROM cast_vote_records
             WHERE record_type IN (?, ?) AND cvr_id IN (`+makePlaceholders(end-start)+`)
             ORDER BY created_at, id`,
			args...,
		)
		if err != nil {
			return nil, fmt.Errorf("audit records: %w", err)
		}
		records, err := q.scanRecords(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("audit records: %w", err)
		}
		out = append(out, records...)
	}
	return out, nil
}

// CountUploaded returns the number of uploaded CVRs in the county.
func (q *queries) CountUploaded(ctx context.Context, countyID int64) (int, error) {
	var count int
	if err := q.queryRow(ctx, `SELECT COUNT(1) FROM cast_vote_records WHERE county_id = ? AND record_type = ?`, countyID, ballot.RecordUploaded).Scan(&count); err != nil {
		return 0, fmt.Errorf("count uploaded: %w", err)
	}
	return count, nil
}

// DeleteUploadedRecords removes every uploaded CVR of the county, or only
// those written by importID when it is set.
func (q *queries) DeleteUploadedRecords(ctx context.Context, countyID int64, importID string) (int64, error) {
	where := `county_id = ? AND record_type = ?`
	args := []any{countyID, ballot.RecordUploaded}
	if importID != "" {
		where += ` AND import_id = ?`
		args = append(args, importID)
	}
	if _, err := q.exec(ctx, `DELETE FROM cvr_contest_info WHERE record_id IN (SELECT id FROM cast_vote_records WHERE `+where+`)`, args...); err != nil {
		return 0, fmt.Errorf("delete contest info: %w", err)
	}
	res, err := q.exec(ctx, `DELETE FROM cast_vote_records WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete uploaded records: %w", err)
	}
	return res.RowsAffected()
}

// IsNotFound reports whether err marks a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
