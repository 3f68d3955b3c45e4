package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
)

// InsertRound opens a new round for the county.
func (q *queries) InsertRound(ctx context.Context, round *coordinator.Round) error {
	res, err := q.exec(
		ctx,
		`INSERT INTO rounds (county_id, number, started_at, expected_count) VALUES (?, ?, ?, ?)`,
		round.CountyID, round.Number, formatTime(round.StartedAt), round.ExpectedCount,
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	round.ID = id
	return nil
}

// SaveRound persists the round's end time and signatories.
func (q *queries) SaveRound(ctx context.Context, round coordinator.Round) error {
	if _, err := q.exec(ctx, `UPDATE rounds SET ended_at = ? WHERE id = ?`, nullableTime(round.EndedAt), round.ID); err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM round_signatories WHERE round_id = ?`, round.ID); err != nil {
		return fmt.Errorf("clear signatories: %w", err)
	}
	for board, names := range round.Signatories {
		for position, name := range names {
			if _, err := q.exec(
				ctx,
				`INSERT INTO round_signatories (round_id, board_index, position, name) VALUES (?, ?, ?, ?)`,
				round.ID, board, position, name,
			); err != nil {
				return fmt.Errorf("insert signatory: %w", err)
			}
		}
	}
	return nil
}

// CurrentRound returns the county's latest round, open or closed. ok is false
// before the first round starts.
func (q *queries) CurrentRound(ctx context.Context, countyID int64) (coordinator.Round, bool, error) {
	rounds, err := q.loadRounds(ctx, ` WHERE county_id = ? ORDER BY number DESC LIMIT 1`, countyID)
	if err != nil {
		return coordinator.Round{}, false, err
	}
	if len(rounds) == 0 {
		return coordinator.Round{}, false, nil
	}
	return rounds[0], true, nil
}

// Rounds lists the county's rounds in order.
func (q *queries) Rounds(ctx context.Context, countyID int64) ([]coordinator.Round, error) {
	return q.loadRounds(ctx, ` WHERE county_id = ? ORDER BY number`, countyID)
}

func (q *queries) loadRounds(ctx context.Context, clause string, args ...any) ([]coordinator.Round, error) {
	rows, err := q.query(ctx, `SELECT id, county_id, number, started_at, ended_at, expected_count FROM rounds`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}
	var rounds []coordinator.Round
	for rows.Next() {
		var (
			round   coordinator.Round
			started sql.NullString
			ended   sql.NullString
		)
		if err := rows.Scan(&round.ID, &round.CountyID, &round.Number, &started, &ended, &round.ExpectedCount); err != nil {
			rows.Close()
			return nil, err
		}
		round.StartedAt = parseTime(started)
		round.EndedAt = parseTime(ended)
		round.Signatories = make(map[int][]string)
		rounds = append(rounds, round)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range rounds {
		sigRows, err := q.query(ctx, `SELECT board_index, name FROM round_signatories WHERE round_id = ? ORDER BY board_index, position`, rounds[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load signatories: %w", err)
		}
		for sigRows.Next() {
			var (
				board int
				name  string
			)
			if err := sigRows.Scan(&board, &name); err != nil {
				sigRows.Close()
				return nil, err
			}
			rounds[i].Signatories[board] = append(rounds[i].Signatories[board], name)
		}
		err = sigRows.Err()
		sigRows.Close()
		if err != nil {
			return nil, err
		}
	}
	return rounds, nil
}

// InsertDrawnBallots stores a round's resolved tributes in draw order.
func (q *queries) InsertDrawnBallots(ctx context.Context, round int, drawn []DrawnBallot) error {
	for _, d := range drawn {
		t := d.Tribute
		if _, err := q.exec(
			ctx,
			`INSERT INTO tributes (
                county_id, round_number, scanner_id, batch_id, record_id, contest_name,
                random_number, rand_sequence_position, cvr_id
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.CountyID, round, t.ScannerID, t.BatchID, t.Position, t.ContestName,
			t.RandomNumber, t.RandSequencePosition, d.CVRID,
		); err != nil {
			return fmt.Errorf("insert tribute: %w", err)
		}
	}
	return nil
}

// DrawnBallots lists tributes for the county, all rounds when round is 0.
func (q *queries) DrawnBallots(ctx context.Context, countyID int64, round int) ([]DrawnBallot, error) {
	clause := ` WHERE county_id = ?`
	args := []any{countyID}
	if round > 0 {
		clause += ` AND round_number = ?`
		args = append(args, round)
	}
	return q.loadDrawn(ctx, clause+` ORDER BY id`, args...)
}

// SampledDrawnBallots lists every tribute whose ballot is sampled by the audit,
// in random sequence order.
func (q *queries) SampledDrawnBallots(ctx context.Context, auditID int64) ([]DrawnBallot, error) {
	return q.loadDrawn(
		ctx,
		` WHERE cvr_id IN (SELECT cvr_id FROM audit_samples WHERE audit_id = ?) ORDER BY rand_sequence_position, id`,
		auditID,
	)
}

func (q *queries) loadDrawn(ctx context.Context, clause string, args ...any) ([]DrawnBallot, error) {
	rows, err := q.query(
		ctx,
		`SELECT id, round_number, county_id, scanner_id, batch_id, record_id, contest_name,
                random_number, rand_sequence_position, cvr_id
         FROM tributes`+clause,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("load tributes: %w", err)
	}
	defer rows.Close()

	var drawn []DrawnBallot
	for rows.Next() {
		var (
			d DrawnBallot
			t ballot.Tribute
		)
		if err := rows.Scan(
			&d.ID, &d.RoundNumber, &t.CountyID, &t.ScannerID, &t.BatchID, &t.Position, &t.ContestName,
			&t.RandomNumber, &t.RandSequencePosition, &d.CVRID,
		); err != nil {
			return nil, err
		}
		d.Tribute = t
		drawn = append(drawn, d)
	}
	return drawn, rows.Err()
}

// DrawCount returns how many times cvrID has been drawn across all rounds.
func (q *queries) DrawCount(ctx context.Context, cvrID int64) (int, error) {
	var count int
	if err := q.queryRow(ctx, `SELECT COUNT(1) FROM tributes WHERE cvr_id = ?`, cvrID).Scan(&count); err != nil {
		return 0, fmt.Errorf("draw count: %w", err)
	}
	return count, nil
}

// StateState returns the state-level machine state.
func (q *queries) StateState(ctx context.Context) (coordinator.StateState, time.Time, error) {
	var (
		state   string
		updated sql.NullString
	)
	err := q.queryRow(ctx, `SELECT state, updated_at FROM state_dashboard WHERE id = 1`).Scan(&state, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return coordinator.StateInitial, time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("state dashboard: %w", err)
	}
	parsed, err := coordinator.ParseStateState(state)
	if err != nil {
		return "", time.Time{}, err
	}
	return parsed, parseTime(updated), nil
}

// SetStateState persists a state-level transition.
func (q *queries) SetStateState(ctx context.Context, state coordinator.StateState) error {
	if _, err := q.exec(ctx, `UPDATE state_dashboard SET state = ?, updated_at = ? WHERE id = 1`, state, nowString()); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}
