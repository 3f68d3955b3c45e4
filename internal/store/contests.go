package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"riskaudit/internal/ballot"
	"riskaudit/internal/services"
)

func scanContest(row scanner) (ballot.Contest, error) {
	var (
		contest ballot.Contest
		choices string
	)
	if err := row.Scan(&contest.ID, &contest.Name, &contest.VotesAllowed, &choices); err != nil {
		return ballot.Contest{}, err
	}
	decoded, err := decodeStrings(choices)
	if err != nil {
		return ballot.Contest{}, err
	}
	contest.Choices = decoded
	return contest, nil
}

// EnsureContest stores a contest declaration. A contest already declared by
// another county must agree on votes allowed; new choices are appended to the
// declared set.
func (q *queries) EnsureContest(ctx context.Context, contest ballot.Contest) (ballot.Contest, error) {
	if contest.Name == "" || contest.VotesAllowed < 1 {
		return ballot.Contest{}, services.Wrap(services.ErrValidation, "store", "ensure contest", fmt.Sprintf("contest %q needs a name and votes allowed", contest.Name), nil)
	}
	existing, err := q.ContestByName(ctx, contest.Name)
	switch {
	case errors.Is(err, services.ErrNotFound):
		encoded, err := encodeStrings(contest.Choices)
		if err != nil {
			return ballot.Contest{}, err
		}
		res, err := q.exec(ctx, `INSERT INTO contests (name, votes_allowed, choices_json) VALUES (?, ?, ?)`, contest.Name, contest.VotesAllowed, encoded)
		if err != nil {
			return ballot.Contest{}, fmt.Errorf("insert contest: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return ballot.Contest{}, fmt.Errorf("last insert id: %w", err)
		}
		contest.ID = id
		contest.Choices = slices.Clone(contest.Choices)
		return contest, nil
	case err != nil:
		return ballot.Contest{}, err
	}

	if existing.VotesAllowed != contest.VotesAllowed {
		return ballot.Contest{}, services.Wrap(
			services.ErrIntegrity,
			"store",
			"ensure contest",
			fmt.Sprintf("contest %q declared with %d votes allowed, previously %d", contest.Name, contest.VotesAllowed, existing.VotesAllowed),
			nil,
		)
	}
	merged := existing.Choices
	for _, choice := range contest.Choices {
		if !slices.Contains(merged, choice) {
			merged = append(merged, choice)
		}
	}
	if len(merged) == len(existing.Choices) {
		return existing, nil
	}
	encoded, err := encodeStrings(merged)
	if err != nil {
		return ballot.Contest{}, err
	}
	if _, err := q.exec(ctx, `UPDATE contests SET choices_json = ? WHERE id = ?`, encoded, existing.ID); err != nil {
		return ballot.Contest{}, fmt.Errorf("update contest choices: %w", err)
	}
	existing.Choices = merged
	return existing, nil
}

// ContestByName loads one contest.
func (q *queries) ContestByName(ctx context.Context, name string) (ballot.Contest, error) {
	contest, err := scanContest(q.queryRow(ctx, `SELECT id, name, votes_allowed, choices_json FROM contests WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return ballot.Contest{}, notFound("contest", fmt.Sprintf("contest %q", name))
	}
	if err != nil {
		return ballot.Contest{}, fmt.Errorf("get contest: %w", err)
	}
	return contest, nil
}

// Contests lists every declared contest ordered by id.
func (q *queries) Contests(ctx context.Context) ([]ballot.Contest, error) {
	rows, err := q.query(ctx, `SELECT id, name, votes_allowed, choices_json FROM contests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list contests: %w", err)
	}
	defer rows.Close()

	var contests []ballot.Contest
	for rows.Next() {
		contest, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, contest)
	}
	return contests, rows.Err()
}

// ContestCounties lists the counties with uploaded CVRs carrying the contest.
func (q *queries) ContestCounties(ctx context.Context, contestID int64) ([]int64, error) {
	rows, err := q.query(
		ctx,
		`SELECT DISTINCT r.county_id FROM cvr_contest_info ci
         JOIN cast_vote_records r ON r.id = ci.record_id
         WHERE ci.contest_id = ? AND r.record_type = ?
         ORDER BY r.county_id`,
		contestID, ballot.RecordUploaded,
	)
	if err != nil {
		return nil, fmt.Errorf("contest counties: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UploadedVotes returns the uploaded CVRs carrying the contest, each with only
// that contest's vote info loaded.
func (q *queries) UploadedVotes(ctx context.Context, contest ballot.Contest) ([]ballot.Record, error) {
	rows, err := q.query(
		ctx,
		`SELECT `+prefixedRecordColumns("r")+`, ci.choices_json, ci.consensus, ci.comment
         FROM cvr_contest_info ci
         JOIN cast_vote_records r ON r.id = ci.record_id
         WHERE ci.contest_id = ? AND r.record_type = ?
         ORDER BY r.id`,
		contest.ID, ballot.RecordUploaded,
	)
	if err != nil {
		return nil, fmt.Errorf("uploaded votes: %w", err)
	}
	defer rows.Close()

	var records []ballot.Record
	for rows.Next() {
		var (
			choices   string
			consensus string
			comment   sql.NullString
		)
		rec, err := scanRecord(rows, &choices, &consensus, &comment)
		if err != nil {
			return nil, err
		}
		info, err := contestInfoFromRow(contest.Name, choices, consensus, comment)
		if err != nil {
			return nil, err
		}
		rec.Contests = []ballot.ContestInfo{info}
		records = append(records, rec)
	}
	return records, rows.Err()
}
