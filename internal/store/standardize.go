package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"riskaudit/internal/ballot"
	"riskaudit/internal/services"
)

// ContestRename describes a standardization of one declared contest. Name is
// the standard contest name; when another contest already uses it the two are
// merged. Choices maps choice names to their standard spelling.
type ContestRename struct {
	Contest string
	Name    string
	Choices map[string]string
}

type contestVotes struct {
	recordID int64
	choices  []string
}

func validationf(format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "store", "standardize contest", fmt.Sprintf(format, args...), nil)
}

// StandardizeContest applies rename to the contest declaration and rewrites
// every CVR's vote info for it. Run it inside a transaction.
func (q *queries) StandardizeContest(ctx context.Context, rename ContestRename) (ballot.Contest, error) {
	source, err := q.ContestByName(ctx, rename.Contest)
	if err != nil {
		return ballot.Contest{}, err
	}
	for from, to := range rename.Choices {
		if !slices.Contains(source.Choices, from) {
			return ballot.Contest{}, validationf("%q is not a choice of %q", from, source.Name)
		}
		if strings.TrimSpace(to) == "" {
			return ballot.Contest{}, validationf("choice %q needs a standard name", from)
		}
	}
	standardChoice := func(choice string) string {
		if to, ok := rename.Choices[choice]; ok {
			return strings.TrimSpace(to)
		}
		return choice
	}

	name := strings.TrimSpace(rename.Name)
	if name == "" {
		name = source.Name
	}
	target := source
	merging := false
	if name != source.Name {
		existing, err := q.ContestByName(ctx, name)
		switch {
		case errors.Is(err, services.ErrNotFound):
			target.Name = name
		case err != nil:
			return ballot.Contest{}, err
		default:
			if existing.VotesAllowed != source.VotesAllowed {
				return ballot.Contest{}, validationf("%q allows %d votes, %q allows %d",
					source.Name, source.VotesAllowed, existing.Name, existing.VotesAllowed)
			}
			target = existing
			merging = true
		}
	}

	var choices []string
	if merging {
		choices = slices.Clone(target.Choices)
	}
	for _, choice := range source.Choices {
		if std := standardChoice(choice); !slices.Contains(choices, std) {
			choices = append(choices, std)
		}
	}

	if merging {
		var shared int
		if err := q.queryRow(ctx,
			`SELECT COUNT(1) FROM cvr_contest_info a JOIN cvr_contest_info b ON a.record_id = b.record_id
             WHERE a.contest_id = ? AND b.contest_id = ?`,
			source.ID, target.ID,
		).Scan(&shared); err != nil {
			return ballot.Contest{}, fmt.Errorf("count shared records: %w", err)
		}
		if shared > 0 {
			return ballot.Contest{}, services.Wrap(services.ErrIntegrity, "store", "standardize contest",
				fmt.Sprintf("%d records carry both %q and %q", shared, source.Name, target.Name), nil)
		}
	}

	votes, err := q.contestVotes(ctx, source.ID)
	if err != nil {
		return ballot.Contest{}, err
	}
	for _, v := range votes {
		rewritten := make([]string, 0, len(v.choices))
		for _, choice := range v.choices {
			if std := standardChoice(choice); !slices.Contains(rewritten, std) {
				rewritten = append(rewritten, std)
			}
		}
		encoded, err := encodeStrings(rewritten)
		if err != nil {
			return ballot.Contest{}, err
		}
		if _, err := q.exec(ctx,
			`UPDATE cvr_contest_info SET contest_id = ?, choices_json = ? WHERE record_id = ? AND contest_id = ?`,
			target.ID, encoded, v.recordID, source.ID,
		); err != nil {
			return ballot.Contest{}, fmt.Errorf("rewrite record %d: %w", v.recordID, err)
		}
	}

	encoded, err := encodeStrings(choices)
	if err != nil {
		return ballot.Contest{}, err
	}
	if _, err := q.exec(ctx, `UPDATE contests SET name = ?, choices_json = ? WHERE id = ?`, target.Name, encoded, target.ID); err != nil {
		return ballot.Contest{}, fmt.Errorf("update contest: %w", err)
	}
	if merging {
		if _, err := q.exec(ctx, `DELETE FROM contests WHERE id = ?`, source.ID); err != nil {
			return ballot.Contest{}, fmt.Errorf("delete merged contest: %w", err)
		}
	}
	target.Choices = choices
	return target, nil
}

func (q *queries) contestVotes(ctx context.Context, contestID int64) ([]contestVotes, error) {
	rows, err := q.query(ctx, `SELECT record_id, choices_json FROM cvr_contest_info WHERE contest_id = ? ORDER BY record_id`, contestID)
	if err != nil {
		return nil, fmt.Errorf("contest votes: %w", err)
	}
	defer rows.Close()

	var out []contestVotes
	for rows.Next() {
		var (
			v   contestVotes
			raw string
		)
		if err := rows.Scan(&v.recordID, &raw); err != nil {
			return nil, err
		}
		if v.choices, err = decodeStrings(raw); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
