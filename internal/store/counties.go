package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"riskaudit/internal/coordinator"
	"riskaudit/internal/services"
)

const countyColumns = "id, name, state, audit_boards, import_status, import_error, cvrs_imported, ballots_in_manifest, ballots_audited, updated_at"

func scanCounty(row scanner) (County, error) {
	var (
		county     County
		state      string
		importStat string
		importErr  sql.NullString
		updatedRaw sql.NullString
	)
	if err := row.Scan(
		&county.ID,
		&county.Name,
		&state,
		&county.AuditBoards,
		&importStat,
		&importErr,
		&county.CVRsImported,
		&county.BallotsInManifest,
		&county.BallotsAudited,
		&updatedRaw,
	); err != nil {
		return County{}, err
	}
	parsed, err := coordinator.ParseCountyState(state)
	if err != nil {
		return County{}, err
	}
	county.State = parsed
	county.ImportStatus = ImportStatus(importStat)
	county.ImportError = importErr.String
	county.UpdatedAt = parseTime(updatedRaw)
	return county, nil
}

// CreateCounty registers a county with the given audit board count.
func (q *queries) CreateCounty(ctx context.Context, name string, auditBoards int) (County, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return County{}, services.Wrap(services.ErrValidation, "store", "create county", "county name is required", nil)
	}
	res, err := q.exec(
		ctx,
		`INSERT INTO counties (name, state, audit_boards, import_status, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name,
		coordinator.CountyNotStarted,
		auditBoards,
		ImportNotAttempted,
		nowString(),
	)
	if err != nil {
		return County{}, fmt.Errorf("insert county: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return County{}, fmt.Errorf("last insert id: %w", err)
	}
	return q.County(ctx, id)
}

// County loads one county by id.
func (q *queries) County(ctx context.Context, id int64) (County, error) {
	county, err := scanCounty(q.queryRow(ctx, `SELECT `+countyColumns+` FROM counties WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return County{}, notFound("county", fmt.Sprintf("county %d", id))
	}
	if err != nil {
		return County{}, fmt.Errorf("get county: %w", err)
	}
	return county, nil
}

// CountyByName loads one county by name, case-insensitively.
func (q *queries) CountyByName(ctx context.Context, name string) (County, error) {
	county, err := scanCounty(q.queryRow(ctx, `SELECT `+countyColumns+` FROM counties WHERE name = ? COLLATE NOCASE`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return County{}, notFound("county", fmt.Sprintf("county %q", name))
	}
	if err != nil {
		return County{}, fmt.Errorf("get county by name: %w", err)
	}
	return county, nil
}

// Counties lists every county ordered by id.
func (q *queries) Counties(ctx context.Context) ([]County, error) {
	rows, err := q.query(ctx, `SELECT `+countyColumns+` FROM counties ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list counties: %w", err)
	}
	defer rows.Close()

	var counties []County
	for rows.Next() {
		county, err := scanCounty(rows)
		if err != nil {
			return nil, err
		}
		counties = append(counties, county)
	}
	return counties, rows.Err()
}

// CountyStates returns the current state of every county.
func (q *queries) CountyStates(ctx context.Context) (map[int64]coordinator.CountyState, error) {
	counties, err := q.Counties(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[int64]coordinator.CountyState, len(counties))
	for _, county := range counties {
		states[county.ID] = county.State
	}
	return states, nil
}

// SetCountyState persists a county machine transition.
func (q *queries) SetCountyState(ctx context.Context, id int64, state coordinator.CountyState) error {
	return q.updateCounty(ctx, "set county state", `state = ?`, id, state)
}

// SetAuditBoards stores the number of audit boards the county runs.
func (q *queries) SetAuditBoards(ctx context.Context, id int64, boards int) error {
	return q.updateCounty(ctx, "set audit boards", `audit_boards = ?`, id, boards)
}

// SetImportStatus records the county's import status and error message.
func (q *queries) SetImportStatus(ctx context.Context, id int64, status ImportStatus, message string) error {
	return q.updateCounty(ctx, "set import status", `import_status = ?, import_error = ?`, id, status, nullableString(message))
}

// SetCVRsImported stores the number of uploaded CVRs for the county.
func (q *queries) SetCVRsImported(ctx context.Context, id int64, count int) error {
	return q.updateCounty(ctx, "set cvrs imported", `cvrs_imported = ?`, id, count)
}

// SetBallotsInManifest stores the ballot total of the county manifest.
func (q *queries) SetBallotsInManifest(ctx context.Context, id int64, count int) error {
	return q.updateCounty(ctx, "set manifest count", `ballots_in_manifest = ?`, id, count)
}

// AddBallotsAudited adjusts the county's audited ballot counter.
func (q *queries) AddBallotsAudited(ctx context.Context, id int64, delta int) error {
	return q.updateCounty(ctx, "add ballots audited", `ballots_audited = ballots_audited + ?`, id, delta)
}

func (q *queries) updateCounty(ctx context.Context, operation, assignments string, id int64, args ...any) error {
	values := append(args, nowString(), id)
	res, err := q.exec(ctx, `UPDATE counties SET `+assignments+`, updated_at = ? WHERE id = ?`, values...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return notFound(operation, fmt.Sprintf("county %d", id))
	}
	return nil
}
