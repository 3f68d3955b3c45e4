package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"riskaudit/internal/services"
)

const fileColumns = "id, county_id, kind, name, digest, status, result, import_id, created_at, updated_at"

func scanFile(row scanner) (UploadedFile, error) {
	var (
		file       UploadedFile
		kind       string
		status     string
		result     sql.NullString
		importID   sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := row.Scan(&file.ID, &file.CountyID, &kind, &file.Name, &file.Digest, &status, &result, &importID, &createdRaw, &updatedRaw); err != nil {
		return UploadedFile{}, err
	}
	file.Kind = FileKind(kind)
	file.Status = FileStatus(status)
	file.Result = result.String
	file.ImportID = importID.String
	file.CreatedAt = parseTime(createdRaw)
	file.UpdatedAt = parseTime(updatedRaw)
	return file, nil
}

// CreateUploadedFile records a file whose digest has been verified.
func (q *queries) CreateUploadedFile(ctx context.Context, countyID int64, kind FileKind, name, digest string) (UploadedFile, error) {
	if kind != FileCVR && kind != FileManifest {
		return UploadedFile{}, services.Wrap(services.ErrValidation, "store", "create file", fmt.Sprintf("unknown file kind %q", kind), nil)
	}
	if strings.TrimSpace(digest) == "" {
		return UploadedFile{}, services.Wrap(services.ErrValidation, "store", "create file", "digest is required", nil)
	}
	now := nowString()
	res, err := q.exec(
		ctx,
		`INSERT INTO uploaded_files (county_id, kind, name, digest, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		countyID, kind, name, strings.ToLower(digest), FileHashVerified, now, now,
	)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("insert uploaded file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return UploadedFile{}, fmt.Errorf("last insert id: %w", err)
	}
	return q.UploadedFile(ctx, id)
}

// UploadedFile loads one uploaded file.
func (q *queries) UploadedFile(ctx context.Context, id int64) (UploadedFile, error) {
	file, err := scanFile(q.queryRow(ctx, `SELECT `+fileColumns+` FROM uploaded_files WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return UploadedFile{}, notFound("uploaded file", fmt.Sprintf("file %d", id))
	}
	if err != nil {
		return UploadedFile{}, fmt.Errorf("get uploaded file: %w", err)
	}
	return file, nil
}

// UploadedFiles lists a county's files, newest first.
func (q *queries) UploadedFiles(ctx context.Context, countyID int64) ([]UploadedFile, error) {
	rows, err := q.query(ctx, `SELECT `+fileColumns+` FROM uploaded_files WHERE county_id = ? ORDER BY id DESC`, countyID)
	if err != nil {
		return nil, fmt.Errorf("list uploaded files: %w", err)
	}
	defer rows.Close()

	var files []UploadedFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ImportedKinds reports which file kinds the county has successfully imported.
func (q *queries) ImportedKinds(ctx context.Context, countyID int64) (map[FileKind]bool, error) {
	rows, err := q.query(ctx, `SELECT DISTINCT kind FROM uploaded_files WHERE county_id = ? AND status = ?`, countyID, FileImported)
	if err != nil {
		return nil, fmt.Errorf("imported kinds: %w", err)
	}
	defer rows.Close()

	kinds := make(map[FileKind]bool, 2)
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, err
		}
		kinds[FileKind(kind)] = true
	}
	return kinds, rows.Err()
}

// CountyReady reports whether both a CVR export and a manifest are imported.
func (q *queries) CountyReady(ctx context.Context, countyID int64) (bool, error) {
	kinds, err := q.ImportedKinds(ctx, countyID)
	if err != nil {
		return false, err
	}
	return kinds[FileCVR] && kinds[FileManifest], nil
}

// SetFileStatus records an uploaded file's status and result message.
func (q *queries) SetFileStatus(ctx context.Context, id int64, status FileStatus, result string) error {
	res, err := q.exec(
		ctx,
		`UPDATE uploaded_files SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		status, nullableString(result), nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("set file status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return notFound("set file status", fmt.Sprintf("file %d", id))
	}
	return nil
}

// SetFileImportID tags the file with the import run that consumed it.
func (q *queries) SetFileImportID(ctx context.Context, id int64, importID string) error {
	if _, err := q.exec(ctx, `UPDATE uploaded_files SET import_id = ?, updated_at = ? WHERE id = ?`, importID, nowString(), id); err != nil {
		return fmt.Errorf("set file import id: %w", err)
	}
	return nil
}

// SupersedeFiles marks the county's earlier imported files of kind as failed
// replacements once a new import of that kind starts.
func (q *queries) SupersedeFiles(ctx context.Context, countyID int64, kind FileKind, keepID int64) error {
	if _, err := q.exec(
		ctx,
		`UPDATE uploaded_files SET status = ?, result = 'superseded', updated_at = ?
         WHERE county_id = ? AND kind = ? AND id <> ? AND status = ?`,
		FileFailed, nowString(), countyID, kind, keepID, FileImported,
	); err != nil {
		return fmt.Errorf("supersede files: %w", err)
	}
	return nil
}

// DeleteUploadedFile removes the file row.
func (q *queries) DeleteUploadedFile(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, `DELETE FROM uploaded_files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete uploaded file: %w", err)
	}
	return nil
}
