package store

import (
	"context"
	"fmt"
	"os"

	"riskaudit/internal/ballot"
)

// ResetAuditData deletes every trace of the audit while leaving uploaded files,
// uploaded CVRs and manifests untouched. Rows go in dependency order: drawn
// ballots, samples and ACVRs first, then discrepancy associations and the
// ledger, then rounds.
func (q *queries) ResetAuditData(ctx context.Context) error {
	statements := []struct {
		name  string
		query string
		args  []any
	}{
		{"tributes", `DELETE FROM tributes`, nil},
		{"audit samples", `DELETE FROM audit_samples`, nil},
		{"acvr contest info", `DELETE FROM cvr_contest_info WHERE record_id IN (SELECT id FROM cast_vote_records WHERE record_type IN (?, ?))`, []any{ballot.RecordAuditorEntered, ballot.RecordReaudited}},
		{"acvrs", `DELETE FROM cast_vote_records WHERE record_type IN (?, ?)`, []any{ballot.RecordAuditorEntered, ballot.RecordReaudited}},
		{"discrepancy associations", `DELETE FROM cvr_audit_info`, nil},
		{"phantoms", `DELETE FROM cast_vote_records WHERE record_type = ?`, []any{ballot.RecordPhantom}},
		{"audit counties", `DELETE FROM audit_counties`, nil},
		{"audits", `DELETE FROM comparison_audits`, nil},
		{"signatories", `DELETE FROM round_signatories`, nil},
		{"rounds", `DELETE FROM rounds`, nil},
		{"audited counters", `UPDATE counties SET ballots_audited = 0, updated_at = ?`, []any{nowString()}},
	}
	for _, stmt := range statements {
		if _, err := q.exec(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("reset %s: %w", stmt.name, err)
		}
	}
	return nil
}

// HasAuditData reports whether any audit has been defined.
func (q *queries) HasAuditData(ctx context.Context) (bool, error) {
	var count int
	if err := q.queryRow(ctx, `SELECT COUNT(1) FROM comparison_audits`).Scan(&count); err != nil {
		return false, fmt.Errorf("count audits: %w", err)
	}
	return count > 0, nil
}

// DatabaseHealth captures diagnostic information about the audit database.
type DatabaseHealth struct {
	DBPath         string
	DatabaseExists bool
	SchemaVersion  int64
	IntegrityCheck bool
	Counties       int
	Records        int
	Error          string
}

// CheckHealth returns diagnostic information about the audit database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if _, err := os.Stat(s.path); err == nil {
		health.DatabaseExists = true
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		health.Error = err.Error()
		return health, nil
	}
	health.SchemaVersion = version

	var result string
	if err := s.queryRow(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		health.Error = fmt.Sprintf("integrity check: %v", err)
		return health, nil
	}
	health.IntegrityCheck = result == "ok"

	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM counties`).Scan(&health.Counties); err != nil {
		return health, fmt.Errorf("count counties: %w", err)
	}
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM cast_vote_records`).Scan(&health.Records); err != nil {
		return health, fmt.Errorf("count records: %w", err)
	}
	return health, nil
}
