package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"riskaudit/internal/ledger"
)

const auditColumns = `a.id, c.id, c.name, c.votes_allowed, c.choices_json, a.reason, a.targeted,
    a.risk_limit, a.gamma, a.tallies_json, a.winners_json, a.losers_json, a.min_margin,
    a.ballot_count, a.one_over, a.two_over, a.one_under, a.two_under, a.audited_samples,
    a.disagreements, a.status`

func scanAudit(row scanner) (*ledger.ComparisonAudit, error) {
	var (
		audit     ledger.ComparisonAudit
		choices   string
		reason    string
		targeted  int
		riskLimit string
		tallies   string
		winners   string
		losers    string
		status    string
	)
	if err := row.Scan(
		&audit.ID, &audit.Contest.ID, &audit.Contest.Name, &audit.Contest.VotesAllowed, &choices,
		&reason, &targeted, &riskLimit, &audit.Gamma, &tallies, &winners, &losers,
		&audit.Result.MinMargin, &audit.Result.BallotCount,
		&audit.Counts.OneOver, &audit.Counts.TwoOver, &audit.Counts.OneUnder, &audit.Counts.TwoUnder,
		&audit.AuditedSamples, &audit.Disagreements, &status,
	); err != nil {
		return nil, err
	}
	var err error
	if audit.Contest.Choices, err = decodeStrings(choices); err != nil {
		return nil, err
	}
	if audit.Reason, err = ledger.ParseReason(reason); err != nil {
		return nil, err
	}
	if audit.Status, err = ledger.ParseStatus(status); err != nil {
		return nil, err
	}
	if audit.RiskLimit, err = decimal.NewFromString(riskLimit); err != nil {
		return nil, fmt.Errorf("parse risk limit: %w", err)
	}
	if audit.Result.Winners, err = decodeStrings(winners); err != nil {
		return nil, err
	}
	if audit.Result.Losers, err = decodeStrings(losers); err != nil {
		return nil, err
	}
	audit.Result.Tallies = make(map[string]int)
	if err := json.Unmarshal([]byte(tallies), &audit.Result.Tallies); err != nil {
		return nil, fmt.Errorf("decode tallies: %w", err)
	}
	audit.Result.Contest = audit.Contest.Name
	audit.Targeted = targeted != 0
	audit.Samples = make(map[int64]int)
	return &audit, nil
}

// InsertAudit stores a new comparison audit with its participating counties.
func (q *queries) InsertAudit(ctx context.Context, audit *ledger.ComparisonAudit) error {
	tallies, err := json.Marshal(audit.Result.Tallies)
	if err != nil {
		return fmt.Errorf("encode tallies: %w", err)
	}
	winners, err := encodeStrings(audit.Result.Winners)
	if err != nil {
		return err
	}
	losers, err := encodeStrings(audit.Result.Losers)
	if err != nil {
		return err
	}
	res, err := q.exec(
		ctx,
		`INSERT INTO comparison_audits (
            contest_id, reason, targeted, risk_limit, gamma, tallies_json, winners_json, losers_json,
            min_margin, ballot_count, status, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.Contest.ID, audit.Reason, boolToInt(audit.Targeted), audit.RiskLimit.String(), audit.Gamma,
		string(tallies), winners, losers, audit.Result.MinMargin, audit.Result.BallotCount,
		audit.Status, nowString(),
	)
	if err != nil {
		return fmt.Errorf("insert audit %q: %w", audit.Contest.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	audit.ID = id
	for _, countyID := range audit.Result.CountyIDs {
		if _, err := q.exec(ctx, `INSERT INTO audit_counties (audit_id, county_id) VALUES (?, ?)`, id, countyID); err != nil {
			return fmt.Errorf("insert audit county: %w", err)
		}
	}
	for cvrID, n := range audit.Samples {
		if err := q.AddSample(ctx, id, cvrID, n); err != nil {
			return err
		}
	}
	return nil
}

// SaveAudit persists the audit's evidence counters, targeting and status.
func (q *queries) SaveAudit(ctx context.Context, audit *ledger.ComparisonAudit) error {
	res, err := q.exec(
		ctx,
		`UPDATE comparison_audits
         SET targeted = ?, one_over = ?, two_over = ?, one_under = ?, two_under = ?,
             audited_samples = ?, disagreements = ?, status = ?, updated_at = ?
         WHERE id = ?`,
		boolToInt(audit.Targeted), audit.Counts.OneOver, audit.Counts.TwoOver, audit.Counts.OneUnder,
		audit.Counts.TwoUnder, audit.AuditedSamples, audit.Disagreements, audit.Status, nowString(), audit.ID,
	)
	if err != nil {
		return fmt.Errorf("save audit %q: %w", audit.Contest.Name, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return notFound("save audit", fmt.Sprintf("audit %d", audit.ID))
	}
	return nil
}

// AddSample records n more draws of cvrID for the audit.
func (q *queries) AddSample(ctx context.Context, auditID, cvrID int64, n int) error {
	if _, err := q.exec(
		ctx,
		`INSERT INTO audit_samples (audit_id, cvr_id, multiplicity) VALUES (?, ?, ?)
         ON CONFLICT (audit_id, cvr_id) DO UPDATE SET multiplicity = multiplicity + excluded.multiplicity`,
		auditID, cvrID, n,
	); err != nil {
		return fmt.Errorf("add sample: %w", err)
	}
	return nil
}

// Audits loads every comparison audit with counties and samples.
func (q *queries) Audits(ctx context.Context) ([]*ledger.ComparisonAudit, error) {
	return q.loadAudits(ctx, ``)
}

// AuditByContest loads the audit of one contest.
func (q *queries) AuditByContest(ctx context.Context, contest string) (*ledger.ComparisonAudit, error) {
	audits, err := q.loadAudits(ctx, ` WHERE c.name = ?`, contest)
	if err != nil {
		return nil, err
	}
	if len(audits) == 0 {
		return nil, notFound("audit", fmt.Sprintf("no audit for contest %q", contest))
	}
	return audits[0], nil
}

// AuditsForCounty loads the audits the county contributes ballots to.
func (q *queries) AuditsForCounty(ctx context.Context, countyID int64) ([]*ledger.ComparisonAudit, error) {
	return q.loadAudits(ctx, ` WHERE a.id IN (SELECT audit_id FROM audit_counties WHERE county_id = ?)`, countyID)
}

func (q *queries) loadAudits(ctx context.Context, where string, args ...any) ([]*ledger.ComparisonAudit, error) {
	rows, err := q.query(ctx, `SELECT `+auditColumns+` FROM comparison_audits a JOIN contests c ON c.id = a.contest_id`+where+` ORDER BY a.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load audits: %w", err)
	}
	var audits []*ledger.ComparisonAudit
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		audits = append(audits, audit)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, audit := range audits {
		if err := q.loadAuditDetail(ctx, audit); err != nil {
			return nil, err
		}
	}
	return audits, nil
}

func (q *queries) loadAuditDetail(ctx context.Context, audit *ledger.ComparisonAudit) error {
	rows, err := q.query(ctx, `SELECT county_id FROM audit_counties WHERE audit_id = ? ORDER BY county_id`, audit.ID)
	if err != nil {
		return fmt.Errorf("load audit counties: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		audit.Result.CountyIDs = append(audit.Result.CountyIDs, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return err
	}

	rows, err = q.query(ctx, `SELECT cvr_id, multiplicity FROM audit_samples WHERE audit_id = ?`, audit.ID)
	if err != nil {
		return fmt.Errorf("load audit samples: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cvrID int64
			n     int
		)
		if err := rows.Scan(&cvrID, &n); err != nil {
			return err
		}
		audit.Samples[cvrID] = n
	}
	return rows.Err()
}

// CachedDiscrepancy returns the discrepancy recorded for cvrID in the
// contest's audit when its current ACVR was submitted.
func (q *queries) CachedDiscrepancy(ctx context.Context, contest string, cvrID int64) (int, bool, error) {
	var value int
	err := q.queryRow(
		ctx,
		`SELECT i.discrepancy FROM cvr_audit_info i
         JOIN comparison_audits a ON a.id = i.audit_id
         JOIN contests c ON c.id = a.contest_id
         WHERE c.name = ? AND i.cvr_id = ?`,
		contest, cvrID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cached discrepancy: %w", err)
	}
	return value, true, nil
}

// AuditInfo returns the stored classification of cvrID in an audit.
func (q *queries) AuditInfo(ctx context.Context, auditID, cvrID int64) (value int, consensusNo bool, ok bool, err error) {
	var no int
	err = q.queryRow(ctx, `SELECT discrepancy, consensus_no FROM cvr_audit_info WHERE audit_id = ? AND cvr_id = ?`, auditID, cvrID).Scan(&value, &no)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("audit info: %w", err)
	}
	return value, no != 0, true, nil
}

// SetDiscrepancy stores the classification of cvrID's current ACVR in an audit.
func (q *queries) SetDiscrepancy(ctx context.Context, auditID, cvrID int64, value int, consensusNo bool) error {
	if _, err := q.exec(
		ctx,
		`INSERT INTO cvr_audit_info (audit_id, cvr_id, discrepancy, consensus_no, updated_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (audit_id, cvr_id) DO UPDATE SET discrepancy = excluded.discrepancy,
             consensus_no = excluded.consensus_no, updated_at = excluded.updated_at`,
		auditID, cvrID, value, boolToInt(consensusNo), nowString(),
	); err != nil {
		return fmt.Errorf("set discrepancy: %w", err)
	}
	return nil
}

