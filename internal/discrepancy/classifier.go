package discrepancy

import (
	"context"
	"fmt"

	"riskaudit/internal/ballot"
	"riskaudit/internal/services"
)

// Cache returns the discrepancy stored for (contest, cvr) when the current ACVR
// was submitted. ok is false when the ballot has not been audited for contest.
type Cache interface {
	CachedDiscrepancy(ctx context.Context, contest string, cvrID int64) (value int, ok bool, err error)
}

// Records loads the CVR an ACVR was entered against.
type Records interface {
	RecordByID(ctx context.Context, id int64) (ballot.Record, error)
}

// Classifier finds the discrepancy of an ACVR for one contest.
type Classifier struct {
	cache   Cache
	records Records
}

// NewClassifier constructs a classifier over a cache and a record source.
func NewClassifier(cache Cache, records Records) *Classifier {
	return &Classifier{cache: cache, records: records}
}

// Find returns the discrepancy of acvr for the outcome's contest. ok is false
// when there is none, which is distinct from a discrepancy of 0.
func (c *Classifier) Find(ctx context.Context, o Outcome, acvr ballot.Record) (int, bool, error) {
	switch acvr.Type {
	case ballot.RecordAuditorEntered:
		return c.cached(ctx, o, acvr)
	case ballot.RecordReaudited:
		return c.recompute(ctx, o, acvr)
	default:
		return 0, false, services.Wrap(
			services.ErrValidation,
			"discrepancy",
			"find",
			fmt.Sprintf("record %d is %s, not an audit record", acvr.ID, acvr.Type),
			nil,
		)
	}
}

func (c *Classifier) cached(ctx context.Context, o Outcome, acvr ballot.Record) (int, bool, error) {
	value, ok, err := c.cache.CachedDiscrepancy(ctx, o.Contest.Name, acvr.CVRID)
	if err != nil {
		return 0, false, services.Wrap(services.ErrTransient, "discrepancy", "read cache", o.Contest.Name, err)
	}
	return value, ok, nil
}

func (c *Classifier) recompute(ctx context.Context, o Outcome, acvr ballot.Record) (int, bool, error) {
	cvr, err := c.records.RecordByID(ctx, acvr.CVRID)
	if err != nil {
		return 0, false, services.Wrap(services.ErrNotFound, "discrepancy", "load cvr", fmt.Sprintf("cvr %d", acvr.CVRID), err)
	}
	return Compute(o, cvr, acvr), true, nil
}
