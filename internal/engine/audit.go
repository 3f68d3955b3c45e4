package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/ledger"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

// AuditRequest defines a comparison audit for one contest.
type AuditRequest struct {
	Contest  string
	Reason   ledger.Reason
	Targeted bool
	// RiskLimit overrides the configured risk limit when positive.
	RiskLimit float64
}

// DefineAudit tallies the contest from uploaded CVRs and creates its
// comparison audit. Every county carrying the contest must be fully imported.
func (e *Engine) DefineAudit(ctx context.Context, req AuditRequest) (*ledger.ComparisonAudit, error) {
	if req.Reason == ledger.ReasonOpportunistic && req.Targeted {
		return nil, services.Wrap(services.ErrValidation, "engine", "define audit", "opportunistic audits cannot be targeted", nil)
	}
	limit := e.riskLimit
	if req.RiskLimit > 0 {
		if req.RiskLimit >= 1 {
			return nil, services.Wrap(services.ErrValidation, "engine", "define audit", "risk limit must be below 1", nil)
		}
		limit = decimal.NewFromFloat(req.RiskLimit)
	}
	ctx = services.WithContest(ctx, req.Contest)

	ids, err := e.allCountyIDs(ctx)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.acquire(ctx, ids...)
	if err != nil {
		return nil, err
	}
	defer release()

	var audit *ledger.ComparisonAudit
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		state, _, err := tx.StateState(ctx)
		if err != nil {
			return err
		}
		nextState, err := coordinator.TransitionState(state, coordinator.StateAuditDefined)
		if err != nil {
			return err
		}
		contest, err := tx.ContestByName(ctx, req.Contest)
		if err != nil {
			return err
		}
		if _, err := tx.AuditByContest(ctx, contest.Name); err == nil {
			return services.Wrap(services.ErrInvariant, "engine", "define audit", fmt.Sprintf("contest %q already has an audit", contest.Name), nil)
		} else if !store.IsNotFound(err) {
			return err
		}

		countyIDs, err := tx.ContestCounties(ctx, contest.ID)
		if err != nil {
			return err
		}
		if len(countyIDs) == 0 {
			return services.Wrap(services.ErrInvariant, "engine", "define audit", fmt.Sprintf("no county has uploaded votes in %q", contest.Name), nil)
		}
		for _, id := range countyIDs {
			county, err := tx.County(ctx, id)
			if err != nil {
				return err
			}
			if county.State != coordinator.CountyImported {
				return services.Wrap(services.ErrInvariant, "engine", "define audit", fmt.Sprintf("county %s is %s, not imported", county.Name, county.State), nil)
			}
		}

		votes, err := tx.UploadedVotes(ctx, contest)
		if err != nil {
			return err
		}
		result := ballot.Tally(contest, countyIDs, votes)
		audit = ledger.New(contest, result, req.Reason, req.Targeted, limit, e.gamma)
		if err := tx.InsertAudit(ctx, audit); err != nil {
			return err
		}
		return tx.SetStateState(ctx, nextState)
	})
	if err != nil {
		return nil, err
	}

	e.log(ctx).Info("audit defined",
		logging.String("reason", string(audit.Reason)),
		logging.Bool("targeted", audit.Targeted),
		logging.Decimal("risk_limit", audit.RiskLimit),
		logging.Float64("diluted_margin", audit.DilutedMargin()),
		logging.Int("counties", len(audit.CountyIDs())),
		logging.Int("optimistic_samples", audit.OptimisticSamplesToAudit()),
	)
	return audit, nil
}

// IndicateHandCount orders a full hand count of the contest. Counties whose
// audits are then all finished and whose round is signed off complete as hand
// counts.
func (e *Engine) IndicateHandCount(ctx context.Context, contest string) (*ledger.ComparisonAudit, error) {
	ctx = services.WithContest(ctx, contest)
	ids, err := e.allCountyIDs(ctx)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.acquire(ctx, ids...)
	if err != nil {
		return nil, err
	}
	defer release()

	var audit *ledger.ComparisonAudit
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		state, _, err := tx.StateState(ctx)
		if err != nil {
			return err
		}
		if state == coordinator.StateInitial || state == coordinator.StateAuditComplete {
			return services.Wrap(services.ErrInvariant, "engine", "hand count", fmt.Sprintf("state audit is %s", state), nil)
		}
		audit, err = tx.AuditByContest(ctx, contest)
		if err != nil {
			return err
		}
		audit.HandCount()
		if err := tx.SaveAudit(ctx, audit); err != nil {
			return err
		}

		audits, err := tx.Audits(ctx)
		if err != nil {
			return err
		}
		for _, id := range audit.CountyIDs() {
			county, err := tx.County(ctx, id)
			if err != nil {
				return err
			}
			next, ok := coordinator.CompleteIfFinished(county.State, coordinator.Covering(audits, id))
			if !ok {
				continue
			}
			if err := tx.SetCountyState(ctx, id, next); err != nil {
				return err
			}
		}
		_, err = e.reduce(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.WarnWithContext(e.log(ctx), "hand count ordered", "hand_count_ordered",
		logging.String(logging.FieldImpact, "contest removed from targeting; its ballots must be counted by hand"),
		logging.String(logging.FieldErrorHint, "coordinate the hand count with the participating counties"),
	)
	return audit, nil
}

// ResetAudit deletes every tribute, ACVR, phantom, discrepancy association,
// sample, audit and round, and rewinds the county and state machines.
// Uploaded files and CVRs are kept.
func (e *Engine) ResetAudit(ctx context.Context) error {
	ids, err := e.allCountyIDs(ctx)
	if err != nil {
		return err
	}
	release, err := e.locks.acquire(ctx, ids...)
	if err != nil {
		return err
	}
	defer release()

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.ResetAuditData(ctx); err != nil {
			return err
		}
		counties, err := tx.Counties(ctx)
		if err != nil {
			return err
		}
		for _, county := range counties {
			ready, err := tx.CountyReady(ctx, county.ID)
			if err != nil {
				return err
			}
			next, _, err := coordinator.TransitionCounty(county.State, coordinator.CountyEvent{Kind: coordinator.CountyReset, Ready: ready})
			if err != nil {
				return err
			}
			if next != county.State {
				if err := tx.SetCountyState(ctx, county.ID, next); err != nil {
					return err
				}
			}
		}
		state, _, err := tx.StateState(ctx)
		if err != nil {
			return err
		}
		next, err := coordinator.TransitionState(state, coordinator.StateReset)
		if err != nil {
			return err
		}
		return tx.SetStateState(ctx, next)
	})
	if err != nil {
		return err
	}
	logging.WarnWithContext(e.log(ctx), "audit reset", "audit_reset",
		logging.String(logging.FieldImpact, "all audit evidence deleted; uploads kept"),
		logging.String(logging.FieldErrorHint, "define audits again before starting rounds"),
	)
	return nil
}
