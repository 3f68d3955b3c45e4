package engine

import (
	"context"
	"fmt"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/ledger"
	"riskaudit/internal/locator"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

// RoundStart is the outcome of StartRound.
type RoundStart struct {
	Round coordinator.Round
	Drawn []store.DrawnBallot
	// Ballots is the number of distinct ballots to examine.
	Ballots int
	// Phantoms counts the distinct drawn positions with no CVR.
	Phantoms int
	// AlreadyAudited counts draws whose ballot already has an ACVR; they are
	// credited to the audits immediately.
	AlreadyAudited int
	// Expected is the optimistic total sample size per covering contest,
	// estimated from the evidence after this round's credits.
	Expected map[string]int
}

// StartRound resolves the county's drawn tributes, opens the next round and
// registers the samples with every audit covering each ballot.
func (e *Engine) StartRound(ctx context.Context, countyID int64, tributes []ballot.Tribute) (RoundStart, error) {
	if len(tributes) == 0 {
		return RoundStart{}, services.Wrap(services.ErrValidation, "engine", "start round", "no ballots drawn", nil)
	}
	draws := make([]ballot.Tribute, len(tributes))
	for i, t := range tributes {
		if t.CountyID == 0 {
			t.CountyID = countyID
		}
		if t.CountyID != countyID {
			return RoundStart{}, services.Wrap(services.ErrValidation, "engine", "start round", fmt.Sprintf("tribute %d belongs to county %d", i+1, t.CountyID), nil)
		}
		draws[i] = t
	}

	ctx = services.WithCountyID(ctx, countyID)
	release, err := e.locks.acquire(ctx, countyID)
	if err != nil {
		return RoundStart{}, err
	}
	defer release()

	var out RoundStart
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		state, _, err := tx.StateState(ctx)
		if err != nil {
			return err
		}
		nextState, err := coordinator.TransitionState(state, coordinator.StateRoundStarted)
		if err != nil {
			return err
		}
		county, err := tx.County(ctx, countyID)
		if err != nil {
			return err
		}
		if county.AuditBoards <= 0 {
			return services.Wrap(services.ErrInvariant, "engine", "start round", "audit board count is not set", nil)
		}
		nextCounty, _, err := coordinator.TransitionCounty(county.State, coordinator.CountyEvent{Kind: coordinator.RoundStarted})
		if err != nil {
			return err
		}
		audits, err := tx.AuditsForCounty(ctx, countyID)
		if err != nil {
			return err
		}
		if len(audits) == 0 {
			return services.Wrap(services.ErrInvariant, "engine", "start round", "no audit covers the county", nil)
		}

		records, err := locator.New(tx, e.base).ResolveTributes(ctx, draws)
		if err != nil {
			return err
		}

		previous, ok, err := tx.CurrentRound(ctx, countyID)
		if err != nil {
			return err
		}
		round := coordinator.Round{CountyID: countyID, Number: 1, StartedAt: e.now(), ExpectedCount: len(draws)}
		if ok {
			round.Number = previous.Number + 1
		}
		if err := tx.InsertRound(ctx, &round); err != nil {
			return err
		}

		drawn := make([]store.DrawnBallot, len(draws))
		multiplicity := make(map[int64]int, len(records))
		distinct := make([]ballot.Record, 0, len(records))
		for i, rec := range records {
			drawn[i] = store.DrawnBallot{RoundNumber: round.Number, Tribute: draws[i], CVRID: rec.ID}
			if multiplicity[rec.ID] == 0 {
				distinct = append(distinct, rec)
			}
			multiplicity[rec.ID]++
		}
		if err := tx.InsertDrawnBallots(ctx, round.Number, drawn); err != nil {
			return err
		}

		out = RoundStart{Round: round, Drawn: drawn, Ballots: len(distinct)}
		changed := make(map[int64]*ledger.ComparisonAudit)
		credited := 0
		for _, rec := range distinct {
			n := multiplicity[rec.ID]
			if rec.Type == ballot.RecordPhantom {
				out.Phantoms++
			}
			_, audited, err := tx.CurrentACVR(ctx, rec.ID)
			if err != nil {
				return err
			}
			for _, audit := range audits {
				if !covers(audit, rec) {
					continue
				}
				audit.AddSample(rec.ID, n)
				if err := tx.AddSample(ctx, audit.ID, rec.ID, n); err != nil {
					return err
				}
				if audited {
					value, no, ok, err := tx.AuditInfo(ctx, audit.ID, rec.ID)
					if err != nil {
						return err
					}
					if ok {
						audit.Record(value, n, no)
					}
				}
				changed[audit.ID] = audit
			}
			if audited {
				credited += n
			}
		}
		for _, audit := range changed {
			if err := tx.SaveAudit(ctx, audit); err != nil {
				return err
			}
		}
		if credited > 0 {
			if err := tx.AddBallotsAudited(ctx, countyID, credited); err != nil {
				return err
			}
		}
		out.AlreadyAudited = credited
		out.Expected = make(map[string]int, len(audits))
		for _, audit := range audits {
			out.Expected[audit.Contest.Name] = audit.OptimisticSamplesToAudit()
		}

		if err := tx.SetCountyState(ctx, countyID, nextCounty); err != nil {
			return err
		}
		return tx.SetStateState(ctx, nextState)
	})
	if err != nil {
		return RoundStart{}, err
	}

	e.log(ctx).Info("round started",
		logging.Int(logging.FieldRound, out.Round.Number),
		logging.Int("tributes", len(out.Drawn)),
		logging.Int("ballots", out.Ballots),
		logging.Int("phantoms", out.Phantoms),
		logging.Int("already_audited", out.AlreadyAudited),
	)
	return out, nil
}

// covers reports whether a drawn record counts as a sample for the audit:
// the ballot carries the contest, or no CVR exists for it.
func covers(audit *ledger.ComparisonAudit, rec ballot.Record) bool {
	if !audit.Covers(rec.Key.CountyID) {
		return false
	}
	return rec.Type == ballot.RecordPhantom || rec.HasContest(audit.Contest.Name)
}
