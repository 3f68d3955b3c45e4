package engine

import (
	"context"
	"strings"

	"riskaudit/internal/coordinator"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

// SignOffResult is the outcome of one audit board's sign-off.
type SignOffResult struct {
	Round       coordinator.Round
	Closed      bool
	Branch      coordinator.Branch
	CountyState coordinator.CountyState
	StateState  coordinator.StateState
	Effects     []coordinator.Effect
}

// SignOffRound records an audit board's signatories for the county's current
// round. Once every board has signed, the round closes and the state-level
// reduction runs in the same transaction. Rejected requests change nothing.
func (e *Engine) SignOffRound(ctx context.Context, countyID int64, boardIndex int, signatories []string) (SignOffResult, error) {
	names := make([]string, 0, len(signatories))
	for _, name := range signatories {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	ctx = services.WithCountyID(ctx, countyID)
	release, err := e.locks.acquire(ctx, countyID)
	if err != nil {
		return SignOffResult{}, err
	}
	defer release()

	var out SignOffResult
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		county, err := tx.County(ctx, countyID)
		if err != nil {
			return err
		}
		var current *coordinator.Round
		round, ok, err := tx.CurrentRound(ctx, countyID)
		if err != nil {
			return err
		}
		if ok {
			current = &round
		}
		audits, err := tx.AuditsForCounty(ctx, countyID)
		if err != nil {
			return err
		}
		peers, err := tx.CountyStates(ctx)
		if err != nil {
			return err
		}
		delete(peers, countyID)

		decision, err := coordinator.DecideSignOff(coordinator.SignOffRequest{
			CountyID:       countyID,
			State:          county.State,
			Round:          current,
			AuditBoards:    county.AuditBoards,
			BoardIndex:     boardIndex,
			Signatories:    names,
			MinMembers:     e.minSignOff,
			CVRsImported:   county.CVRsImported,
			BallotsAudited: county.BallotsAudited,
			Audits:         audits,
			Peers:          peers,
			Now:            e.now(),
		})
		if err != nil {
			return err
		}

		if err := tx.SaveRound(ctx, decision.Round); err != nil {
			return err
		}
		out = SignOffResult{
			Round:       decision.Round,
			Closed:      decision.Closed,
			Branch:      decision.Branch,
			CountyState: decision.State,
			Effects:     decision.Effects,
		}
		state, _, err := tx.StateState(ctx)
		if err != nil {
			return err
		}
		out.StateState = state
		if !decision.Closed {
			return nil
		}

		if err := tx.SetCountyState(ctx, countyID, decision.State); err != nil {
			return err
		}
		for _, audit := range decision.Audits {
			if err := tx.SaveAudit(ctx, audit); err != nil {
				return err
			}
		}
		reduction, err := e.reduce(ctx, tx)
		if err != nil {
			return err
		}
		out.StateState = reduction.State
		if next, ok := reduction.Counties[countyID]; ok {
			out.CountyState = next
		}
		return nil
	})
	if err != nil {
		logging.WarnWithContext(e.log(ctx), "sign-off rejected", "signoff_rejected",
			logging.Error(err),
			logging.Int("audit_board", boardIndex+1),
			logging.String(logging.FieldImpact, "round remains open"),
		)
		return SignOffResult{}, err
	}

	logger := e.log(ctx).With(logging.Int(logging.FieldRound, out.Round.Number))
	if !out.Closed {
		logger.Info("audit board signed off",
			logging.Int("audit_board", boardIndex+1),
			logging.Int("signed_boards", out.Round.SignedBoards(e.minSignOff)),
		)
		return out, nil
	}
	attrs := logging.DecisionAttrs("round_closure", string(out.Branch), string(out.CountyState))
	attrs = append(attrs,
		logging.String(logging.FieldEventType, "round_signed_off"),
		logging.String("state", string(out.StateState)),
	)
	logger.Info("round closed", logging.Args(attrs...)...)
	return out, nil
}
