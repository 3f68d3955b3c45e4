package engine

import (
	"context"
	"fmt"
	"strings"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

// StandardizeRequest renames a contest, its choices, or both. Name may be the
// name of another declared contest, in which case the two are merged.
type StandardizeRequest struct {
	Contest string
	Name    string
	Choices map[string]string
}

// StandardizeContest gives a contest and its choices their standard spelling
// across every county, rewriting the imported CVRs. It is only allowed before
// any audit is defined and while no county is importing.
func (e *Engine) StandardizeContest(ctx context.Context, req StandardizeRequest) (ballot.Contest, error) {
	req.Contest = strings.TrimSpace(req.Contest)
	req.Name = strings.TrimSpace(req.Name)
	if req.Contest == "" {
		return ballot.Contest{}, services.Wrap(services.ErrValidation, "engine", "standardize contest", "contest name is required", nil)
	}
	if (req.Name == "" || req.Name == req.Contest) && len(req.Choices) == 0 {
		return ballot.Contest{}, services.Wrap(services.ErrValidation, "engine", "standardize contest", "nothing to rename", nil)
	}
	ctx = services.WithContest(ctx, req.Contest)

	ids, err := e.allCountyIDs(ctx)
	if err != nil {
		return ballot.Contest{}, err
	}
	release, err := e.locks.acquire(ctx, ids...)
	if err != nil {
		return ballot.Contest{}, err
	}
	defer release()

	var contest ballot.Contest
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		state, _, err := tx.StateState(ctx)
		if err != nil {
			return err
		}
		audited, err := tx.HasAuditData(ctx)
		if err != nil {
			return err
		}
		if state != coordinator.StateInitial || audited {
			return services.Wrap(services.ErrInvariant, "engine", "standardize contest",
				fmt.Sprintf("contest names are fixed once audits are defined (state %s)", state), nil)
		}
		counties, err := tx.CountyStates(ctx)
		if err != nil {
			return err
		}
		for id, cs := range counties {
			if cs == coordinator.CountyImporting {
				return services.Wrap(services.ErrInvariant, "engine", "standardize contest",
					fmt.Sprintf("county %d is importing", id), nil)
			}
		}
		contest, err = tx.StandardizeContest(ctx, store.ContestRename{
			Contest: req.Contest,
			Name:    req.Name,
			Choices: req.Choices,
		})
		return err
	})
	if err != nil {
		return ballot.Contest{}, err
	}

	e.log(ctx).Info("contest standardized",
		logging.String(logging.FieldEventType, "contest_standardized"),
		logging.String("standard_name", contest.Name),
		logging.Int("choices", len(contest.Choices)),
		logging.Int("choice_renames", len(req.Choices)),
	)
	return contest, nil
}

// Contests lists the declared contests with the counties carrying each one.
func (e *Engine) Contests(ctx context.Context) ([]ContestSummary, error) {
	contests, err := e.store.Contests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ContestSummary, 0, len(contests))
	for _, c := range contests {
		counties, err := e.store.ContestCounties(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ContestSummary{Contest: c, CountyIDs: counties})
	}
	return out, nil
}

// ContestSummary is one declared contest and the counties whose CVRs carry it.
type ContestSummary struct {
	Contest   ballot.Contest
	CountyIDs []int64
}
