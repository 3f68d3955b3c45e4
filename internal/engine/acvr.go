package engine

import (
	"context"
	"fmt"
	"slices"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/discrepancy"
	"riskaudit/internal/ledger"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

// ContestVote is an audit board's reading of one contest on a ballot.
type ContestVote struct {
	Choices   []string
	Consensus ballot.Consensus
	Comment   string
}

// ACVRRequest is an audit board's submission for one drawn ballot.
type ACVRRequest struct {
	CountyID       int64
	CVRID          int64
	BoardIndex     int
	Votes          map[string]ContestVote
	BallotNotFound bool
	// Reaudit replaces the current ACVR; ReauditComment explains why.
	Reaudit        bool
	ReauditComment string
}

// ACVRResult reports the stored record and its classification per contest.
type ACVRResult struct {
	ACVR          ballot.Record
	Discrepancies map[string]int
	// Credited is the number of draws the submission added to the county's
	// audited ballot count.
	Credited int
}

// SubmitACVR records an audit board's interpretation of a drawn ballot and
// updates every audit the ballot is sampled for. A reaudit supersedes the
// current ACVR and revises the earlier classification in place.
func (e *Engine) SubmitACVR(ctx context.Context, req ACVRRequest) (ACVRResult, error) {
	ctx = services.WithCountyID(ctx, req.CountyID)
	release, err := e.locks.acquire(ctx, req.CountyID)
	if err != nil {
		return ACVRResult{}, err
	}
	defer release()

	var out ACVRResult
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		county, err := tx.County(ctx, req.CountyID)
		if err != nil {
			return err
		}
		if county.State != coordinator.CountyRoundInProgress {
			return services.Wrap(services.ErrInvariant, "engine", "submit acvr", fmt.Sprintf("county is %s, not in a round", county.State), nil)
		}
		if req.BoardIndex < 0 || req.BoardIndex >= county.AuditBoards {
			return services.Wrap(services.ErrValidation, "engine", "submit acvr", fmt.Sprintf("audit board %d out of range 1..%d", req.BoardIndex+1, county.AuditBoards), nil)
		}
		round, ok, err := tx.CurrentRound(ctx, req.CountyID)
		if err != nil {
			return err
		}
		if !ok || !round.Open() {
			return services.Wrap(services.ErrInvariant, "engine", "submit acvr", "no open round", nil)
		}

		cvr, err := tx.RecordByID(ctx, req.CVRID)
		if err != nil {
			return err
		}
		if cvr.Key.CountyID != req.CountyID || cvr.Type.IsAudit() {
			return services.Wrap(services.ErrValidation, "engine", "submit acvr", fmt.Sprintf("record %d is not a CVR of this county", cvr.ID), nil)
		}
		drawn, err := tx.DrawnBallots(ctx, req.CountyID, round.Number)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(drawn, func(d store.DrawnBallot) bool { return d.CVRID == cvr.ID }) {
			return services.Wrap(services.ErrInvariant, "engine", "submit acvr", fmt.Sprintf("ballot %s was not drawn in round %d", cvr.ImprintedID, round.Number), nil)
		}

		acvr, err := e.buildACVR(ctx, tx, cvr, round, req)
		if err != nil {
			return err
		}

		current, audited, err := tx.CurrentACVR(ctx, cvr.ID)
		if err != nil {
			return err
		}
		switch {
		case audited && !req.Reaudit:
			return services.Wrap(services.ErrInvariant, "engine", "submit acvr", fmt.Sprintf("ballot %s is already audited; submit a reaudit", cvr.ImprintedID), nil)
		case !audited && req.Reaudit:
			return services.Wrap(services.ErrInvariant, "engine", "submit acvr", fmt.Sprintf("ballot %s has no ACVR to reaudit", cvr.ImprintedID), nil)
		}

		var superseded ballot.Record
		if audited {
			superseded, err = tx.SupersedeACVR(ctx, current.ID, req.ReauditComment)
			if err != nil {
				return err
			}
		}
		stored, err := tx.InsertACVR(ctx, acvr)
		if err != nil {
			return err
		}

		audits, err := tx.AuditsForCounty(ctx, req.CountyID)
		if err != nil {
			return err
		}
		classifier := discrepancy.NewClassifier(tx, tx)
		out = ACVRResult{ACVR: stored, Discrepancies: make(map[string]int)}
		for _, audit := range audits {
			n := audit.Multiplicity(cvr.ID)
			if n == 0 || !covers(audit, cvr) {
				continue
			}
			if err := e.classify(ctx, tx, classifier, audit, cvr, stored, superseded, audited, n, &out); err != nil {
				return err
			}
		}
		if !audited {
			count, err := tx.DrawCount(ctx, cvr.ID)
			if err != nil {
				return err
			}
			if err := tx.AddBallotsAudited(ctx, req.CountyID, count); err != nil {
				return err
			}
			out.Credited = count
		}
		return nil
	})
	if err != nil {
		return ACVRResult{}, err
	}

	attrs := []logging.Attr{
		logging.Int64("cvr_id", req.CVRID),
		logging.String("imprinted_id", out.ACVR.ImprintedID),
		logging.Int("audit_board", req.BoardIndex+1),
		logging.Bool("reaudit", req.Reaudit),
		logging.Any("discrepancies", out.Discrepancies),
	}
	e.log(ctx).Info("acvr submitted", logging.Args(attrs...)...)
	return out, nil
}

func (e *Engine) buildACVR(ctx context.Context, tx *store.Tx, cvr ballot.Record, round coordinator.Round, req ACVRRequest) (ballot.Record, error) {
	acvr := ballot.Record{
		Type:            ballot.RecordAuditorEntered,
		Key:             cvr.Key,
		ImprintedID:     cvr.ImprintedID,
		CVRNumber:       cvr.CVRNumber,
		SequenceNumber:  cvr.SequenceNumber,
		BallotType:      cvr.BallotType,
		CVRID:           cvr.ID,
		RoundNumber:     round.Number,
		AuditBoardIndex: req.BoardIndex,
		BallotNotFound:  req.BallotNotFound,
		Timestamp:       e.now(),
	}
	names := make([]string, 0, len(req.Votes))
	for name := range req.Votes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		vote := req.Votes[name]
		contest, err := tx.ContestByName(ctx, name)
		if err != nil {
			return ballot.Record{}, err
		}
		info, err := ballot.NewContestInfo(contest, vote.Choices, vote.Consensus, vote.Comment)
		if err != nil {
			return ballot.Record{}, err
		}
		acvr.Contests = append(acvr.Contests, info)
	}
	return acvr, nil
}

// classify records the ACVR's discrepancy for one audit. A reaudit revises the
// superseded record's classification, recomputed from its raw choices.
func (e *Engine) classify(
	ctx context.Context,
	tx *store.Tx,
	classifier *discrepancy.Classifier,
	audit *ledger.ComparisonAudit,
	cvr, acvr, superseded ballot.Record,
	reaudit bool,
	n int,
	out *ACVRResult,
) error {
	contest := audit.Contest.Name
	outcome := discrepancy.OutcomeOf(audit.Contest, audit.Result)
	value := discrepancy.Compute(outcome, cvr, acvr)
	disagreed := acvr.Disagreed(contest)

	if reaudit {
		previous, ok, err := classifier.Find(ctx, outcome, superseded)
		if err != nil {
			return err
		}
		if ok {
			audit.Revise(previous, value, n, superseded.Disagreed(contest), disagreed)
		} else {
			audit.Record(value, n, disagreed)
		}
	} else {
		audit.Record(value, n, disagreed)
	}
	if err := tx.SetDiscrepancy(ctx, audit.ID, cvr.ID, value, disagreed); err != nil {
		return err
	}
	if err := tx.SaveAudit(ctx, audit); err != nil {
		return err
	}
	out.Discrepancies[contest] = value
	if value != 0 {
		logging.WarnWithContext(e.log(services.WithContest(ctx, contest)), "discrepancy recorded", "discrepancy_recorded",
			logging.Int64("cvr_id", cvr.ID),
			logging.Int("discrepancy", value),
			logging.Int("multiplicity", n),
			logging.String(logging.FieldImpact, "risk measurement rises; more ballots may be drawn"),
			logging.String(logging.FieldErrorHint, "confirm the audit board's interpretation"),
		)
	}
	return nil
}
