package coordinator

import (
	"fmt"

	"riskaudit/internal/services"
)

// CountyState is the audit state of one county.
type CountyState string

const (
	CountyNotStarted      CountyState = "NOT_STARTED"
	CountyImporting       CountyState = "IMPORTING"
	CountyImported        CountyState = "IMPORTED"
	CountyRoundInProgress CountyState = "ROUND_IN_PROGRESS"
	CountyRoundSignedOff  CountyState = "ROUND_SIGNED_OFF"
	CountyAuditComplete   CountyState = "AUDIT_COMPLETE"
	CountyHandCount       CountyState = "HAND_COUNT"
)

// ParseCountyState validates a stored county state.
func ParseCountyState(value string) (CountyState, error) {
	switch s := CountyState(value); s {
	case CountyNotStarted, CountyImporting, CountyImported, CountyRoundInProgress,
		CountyRoundSignedOff, CountyAuditComplete, CountyHandCount:
		return s, nil
	default:
		return "", fmt.Errorf("unknown county state %q", value)
	}
}

// Terminal reports whether the county has no further audit work.
func (s CountyState) Terminal() bool {
	return s == CountyAuditComplete || s == CountyHandCount
}

// Participating reports whether the county has entered the audit.
func (s CountyState) Participating() bool {
	switch s {
	case CountyRoundInProgress, CountyRoundSignedOff, CountyAuditComplete, CountyHandCount:
		return true
	default:
		return false
	}
}

// CountyEventKind names a county machine input.
type CountyEventKind string

const (
	ImportStarted   CountyEventKind = "import_started"
	ImportSucceeded CountyEventKind = "import_succeeded"
	ImportFailed    CountyEventKind = "import_failed"
	FilesDeleted    CountyEventKind = "files_deleted"
	RoundStarted    CountyEventKind = "round_started"
	RoundSignedOff  CountyEventKind = "round_signed_off"
	AuditCompleted  CountyEventKind = "audit_complete"
	HandCounted     CountyEventKind = "hand_count"
	CountyReset     CountyEventKind = "reset"
)

// CountyEvent is one county machine input. Ready reports whether both the CVR
// export and the ballot manifest are imported; it decides where imports,
// deletes and resets land.
type CountyEvent struct {
	Kind  CountyEventKind
	Ready bool
}

// Effect is an instruction emitted by a transition for the caller to carry out.
type Effect string

const (
	EffectRoundClosed       Effect = "round_closed"
	EffectCountyComplete    Effect = "county_audit_complete"
	EffectHandCountOrdered  Effect = "hand_count_ordered"
	EffectStateScanRequired Effect = "state_scan_required"
)

func readyState(ready bool) CountyState {
	if ready {
		return CountyImported
	}
	return CountyNotStarted
}

// TransitionCounty applies event to state. Illegal transitions return
// services.ErrInvariant and leave the state unchanged.
func TransitionCounty(state CountyState, event CountyEvent) (CountyState, []Effect, error) {
	switch event.Kind {
	case ImportStarted:
		switch state {
		case CountyNotStarted, CountyImported:
			return CountyImporting, nil, nil
		}
	case ImportSucceeded, ImportFailed:
		if state == CountyImporting {
			return readyState(event.Ready), nil, nil
		}
	case FilesDeleted:
		switch state {
		case CountyNotStarted, CountyImported:
			return readyState(event.Ready), nil, nil
		}
	case RoundStarted:
		switch state {
		case CountyImported, CountyRoundSignedOff:
			return CountyRoundInProgress, nil, nil
		}
	case RoundSignedOff:
		if state == CountyRoundInProgress {
			return CountyRoundSignedOff, []Effect{EffectRoundClosed, EffectStateScanRequired}, nil
		}
	case AuditCompleted:
		if state == CountyRoundSignedOff {
			return CountyAuditComplete, []Effect{EffectCountyComplete}, nil
		}
	case HandCounted:
		if state == CountyRoundSignedOff {
			return CountyHandCount, []Effect{EffectHandCountOrdered}, nil
		}
	case CountyReset:
		if state == CountyImporting {
			return state, nil, nil
		}
		return readyState(event.Ready), nil, nil
	}
	return state, nil, services.Wrap(
		services.ErrInvariant,
		"coordinator",
		"county transition",
		fmt.Sprintf("%s not allowed in state %s", event.Kind, state),
		nil,
	)
}
