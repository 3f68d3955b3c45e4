package coordinator

import (
	"fmt"

	"riskaudit/internal/services"
)

// StateState is the audit state of the Department of State.
type StateState string

const (
	StateInitial       StateState = "DOS_INITIAL_STATE"
	StateAuditReady    StateState = "DOS_AUDIT_READY"
	StateAuditOngoing  StateState = "DOS_AUDIT_ONGOING"
	StateRoundComplete StateState = "DOS_ROUND_COMPLETE"
	StateAuditComplete StateState = "DOS_AUDIT_COMPLETE"
)

// ParseStateState validates a stored state-level state.
func ParseStateState(value string) (StateState, error) {
	switch s := StateState(value); s {
	case StateInitial, StateAuditReady, StateAuditOngoing, StateRoundComplete, StateAuditComplete:
		return s, nil
	default:
		return "", fmt.Errorf("unknown state audit state %q", value)
	}
}

// StateEvent is a state machine input.
type StateEvent string

const (
	StateAuditDefined  StateEvent = "audit_defined"
	StateRoundStarted  StateEvent = "round_started"
	StateRoundFinished StateEvent = "round_complete"
	StateAuditFinished StateEvent = "audit_complete"
	StateReset         StateEvent = "reset"
)

// TransitionState applies event to the state-level machine.
func TransitionState(state StateState, event StateEvent) (StateState, error) {
	switch event {
	case StateAuditDefined:
		if state == StateInitial || state == StateAuditReady {
			return StateAuditReady, nil
		}
	case StateRoundStarted:
		switch state {
		case StateAuditReady, StateAuditOngoing, StateRoundComplete:
			return StateAuditOngoing, nil
		}
	case StateRoundFinished:
		if state == StateAuditOngoing {
			return StateRoundComplete, nil
		}
	case StateAuditFinished:
		if state == StateAuditOngoing || state == StateRoundComplete {
			return StateAuditComplete, nil
		}
	case StateReset:
		return StateInitial, nil
	}
	return state, services.Wrap(
		services.ErrInvariant,
		"coordinator",
		"state transition",
		fmt.Sprintf("%s not allowed in state %s", event, state),
		nil,
	)
}
