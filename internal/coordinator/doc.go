// Package coordinator decides how county and state audit rounds advance.
//
// Everything here is pure: the county and state machines map (state, event)
// to (state, effects), DecideSignOff turns a sign-off request plus the county's
// audits into a decision, and ReduceState folds a snapshot of every county into
// the state-level outcome. Callers persist the results inside one transaction;
// nothing in this package touches storage.
package coordinator
