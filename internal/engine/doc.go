// Package engine is the audit application service. It wires the ballot
// locator, the discrepancy classifier, the comparison audit ledger and the
// round coordinator to the store.
//
// Operations that touch one county run inside that county's critical
// section: an in-process slot plus a file lock under the configured lock
// directory, so separate CLI processes serialize as well. Each operation's
// read-decide-write happens in a single store transaction, and every state
// change that can finish a round is followed by the state-level reduction in
// the same transaction.
package engine
