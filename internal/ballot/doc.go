// Package ballot holds the ballot-level records exchanged between the import
// pipeline, the ballot locator, the discrepancy classifier and the reports.
//
// A Record is either a county-uploaded CVR, an audit board's ACVR (current or
// superseded), or a phantom placeholder for a drawn ballot that has no CVR.
// ContestInfo values are validated against the contest's declared choices at
// construction time, so every Record that reaches the ledger carries only
// legal choices.
package ballot
