// Package ledger holds the comparison audit aggregate kept for every contest
// under audit.
//
// A ComparisonAudit is owned by its contest, not by any county: counties
// contribute audited ballots to it, and an audit spanning several counties is
// shared state whose completion is decided by the round coordinator. The
// aggregate tracks which ballots were drawn for the contest (with
// multiplicity), the discrepancy buckets, the audited sample count, the
// disagreement count and the audit status. Mutations are plain methods; the
// store applies each contest's update in a single transaction so concurrent
// readers never observe a half-applied change.
package ledger
