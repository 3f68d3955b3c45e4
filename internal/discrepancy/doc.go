// Package discrepancy classifies how an audit board's interpretation of a
// ballot (ACVR) differs from the county's tabulated CVR for one contest.
//
// Values follow the comparison-audit convention: 0 means the records agree,
// +1 and +2 overstate the reported margin, -1 and -2 understate it. A ballot
// that has not been audited has no discrepancy at all, which callers observe
// as ok == false rather than as 0.
//
// The Classifier has two explicit paths selected by the ACVR's record type:
// current ACVRs read the association cached when they were submitted, and
// superseded (REAUDITED) ACVRs are recomputed from raw choices because the
// cache only describes the latest submission.
package discrepancy
