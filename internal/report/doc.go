// Package report builds the tabular audit reports: per-contest activity and
// results, and the state-wide summary. Each report is a header plus string
// rows, already formatted for display or export.
package report
