// Package preflight provides readiness checks for the filesystem paths and
// database the audit engine depends on.
//
// The CLI "check" command runs RunAll and prints each result; commands that
// mutate audit state do not repeat the checks.
package preflight
