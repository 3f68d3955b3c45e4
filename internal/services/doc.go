// Package services defines shared utilities consumed by the audit engine, the
// importer and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp county IDs, contest names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that let callers tell an
//     integrity fault from a rejected coordination request or a transient
//     import failure.
//
// Use these helpers when wiring new engine operations so error handling and
// observability stay uniform.
package services
