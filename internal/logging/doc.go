// Package logging assembles structured slog loggers and formatting helpers used
// across riskaudit.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code can automatically
// tag log lines with county IDs, contest names, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
