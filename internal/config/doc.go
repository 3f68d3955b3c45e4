// Package config loads, normalizes, and validates riskaudit configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// RISKAUDIT_LOG_LEVEL. The Config type gathers every knob the engine and CLI
// need: where the audit database and lock files live, the declared risk
// limit and gamma applied to new comparison audits, the sign-off threshold for
// audit boards, and the import batch size.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
