package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAudit(); err != nil {
		return err
	}
	if err := c.validateImport(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.RiskLimit <= 0 || c.Audit.RiskLimit >= 1 {
		return errors.New("audit.risk_limit must be between 0 and 1 (exclusive)")
	}
	if c.Audit.Gamma <= 1 {
		return errors.New("audit.gamma must be greater than 1")
	}
	if c.Audit.MinSignOffMembers < 1 {
		return errors.New("audit.min_signoff_members must be at least 1")
	}
	if c.Audit.DefaultAuditBoards < 1 {
		return errors.New("audit.default_audit_boards must be at least 1")
	}
	if c.Audit.LockTimeoutSeconds < 0 {
		return errors.New("audit.lock_timeout_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateImport() error {
	if c.Import.BatchSize < 1 {
		return errors.New("import.batch_size must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
