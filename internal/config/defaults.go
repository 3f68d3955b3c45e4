package config

const (
	defaultDataDir             = "~/.local/share/riskaudit"
	defaultLogDir              = "~/.local/share/riskaudit/logs"
	defaultLockDir             = "~/.local/share/riskaudit/locks"
	defaultRiskLimit           = 0.03
	defaultGamma               = 1.03905
	defaultMinSignOffMembers   = 2
	defaultAuditBoards         = 1
	defaultLockTimeoutSeconds  = 30
	defaultImportBatchSize     = 50
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultDatabaseFilename    = "audit.db"
	defaultConfigPathExpansion = "~/.config/riskaudit/config.toml"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			LockDir: defaultLockDir,
		},
		Audit: Audit{
			RiskLimit:          defaultRiskLimit,
			Gamma:              defaultGamma,
			MinSignOffMembers:  defaultMinSignOffMembers,
			DefaultAuditBoards: defaultAuditBoards,
			LockTimeoutSeconds: defaultLockTimeoutSeconds,
		},
		Import: Import{
			BatchSize: defaultImportBatchSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
