package testsupport

import (
	"path/filepath"
	"testing"

	"riskaudit/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockDir = filepath.Join(base, "locks")
	cfgVal.Import.BatchSize = 7

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRiskLimit overrides the declared risk limit.
func WithRiskLimit(limit float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Audit.RiskLimit = limit
	}
}

// WithAuditBoards overrides the default audit board count for new counties.
func WithAuditBoards(boards int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Audit.DefaultAuditBoards = boards
	}
}

// WithBatchSize overrides the import batch size.
func WithBatchSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Import.BatchSize = size
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
