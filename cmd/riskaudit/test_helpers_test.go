package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"riskaudit/internal/config"
	"riskaudit/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("RISKAUDIT_LOG_LEVEL", "error")

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--env-file", ""}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (e *cliTestEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, _, err := runCLI(t, args, e.configPath)
	if err != nil {
		t.Fatalf("riskaudit %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// writeFile writes lines to name under the env's base directory.
func (e *cliTestEnv) writeFile(t *testing.T, name string, lines ...string) string {
	t.Helper()
	return testsupport.WriteLines(t, filepath.Join(e.baseDir, name), lines...)
}

// landslideCVRs renders a JSON-lines export of count ballots in batch A where
// only the last ballot votes Bob.
func landslideCVRs(count int) []string {
	lines := []string{`{"contests":[{"name":"Mayor","choices":["Alice","Bob"],"votes_allowed":1}]}`}
	for i := 1; i <= count; i++ {
		choice := "Alice"
		if i == count {
			choice = "Bob"
		}
		lines = append(lines, fmt.Sprintf(
			`{"scanner_id":1,"batch_id":"A","record_id":%d,"imprinted_id":"1-A-%d","cvr_number":%d,"ballot_type":"B1","votes":{"Mayor":[%q]}}`,
			i, i, i, choice))
	}
	return lines
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
