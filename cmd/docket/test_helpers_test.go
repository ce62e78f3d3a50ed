package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a config file rooted in a temp dir. The pipeline
// argument supplies [[pipeline.stages]] blocks verbatim.
func writeTestConfig(t *testing.T, pipelineStages string) string {
	t.Helper()
	base := t.TempDir()
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q
intake_dir = %q

[pipeline]
name = "docs"

%s`,
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "intake"),
		pipelineStages,
	)
	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output missing %q:\n%s", want, output)
	}
}
