package testsupport

import (
	"path/filepath"
	"testing"

	"docket/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Checkpointing and notifications are off so tests stay hermetic; options
// adjust the rest.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.IntakeDir = filepath.Join(base, "intake")
	cfg.Checkpoints.Enabled = false
	cfg.Notifications.NtfyTopic = ""

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithCheckpoints enables checkpoint persistence on the test config.
func WithCheckpoints() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Checkpoints.Enabled = true
	}
}

// WithIntake enables intake polling at the given interval.
func WithIntake(pollSeconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Intake.Enabled = true
		cfg.Intake.PollIntervalSeconds = pollSeconds
		cfg.Intake.MaxConcurrent = 2
	}
}

// WithStages declares the host pipeline on the test config.
func WithStages(name string, stages ...config.PipelineStage) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Name = name
		cfg.Pipeline.Stages = stages
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
