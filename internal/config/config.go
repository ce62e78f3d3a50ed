package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	IntakeDir string `toml:"intake_dir"`
}

// Workers contains worker pool sizing and task execution defaults.
type Workers struct {
	AsyncWorkers          int    `toml:"async_workers"`
	ThreadWorkers         int    `toml:"thread_workers"`
	ProcessWorkers        int    `toml:"process_workers"`
	MaxQueueSize          int    `toml:"max_queue_size"`
	DefaultTimeoutSeconds int    `toml:"default_timeout_seconds"`
	QueueFullPolicy       string `toml:"queue_full_policy"`
	RetryCount            int    `toml:"retry_count"`
	RetryDelaySeconds     int    `toml:"retry_delay_seconds"`
}

// Resources contains logical capacities and host sampling settings.
type Resources struct {
	Capacity              map[string]int64 `toml:"capacity"`
	SampleIntervalSeconds int              `toml:"sample_interval_seconds"`
	MemoryAlertPercent    float64          `toml:"memory_alert_percent"`
	LoadAlertPerCPU       float64          `toml:"load_alert_per_cpu"`
}

// Monitoring contains processor metrics window sizes and alert thresholds.
type Monitoring struct {
	WindowSize                  int     `toml:"window_size"`
	HistorySize                 int     `toml:"history_size"`
	FailureRateThreshold        float64 `toml:"failure_rate_threshold"`
	AvgDurationThresholdSeconds float64 `toml:"avg_duration_threshold_seconds"`
}

// Checkpoints contains pipeline checkpoint persistence settings.
type Checkpoints struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Intake contains configuration for the daemon intake directory poller.
type Intake struct {
	Enabled             bool     `toml:"enabled"`
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	Patterns            []string `toml:"patterns"`
	MaxConcurrent       int      `toml:"max_concurrent"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	RequestTimeout    int    `toml:"request_timeout"`
	PipelineCompleted bool   `toml:"pipeline_completed"`
	StageFailures     bool   `toml:"stage_failures"`
	Alerts            bool   `toml:"alerts"`
}

// PipelineStage declares one stage of the host pipeline definition.
type PipelineStage struct {
	Name            string           `toml:"name"`
	Type            string           `toml:"type"`
	Processor       string           `toml:"processor"`
	DependsOn       []string         `toml:"depends_on"`
	Lane            string           `toml:"lane"`
	TimeoutSeconds  int              `toml:"timeout_seconds"`
	RetryCount      int              `toml:"retry_count"`
	RetryDelaySecs  int              `toml:"retry_delay_seconds"`
	RunOnFailedDeps bool             `toml:"run_on_failed_deps"`
	Resources       map[string]int64 `toml:"resources"`
	Config          map[string]any   `toml:"config"`
}

// Pipeline declares the pipeline the daemon runs over intake documents.
// Hosts with richer needs construct pipeline configs in code instead.
type Pipeline struct {
	Name              string          `toml:"name"`
	MaxParallelStages int             `toml:"max_parallel_stages"`
	Stages            []PipelineStage `toml:"stages"`
}

// Config encapsulates all configuration values for docket hosts.
//
// Configuration sections by subsystem:
//   - Paths: state, log, and intake directories
//   - Workers: lane sizing, queue bounds, default timeout and retry policy
//   - Resources: named logical capacities plus host sampling thresholds
//   - Monitoring: metrics windows and alert thresholds
//   - Checkpoints: pipeline context persistence toggle
//   - Logging: log format and level
//   - Intake: daemon intake directory polling
//   - Notifications: ntfy push notification settings
//   - Pipeline: declarative stage list for the daemon's intake pipeline
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workers       Workers       `toml:"workers"`
	Resources     Resources     `toml:"resources"`
	Monitoring    Monitoring    `toml:"monitoring"`
	Checkpoints   Checkpoints   `toml:"checkpoints"`
	Logging       Logging       `toml:"logging"`
	Intake        Intake        `toml:"intake"`
	Notifications Notifications `toml:"notifications"`
	Pipeline      Pipeline      `toml:"pipeline"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docket/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The string result is the path
// that was considered, and the bool reports whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docket.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for host operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Intake.Enabled && strings.TrimSpace(c.Paths.IntakeDir) != "" {
		if err := os.MkdirAll(c.Paths.IntakeDir, 0o755); err != nil {
			return fmt.Errorf("create intake directory %q: %w", c.Paths.IntakeDir, err)
		}
	}
	return nil
}

// SampleConfig returns the annotated sample configuration shipped with docket.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the annotated sample configuration to path, creating
// parent directories as needed.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
