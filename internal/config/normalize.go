package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkers()
	c.normalizeResources()
	c.normalizeMonitoring()
	c.normalizeIntake()
	c.normalizeNotifications()
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.IntakeDir) == "" {
		c.Paths.IntakeDir = defaultIntakeDir
	}
	if c.Paths.IntakeDir, err = expandPath(c.Paths.IntakeDir); err != nil {
		return fmt.Errorf("paths.intake_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkers() {
	if c.Workers.AsyncWorkers <= 0 {
		c.Workers.AsyncWorkers = defaultAsyncWorkers
	}
	if c.Workers.ThreadWorkers <= 0 {
		c.Workers.ThreadWorkers = defaultThreadWorkers
	}
	if c.Workers.ProcessWorkers <= 0 {
		c.Workers.ProcessWorkers = defaultProcessWorkers
	}
	if c.Workers.MaxQueueSize <= 0 {
		c.Workers.MaxQueueSize = defaultMaxQueueSize
	}
	if c.Workers.DefaultTimeoutSeconds <= 0 {
		c.Workers.DefaultTimeoutSeconds = defaultTaskTimeoutSeconds
	}
	c.Workers.QueueFullPolicy = strings.ToLower(strings.TrimSpace(c.Workers.QueueFullPolicy))
	if c.Workers.QueueFullPolicy == "" {
		c.Workers.QueueFullPolicy = defaultQueueFullPolicy
	}
	if c.Workers.RetryCount < 0 {
		c.Workers.RetryCount = 0
	}
	if c.Workers.RetryDelaySeconds <= 0 {
		c.Workers.RetryDelaySeconds = defaultRetryDelaySeconds
	}
}

func (c *Config) normalizeResources() {
	if len(c.Resources.Capacity) == 0 {
		c.Resources.Capacity = Default().Resources.Capacity
	}
	if c.Resources.SampleIntervalSeconds <= 0 {
		c.Resources.SampleIntervalSeconds = defaultSampleInterval
	}
	if c.Resources.MemoryAlertPercent <= 0 {
		c.Resources.MemoryAlertPercent = defaultMemoryAlertPercent
	}
	if c.Resources.LoadAlertPerCPU <= 0 {
		c.Resources.LoadAlertPerCPU = defaultLoadAlertPerCPU
	}
}

func (c *Config) normalizeMonitoring() {
	if c.Monitoring.WindowSize <= 0 {
		c.Monitoring.WindowSize = defaultMonitoringWindow
	}
	if c.Monitoring.HistorySize <= 0 {
		c.Monitoring.HistorySize = defaultMonitoringHistory
	}
	if c.Monitoring.FailureRateThreshold <= 0 {
		c.Monitoring.FailureRateThreshold = defaultFailureRateThreshold
	}
	if c.Monitoring.AvgDurationThresholdSeconds <= 0 {
		c.Monitoring.AvgDurationThresholdSeconds = defaultAvgDurationThreshold
	}
}

func (c *Config) normalizeIntake() {
	if c.Intake.PollIntervalSeconds <= 0 {
		c.Intake.PollIntervalSeconds = defaultIntakePollSeconds
	}
	if c.Intake.MaxConcurrent <= 0 {
		c.Intake.MaxConcurrent = defaultIntakeMaxConcurrent
	}
	patterns := make([]string, 0, len(c.Intake.Patterns))
	for _, pattern := range c.Intake.Patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		patterns = append(patterns, trimmed)
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	c.Intake.Patterns = patterns
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("DOCKET_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Name = strings.TrimSpace(c.Pipeline.Name)
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = defaultPipelineName
	}
	if c.Pipeline.MaxParallelStages <= 0 {
		c.Pipeline.MaxParallelStages = defaultMaxParallelStages
	}
	for i := range c.Pipeline.Stages {
		stage := &c.Pipeline.Stages[i]
		stage.Name = strings.TrimSpace(stage.Name)
		stage.Type = strings.ToLower(strings.TrimSpace(stage.Type))
		if stage.Type == "" {
			stage.Type = "processor"
		}
		stage.Processor = strings.TrimSpace(stage.Processor)
		if stage.Processor == "" {
			stage.Processor = stage.Name
		}
		stage.Lane = strings.ToLower(strings.TrimSpace(stage.Lane))
		if stage.Lane == "" {
			stage.Lane = "async"
		}
		if stage.TimeoutSeconds <= 0 {
			stage.TimeoutSeconds = c.Workers.DefaultTimeoutSeconds
		}
		if stage.RetryCount < 0 {
			stage.RetryCount = 0
		}
		if stage.RetryDelaySecs <= 0 {
			stage.RetryDelaySecs = c.Workers.RetryDelaySeconds
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
