package config

import (
	"errors"
	"fmt"
)

var stageTypes = map[string]struct{}{
	"processor":  {},
	"validator":  {},
	"router":     {},
	"aggregator": {},
}

var laneNames = map[string]struct{}{
	"async":   {},
	"thread":  {},
	"process": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateResources(); err != nil {
		return err
	}
	if err := c.validateMonitoring(); err != nil {
		return err
	}
	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if err := ensurePositiveMap(map[string]int{
		"workers.async_workers":           c.Workers.AsyncWorkers,
		"workers.thread_workers":          c.Workers.ThreadWorkers,
		"workers.process_workers":         c.Workers.ProcessWorkers,
		"workers.max_queue_size":          c.Workers.MaxQueueSize,
		"workers.default_timeout_seconds": c.Workers.DefaultTimeoutSeconds,
		"workers.retry_delay_seconds":     c.Workers.RetryDelaySeconds,
	}); err != nil {
		return err
	}
	switch c.Workers.QueueFullPolicy {
	case "block", "reject":
	default:
		return fmt.Errorf("workers.queue_full_policy must be \"block\" or \"reject\", got %q", c.Workers.QueueFullPolicy)
	}
	if c.Workers.RetryCount < 0 {
		return errors.New("workers.retry_count must be >= 0")
	}
	return nil
}

func (c *Config) validateResources() error {
	for name, capacity := range c.Resources.Capacity {
		if capacity <= 0 {
			return fmt.Errorf("resources.capacity[%q] must be positive", name)
		}
	}
	if c.Resources.SampleIntervalSeconds <= 0 {
		return errors.New("resources.sample_interval_seconds must be positive")
	}
	if c.Resources.MemoryAlertPercent <= 0 || c.Resources.MemoryAlertPercent > 100 {
		return errors.New("resources.memory_alert_percent must be between 0 and 100")
	}
	if c.Resources.LoadAlertPerCPU <= 0 {
		return errors.New("resources.load_alert_per_cpu must be positive")
	}
	return nil
}

func (c *Config) validateMonitoring() error {
	if err := ensurePositiveMap(map[string]int{
		"monitoring.window_size":  c.Monitoring.WindowSize,
		"monitoring.history_size": c.Monitoring.HistorySize,
	}); err != nil {
		return err
	}
	if c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1 {
		return errors.New("monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.AvgDurationThresholdSeconds <= 0 {
		return errors.New("monitoring.avg_duration_threshold_seconds must be positive")
	}
	return nil
}

func (c *Config) validateIntake() error {
	if !c.Intake.Enabled {
		return nil
	}
	if c.Paths.IntakeDir == "" {
		return errors.New("paths.intake_dir must be set when intake.enabled is true")
	}
	if c.Intake.PollIntervalSeconds <= 0 {
		return errors.New("intake.poll_interval_seconds must be positive")
	}
	if c.Intake.MaxConcurrent <= 0 {
		return errors.New("intake.max_concurrent must be positive")
	}
	if len(c.Pipeline.Stages) == 0 {
		return errors.New("pipeline.stages must declare at least one stage when intake.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxParallelStages <= 0 {
		return errors.New("pipeline.max_parallel_stages must be positive")
	}
	names := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		if stage.Name == "" {
			return errors.New("pipeline.stages: every stage must set name")
		}
		if _, exists := names[stage.Name]; exists {
			return fmt.Errorf("pipeline.stages: duplicate stage name %q", stage.Name)
		}
		names[stage.Name] = struct{}{}
		if _, ok := stageTypes[stage.Type]; !ok {
			return fmt.Errorf("pipeline.stages[%s].type %q is not one of processor, validator, router, aggregator", stage.Name, stage.Type)
		}
		if _, ok := laneNames[stage.Lane]; !ok {
			return fmt.Errorf("pipeline.stages[%s].lane %q is not one of async, thread, process", stage.Name, stage.Lane)
		}
		for resource, amount := range stage.Resources {
			if amount <= 0 {
				return fmt.Errorf("pipeline.stages[%s].resources[%q] must be positive", stage.Name, resource)
			}
			if _, known := c.Resources.Capacity[resource]; !known {
				return fmt.Errorf("pipeline.stages[%s] requests unknown resource %q (declare it under resources.capacity)", stage.Name, resource)
			}
		}
	}
	for _, stage := range c.Pipeline.Stages {
		for _, dep := range stage.DependsOn {
			if dep == stage.Name {
				return fmt.Errorf("pipeline.stages[%s] depends on itself", stage.Name)
			}
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("pipeline.stages[%s] depends on undeclared stage %q", stage.Name, dep)
			}
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
