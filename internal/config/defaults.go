package config

const (
	defaultStateDir              = "~/.local/share/docket/state"
	defaultLogDir                = "~/.local/share/docket/logs"
	defaultIntakeDir             = "~/.local/share/docket/intake"
	defaultAsyncWorkers          = 8
	defaultThreadWorkers         = 4
	defaultProcessWorkers        = 2
	defaultMaxQueueSize          = 64
	defaultTaskTimeoutSeconds    = 300
	defaultQueueFullPolicy       = "block"
	defaultRetryCount            = 2
	defaultRetryDelaySeconds     = 5
	defaultSampleInterval        = 30
	defaultMemoryAlertPercent    = 90.0
	defaultLoadAlertPerCPU       = 2.0
	defaultMonitoringWindow      = 50
	defaultMonitoringHistory     = 100
	defaultFailureRateThreshold  = 0.5
	defaultAvgDurationThreshold  = 120.0
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultIntakePollSeconds     = 5
	defaultIntakeMaxConcurrent   = 2
	defaultNotifyRequestTimeout  = 10
	defaultPipelineName          = "intake"
	defaultMaxParallelStages     = 4
	defaultResourceCPUUnits      = 8
	defaultResourceMemoryMB      = 4096
	defaultResourceIOSlots       = 4
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			IntakeDir: defaultIntakeDir,
		},
		Workers: Workers{
			AsyncWorkers:          defaultAsyncWorkers,
			ThreadWorkers:         defaultThreadWorkers,
			ProcessWorkers:        defaultProcessWorkers,
			MaxQueueSize:          defaultMaxQueueSize,
			DefaultTimeoutSeconds: defaultTaskTimeoutSeconds,
			QueueFullPolicy:       defaultQueueFullPolicy,
			RetryCount:            defaultRetryCount,
			RetryDelaySeconds:     defaultRetryDelaySeconds,
		},
		Resources: Resources{
			Capacity: map[string]int64{
				"cpu":       defaultResourceCPUUnits,
				"memory_mb": defaultResourceMemoryMB,
				"io":        defaultResourceIOSlots,
			},
			SampleIntervalSeconds: defaultSampleInterval,
			MemoryAlertPercent:    defaultMemoryAlertPercent,
			LoadAlertPerCPU:       defaultLoadAlertPerCPU,
		},
		Monitoring: Monitoring{
			WindowSize:                  defaultMonitoringWindow,
			HistorySize:                 defaultMonitoringHistory,
			FailureRateThreshold:        defaultFailureRateThreshold,
			AvgDurationThresholdSeconds: defaultAvgDurationThreshold,
		},
		Checkpoints: Checkpoints{
			Enabled: false,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Intake: Intake{
			Enabled:             false,
			PollIntervalSeconds: defaultIntakePollSeconds,
			Patterns:            []string{"*"},
			MaxConcurrent:       defaultIntakeMaxConcurrent,
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyRequestTimeout,
			PipelineCompleted: true,
			StageFailures:     true,
			Alerts:            true,
		},
		Pipeline: Pipeline{
			Name:              defaultPipelineName,
			MaxParallelStages: defaultMaxParallelStages,
		},
	}
}
