package system

import (
	"time"

	"docket/internal/config"
	"docket/internal/pipeline"
	"docket/internal/worker"
)

// PipelineFromConfig converts the declarative [pipeline] section into a
// runnable pipeline config. Conditions cannot be declared in TOML; hosts
// needing gated stages build their configs in code.
func PipelineFromConfig(cfg *config.Config) pipeline.Config {
	out := pipeline.Config{
		Name:              cfg.Pipeline.Name,
		MaxParallelStages: cfg.Pipeline.MaxParallelStages,
		CheckpointEnabled: cfg.Checkpoints.Enabled,
	}
	for _, stage := range cfg.Pipeline.Stages {
		out.Stages = append(out.Stages, pipeline.StageConfig{
			Name:            stage.Name,
			Type:            pipeline.StageType(stage.Type),
			Processor:       stage.Processor,
			DependsOn:       stage.DependsOn,
			Resources:       stage.Resources,
			Timeout:         time.Duration(stage.TimeoutSeconds) * time.Second,
			RetryCount:      stage.RetryCount,
			RetryDelay:      time.Duration(stage.RetryDelaySecs) * time.Second,
			RunOnFailedDeps: stage.RunOnFailedDeps,
			Lane:            worker.Lane(stage.Lane),
			Config:          stage.Config,
		})
	}
	return out
}
