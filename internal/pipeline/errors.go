package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by the manager. Graph construction errors
// (cyclic or missing dependencies) come from the dag package and are
// wrapped, so callers match them with errors.Is as well.
var (
	ErrPipelineCancelled = errors.New("pipeline cancelled")
	ErrPipelineNotFound  = errors.New("pipeline not found")
	ErrNoCheckpoint      = errors.New("no checkpoint for pipeline")
)

// StageError pairs a failed stage with its underlying error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExecutionError reports every stage that failed during a run. Partial
// results stay inspectable on the pipeline context.
type ExecutionError struct {
	PipelineID string
	Stages     []*StageError
}

func (e *ExecutionError) Error() string {
	names := make([]string, len(e.Stages))
	for i, stage := range e.Stages {
		names[i] = stage.Stage
	}
	return fmt.Sprintf("pipeline %s: %d stage(s) failed: %s", e.PipelineID, len(e.Stages), strings.Join(names, ", "))
}

// Unwrap exposes the per-stage errors for errors.Is / errors.As matching.
func (e *ExecutionError) Unwrap() []error {
	errs := make([]error, len(e.Stages))
	for i, stage := range e.Stages {
		errs[i] = stage
	}
	return errs
}

// FailedStages lists the failed stage names in declaration order.
func (e *ExecutionError) FailedStages() []string {
	names := make([]string, len(e.Stages))
	for i, stage := range e.Stages {
		names[i] = stage.Stage
	}
	return names
}
