package worker

import "errors"

// Boundary errors surfaced by the pool. Callers match with errors.Is.
var (
	ErrQueueFull      = errors.New("worker queue full")
	ErrResultTimeout  = errors.New("timed out waiting for task result")
	ErrUnknownTask    = errors.New("unknown task id")
	ErrPoolStopped    = errors.New("worker pool not running")
	ErrProcessorPanic = errors.New("processor panicked")
)
