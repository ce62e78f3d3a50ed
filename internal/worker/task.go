package worker

import (
	"context"
	"fmt"
	"time"

	"docket/internal/processor"
)

// Lane selects which worker group runs a task.
type Lane string

const (
	// LaneAsync runs tasks on plain goroutine workers. The default for
	// I/O-bound processors that suspend on the context.
	LaneAsync Lane = "async"
	// LaneThread pins each worker to an OS thread for processors calling
	// thread-sensitive native code.
	LaneThread Lane = "thread"
	// LaneProcess is a low-count lane for processors that shell out to
	// external tools, bounding host process pressure.
	LaneProcess Lane = "process"
)

// ParseLane maps a config string to a Lane.
func ParseLane(value string) (Lane, error) {
	switch Lane(value) {
	case LaneAsync, LaneThread, LaneProcess:
		return Lane(value), nil
	case "":
		return LaneAsync, nil
	default:
		return "", fmt.Errorf("unknown lane %q (valid: async, thread, process)", value)
	}
}

// RunFunc is the work a task performs, normally a processor invocation bound
// by the pipeline manager.
type RunFunc func(ctx context.Context, pctx *processor.Context) (*processor.Result, error)

// Task is one schedulable processor invocation.
type Task struct {
	// ID correlates attempts, results, progress, and metrics. Assigned on
	// Submit when empty.
	ID string
	// Processor names the implementation for metrics and logging.
	Processor string
	// Stage is the owning pipeline stage, carried for progress display.
	Stage string
	// Run performs the work. Required.
	Run RunFunc
	// Context is handed to Run unchanged.
	Context *processor.Context
	// Lane selects the worker group. Empty means LaneAsync.
	Lane Lane
	// Priority records wave ordering for observability. Lanes dequeue in
	// submission order, so submitters control effective priority.
	Priority int
	// Timeout bounds each attempt. Zero means the pool default.
	Timeout time.Duration
	// RetryCount is how many times a failed attempt is retried.
	RetryCount int
	// RetryDelay separates attempts. Zero means immediate retry.
	RetryDelay time.Duration
	// Resources are reserved with the monitor before each attempt runs.
	Resources map[string]int64
	// SubmittedAt is stamped by Submit.
	SubmittedAt time.Time
}

// Stats is a point-in-time snapshot of pool accounting.
type Stats struct {
	Total     uint64 `json:"total"`
	Queued    uint64 `json:"queued"`
	Active    uint64 `json:"active"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retries   uint64 `json:"retries"`
}
