package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Processor is the unit of document work scheduled by the pipeline.
// Implementations must be safe for concurrent Process calls.
type Processor interface {
	Metadata() Metadata
	Process(ctx context.Context, pctx *Context) (*Result, error)
}

// Metadata identifies a processor implementation.
type Metadata struct {
	Name        string
	Version     string
	Description string
}

// LoggerAware is implemented by processors that want a contextual logger
// injected before Process runs.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// HealthChecker is implemented by processors that can verify their external
// dependencies (binaries, endpoints, models) ahead of execution.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// Health summarizes the readiness of a processor.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Context carries one document through a processor invocation. The pipeline
// manager owns the maps; processors read them and write only to the Result.
type Context struct {
	DocumentID string
	FilePath   string
	MIMEType   string
	Metadata   map[string]string
	Upstream   map[string]*Result
	Config     map[string]any

	progress func(percent float64, message string)
}

// WithProgress returns a copy of the context that reports progress through fn.
func (c *Context) WithProgress(fn func(percent float64, message string)) *Context {
	clone := *c
	clone.progress = fn
	return &clone
}

// ReportProgress forwards a progress update to the tracker when one is wired.
// Percent is clamped to [0, 100].
func (c *Context) ReportProgress(percent float64, message string) {
	if c == nil || c.progress == nil {
		return
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	c.progress(percent, message)
}

// UpstreamData returns the named field from an upstream result's data map.
func (c *Context) UpstreamData(stage, key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	result, ok := c.Upstream[stage]
	if !ok || result == nil || result.Data == nil {
		return nil, false
	}
	value, ok := result.Data[key]
	return value, ok
}

// ConfigString returns a string-typed config value, or fallback when absent.
func (c *Context) ConfigString(key, fallback string) string {
	if c == nil || c.Config == nil {
		return fallback
	}
	if value, ok := c.Config[key].(string); ok {
		return value
	}
	return fallback
}

// Status describes the terminal state of one processor invocation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result is the outcome of one processor invocation. MemoryBytes and
// CPUSeconds are self-reported and optional; monitoring treats zero as
// unreported.
type Result struct {
	Processor   string         `json:"processor"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Data        map[string]any `json:"data,omitempty"`
	Err         string         `json:"error,omitempty"`
	MemoryBytes int64          `json:"memory_bytes,omitempty"`
	CPUSeconds  float64        `json:"cpu_seconds,omitempty"`

	// failure keeps the live error for errors.Is matching; Err carries the
	// string form across serialization boundaries.
	failure error
}

// NewResult returns a Result stamped with the processor name and start time.
func NewResult(name string) *Result {
	return &Result{
		Processor: name,
		Status:    StatusSucceeded,
		StartedAt: time.Now().UTC(),
		Data:      make(map[string]any),
	}
}

// Finish stamps the finish time and returns the result for chaining.
func (r *Result) Finish() *Result {
	r.FinishedAt = time.Now().UTC()
	return r
}

// Fail marks the result failed with the given error.
func (r *Result) Fail(err error) *Result {
	r.Status = StatusFailed
	if err != nil {
		r.Err = err.Error()
		r.failure = err
	}
	return r.Finish()
}

// Cause returns the failure with its original error chain when the result is
// live, falling back to the serialized string after crossing a wire or disk
// boundary.
func (r *Result) Cause() error {
	if r.failure != nil {
		return r.failure
	}
	if r.Err != "" {
		return errors.New(r.Err)
	}
	return nil
}

// Duration reports wall time between start and finish, zero when unfinished.
func (r *Result) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
