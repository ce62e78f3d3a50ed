package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldPipelineID is the standardized structured logging key for pipeline run identifiers.
	FieldPipelineID = "pipeline_id"
	// FieldDocumentID is the standardized structured logging key for document identifiers.
	FieldDocumentID = "document_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldTaskID is the standardized structured logging key for worker task identifiers.
	FieldTaskID = "task_id"
	// FieldLane is the standardized structured logging key for worker lane names.
	FieldLane = "lane"
	// FieldProcessor is the standardized structured logging key for processor names.
	FieldProcessor = "processor"
	// FieldEventType tags log lines with a machine-matchable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested operator next step alongside errors.
	FieldErrorHint = "error_hint"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey string

const (
	pipelineIDKey contextKey = "pipeline_id"
	stageKey      contextKey = "stage"
	taskIDKey     contextKey = "task_id"
	laneKey       contextKey = "lane"
)

// WithPipelineID annotates context with the pipeline run identifier.
func WithPipelineID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, pipelineIDKey, id)
}

// PipelineIDFromContext extracts the pipeline run identifier if present.
func PipelineIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(pipelineIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTaskID annotates context with the worker task identifier.
func WithTaskID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskIDFromContext extracts the worker task identifier if present.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(taskIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithLane annotates context with the worker lane name.
func WithLane(ctx context.Context, lane string) context.Context {
	if lane == "" {
		return ctx
	}
	return context.WithValue(ctx, laneKey, lane)
}

// LaneFromContext returns the lane name if present.
func LaneFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(laneKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := PipelineIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPipelineID, id))
	}
	if stage, ok := StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if id, ok := TaskIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTaskID, id))
	}
	if lane, ok := LaneFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldLane, lane))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
