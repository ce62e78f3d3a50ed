package events

import "time"

// Topic identifies a class of bus event.
type Topic string

// Lifecycle, progress, and alerting topics published by core components.
const (
	TopicPipelineCreated   Topic = "pipeline_created"
	TopicPipelineStarted   Topic = "pipeline_started"
	TopicPipelineCompleted Topic = "pipeline_completed"
	TopicPipelineFailed    Topic = "pipeline_failed"
	TopicPipelineCancelled Topic = "pipeline_cancelled"
	TopicPipelineResumed   Topic = "pipeline_resumed"
	TopicStageStarted      Topic = "stage_started"
	TopicStageCompleted    Topic = "stage_completed"
	TopicStageFailed       Topic = "stage_failed"
	TopicStageSkipped      Topic = "stage_skipped"
	TopicTaskRetrying      Topic = "task_retrying"
	TopicTaskProgress      Topic = "task_progress"
	TopicAlertRaised       Topic = "alert_raised"
	TopicResourceSample    Topic = "resource_sample"
)

// Payload carries event-specific fields. Values must be plain data; receivers
// may retain the map.
type Payload map[string]any

// Event is one published bus record. Sequence numbers are assigned by the bus
// in publish order and are unique per bus instance.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"ts"`
	Payload   Payload   `json:"payload,omitempty"`
}

// Common payload keys used by core publishers.
const (
	KeyPipelineID = "pipeline_id"
	KeyPipeline   = "pipeline"
	KeyDocumentID = "document_id"
	KeyStage      = "stage"
	KeyProcessor  = "processor"
	KeyTaskID     = "task_id"
	KeyLane       = "lane"
	KeyAttempt    = "attempt"
	KeyError      = "error"
	KeyReason     = "reason"
	KeyPercent    = "percent"
	KeyMessage    = "message"
	KeyDuration   = "duration_seconds"
	KeyAlertKind  = "alert_kind"
)
