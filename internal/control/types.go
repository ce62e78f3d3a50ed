package control

import "docket/internal/system"

// StatusRequest asks the daemon for its identity and component readiness.
type StatusRequest struct{}

// ComponentHealth is the wire form of one component readiness record.
type ComponentHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// StatusResponse reports daemon identity, readiness, and resumable work.
type StatusResponse struct {
	Running     bool              `json:"running"`
	PID         int               `json:"pid"`
	Ready       bool              `json:"ready"`
	Components  []ComponentHealth `json:"components,omitempty"`
	Checkpoints []string          `json:"checkpoints,omitempty"`
}

// StatsRequest asks the daemon for live subsystem counters.
type StatsRequest struct{}

// StatsResponse carries the facade's merged counters.
type StatsResponse struct {
	Stats system.Stats `json:"stats"`
}
