package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"docket/internal/dag"
	"docket/internal/worker"
)

// StageType classifies a stage's structural role. Execution treats every
// type uniformly through the processor contract; types add config-time
// validation (routers need a condition, aggregators need dependencies).
type StageType string

const (
	StageProcessor  StageType = "processor"
	StageValidator  StageType = "validator"
	StageRouter     StageType = "router"
	StageAggregator StageType = "aggregator"
)

// StageConfig declares one stage of a pipeline.
type StageConfig struct {
	// Name is unique within the pipeline and doubles as the dependency key.
	Name string
	// Type defaults to StageProcessor.
	Type StageType
	// Processor is the registry name. Defaults to Name.
	Processor string
	// DependsOn lists sibling stage names that must reach a terminal state
	// before this stage is dispatched.
	DependsOn []string
	// Resources are reserved with the resource monitor for each attempt.
	Resources map[string]int64
	// Condition gates execution. A false result skips the stage with a
	// synthesized empty success so dependents still run.
	Condition func(*Context) bool
	// Timeout bounds each attempt. Zero means the worker pool default.
	Timeout time.Duration
	// RetryCount and RetryDelay configure the retry path on task failure.
	RetryCount int
	RetryDelay time.Duration
	// RunOnFailedDeps dispatches the stage even when a dependency failed.
	RunOnFailedDeps bool
	// Lane selects the worker lane. Empty means the async lane.
	Lane worker.Lane
	// Config is handed to the processor factory and invocation unchanged.
	Config map[string]any
}

// Config declares a pipeline. Stage declaration order is the priority order
// used when waves are split.
type Config struct {
	Name              string
	Stages            []StageConfig
	MaxParallelStages int
	CheckpointEnabled bool
}

var stageTypes = map[StageType]struct{}{
	StageProcessor:  {},
	StageValidator:  {},
	StageRouter:     {},
	StageAggregator: {},
}

// prepare fills stage defaults, validates the structural rules, and builds
// the dependency graph.
func (c Config) prepare() (Config, *dag.Graph, error) {
	if c.Name == "" {
		return c, nil, fmt.Errorf("pipeline name is required")
	}
	if len(c.Stages) == 0 {
		return c, nil, fmt.Errorf("pipeline %s declares no stages", c.Name)
	}

	stages := make([]StageConfig, len(c.Stages))
	copy(stages, c.Stages)
	nodes := make([]dag.Node, 0, len(stages))
	for i := range stages {
		stage := &stages[i]
		if stage.Name == "" {
			return c, nil, fmt.Errorf("pipeline %s: stage %d has no name", c.Name, i)
		}
		if stage.Type == "" {
			stage.Type = StageProcessor
		}
		if _, ok := stageTypes[stage.Type]; !ok {
			return c, nil, fmt.Errorf("pipeline %s: stage %s has unknown type %q", c.Name, stage.Name, stage.Type)
		}
		if stage.Processor == "" {
			stage.Processor = stage.Name
		}
		lane, err := worker.ParseLane(string(stage.Lane))
		if err != nil {
			return c, nil, fmt.Errorf("pipeline %s: stage %s: %w", c.Name, stage.Name, err)
		}
		stage.Lane = lane
		if stage.Type == StageRouter && stage.Condition == nil {
			return c, nil, fmt.Errorf("pipeline %s: router stage %s needs a condition", c.Name, stage.Name)
		}
		if stage.Type == StageAggregator && len(stage.DependsOn) == 0 {
			return c, nil, fmt.Errorf("pipeline %s: aggregator stage %s needs at least one dependency", c.Name, stage.Name)
		}
		nodes = append(nodes, dag.Node{Name: stage.Name, DependsOn: stage.DependsOn})
	}

	graph, err := dag.Build(nodes)
	if err != nil {
		return c, nil, fmt.Errorf("pipeline %s: %w", c.Name, err)
	}
	c.Stages = stages
	return c, graph, nil
}

// Stage looks up a stage declaration by name.
func (c Config) Stage(name string) (StageConfig, bool) {
	for _, stage := range c.Stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return StageConfig{}, false
}

// Plan validates the config and reports the prepared stages (defaults
// applied) together with the execution waves they would run in.
func (c Config) Plan() (Config, [][]string, error) {
	prepared, graph, err := c.prepare()
	if err != nil {
		return Config{}, nil, err
	}
	return prepared, graph.Waves(prepared.MaxParallelStages), nil
}

// Document identifies the input a pipeline run processes.
type Document struct {
	ID       string
	Path     string
	MIMEType string
	Metadata map[string]string
}

// StageStatus is the per-stage state. Transitions only move forward:
// pending, then running, then one terminal state.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

var stageRank = map[StageStatus]int{
	StagePending:   0,
	StageRunning:   1,
	StageCompleted: 2,
	StageFailed:    2,
	StageSkipped:   2,
}

// Terminal reports whether the status is an end state.
func (s StageStatus) Terminal() bool {
	return stageRank[s] == 2
}

// StageResult records one stage's outcome inside the pipeline context.
// A skipped result with an empty Error is a benign skip (condition not met)
// and satisfies dependents; a skipped result carrying an Error descends from
// a failed dependency and blocks them.
type StageResult struct {
	StageName  string         `json:"stage_name"`
	Status     StageStatus    `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`

	// err keeps the live error chain for errors.Is matching; Error carries
	// the string form for checkpoints. A resumed result only has the string.
	err error
}

// Err returns the stage's failure with its original error chain when the run
// is live, falling back to the serialized string after a resume.
func (r *StageResult) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.Error != "" {
		return errors.New(r.Error)
	}
	return nil
}

// advance moves the status strictly forward. Terminal states never change.
func (r *StageResult) advance(to StageStatus) bool {
	if stageRank[to] <= stageRank[r.Status] {
		return false
	}
	r.Status = to
	return true
}

// Duration reports wall time between start and finish, zero when unfinished.
func (r *StageResult) Duration() time.Duration {
	if r == nil || r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Context carries one document through a pipeline run. The manager is the
// sole writer; it serializes to JSON for checkpoints.
type Context struct {
	DocumentID   string                  `json:"document_id"`
	FilePath     string                  `json:"file_path,omitempty"`
	MIMEType     string                  `json:"mime_type,omitempty"`
	Metadata     map[string]string       `json:"metadata,omitempty"`
	StageResults map[string]*StageResult `json:"stage_results"`
}

// Result returns the recorded result for a stage, nil when unknown.
func (c *Context) Result(stage string) *StageResult {
	if c == nil {
		return nil
	}
	return c.StageResults[stage]
}

// Status is the pipeline state machine: created, then running, then one of
// completed, failed, or cancelled.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Pipeline is one run of a pipeline config over a document. Instances are
// created by the Manager and mutated only through it.
type Pipeline struct {
	ID        string
	Name      string
	Config    Config
	Context   *Context
	CreatedAt time.Time

	graph *dag.Graph

	mu         sync.Mutex
	status     Status
	startedAt  time.Time
	finishedAt time.Time
	cancelled  bool
}

// Status returns the current pipeline state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Cancelled reports whether cancellation was requested.
func (p *Pipeline) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// StartedAt returns when Execute began, zero if it never ran.
func (p *Pipeline) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// FinishedAt returns when the pipeline reached a terminal state.
func (p *Pipeline) FinishedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishedAt
}

// Waves exposes the computed execution waves for planning surfaces.
func (p *Pipeline) Waves() [][]string {
	if p.graph == nil {
		return nil
	}
	return p.graph.Waves(p.Config.MaxParallelStages)
}

// StageSnapshot returns a copy of the stage results safe to read while the
// pipeline runs.
func (p *Pipeline) StageSnapshot() map[string]StageResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]StageResult, len(p.Context.StageResults))
	for name, result := range p.Context.StageResults {
		out[name] = *result
	}
	return out
}
