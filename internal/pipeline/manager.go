package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docket/internal/checkpoint"
	"docket/internal/events"
	"docket/internal/logging"
	"docket/internal/processor"
	"docket/internal/progress"
	"docket/internal/worker"
)

// Deps are the collaborators a Manager drives. Registry and Pool are
// required; the rest degrade to no-ops when nil.
type Deps struct {
	Registry *processor.Registry
	Pool     *worker.Pool
	Store    checkpoint.Store
	Bus      events.Bus
	Tracker  *progress.Tracker
	Logger   *slog.Logger
}

// Manager owns pipeline runs: it builds the dependency graph, walks the
// execution waves, dispatches stages to the worker pool, and records every
// outcome on the pipeline context.
type Manager struct {
	registry *processor.Registry
	pool     *worker.Pool
	store    checkpoint.Store
	bus      events.Bus
	tracker  *progress.Tracker
	logger   *slog.Logger

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewManager constructs a Manager from its collaborators.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Registry == nil {
		return nil, errors.New("pipeline manager needs a processor registry")
	}
	if deps.Pool == nil {
		return nil, errors.New("pipeline manager needs a worker pool")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewNopBus()
	}
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Manager{
		registry:  deps.Registry,
		pool:      deps.Pool,
		store:     deps.Store,
		bus:       deps.Bus,
		tracker:   deps.Tracker,
		logger:    deps.Logger.With(logging.String(logging.FieldComponent, "pipeline-manager")),
		pipelines: make(map[string]*Pipeline),
	}, nil
}

// Create validates the config, builds the dependency graph, and allocates a
// pipeline run over the document. The run starts when Execute is called.
func (m *Manager) Create(ctx context.Context, cfg Config, doc Document) (*Pipeline, error) {
	cfg, graph, err := cfg.prepare()
	if err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	pctx := &Context{
		DocumentID:   doc.ID,
		FilePath:     doc.Path,
		MIMEType:     doc.MIMEType,
		Metadata:     maps.Clone(doc.Metadata),
		StageResults: make(map[string]*StageResult, len(cfg.Stages)),
	}
	if pctx.Metadata == nil {
		pctx.Metadata = make(map[string]string)
	}
	for _, stage := range cfg.Stages {
		pctx.StageResults[stage.Name] = &StageResult{StageName: stage.Name, Status: StagePending}
	}

	p := &Pipeline{
		ID:        uuid.NewString(),
		Name:      cfg.Name,
		Config:    cfg,
		Context:   pctx,
		CreatedAt: time.Now().UTC(),
		graph:     graph,
		status:    StatusCreated,
	}

	m.mu.Lock()
	m.pipelines[p.ID] = p
	m.mu.Unlock()

	m.publish(ctx, events.TopicPipelineCreated, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyPipeline:   p.Name,
		events.KeyDocumentID: doc.ID,
	})
	m.logger.Info("pipeline created",
		logging.String(logging.FieldPipelineID, p.ID),
		logging.String("pipeline", p.Name),
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.Int("stages", len(cfg.Stages)))
	return p, nil
}

// Resume rebuilds a pipeline run from its checkpointed context. Stages
// already completed keep their results; everything else is reset and
// re-executed by the next Execute call.
func (m *Manager) Resume(ctx context.Context, cfg Config, id string) (*Pipeline, error) {
	if m.store == nil {
		return nil, errors.New("resume needs a checkpoint store")
	}
	cfg, graph, err := cfg.prepare()
	if err != nil {
		return nil, err
	}

	raw, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, id)
	}
	var pctx Context
	if err := json.Unmarshal(raw, &pctx); err != nil {
		return nil, fmt.Errorf("decode checkpoint for pipeline %s: %w", id, err)
	}
	if pctx.StageResults == nil {
		pctx.StageResults = make(map[string]*StageResult, len(cfg.Stages))
	}
	if pctx.Metadata == nil {
		pctx.Metadata = make(map[string]string)
	}

	remaining := 0
	for _, stage := range cfg.Stages {
		result := pctx.StageResults[stage.Name]
		if result != nil && result.Status == StageCompleted {
			continue
		}
		pctx.StageResults[stage.Name] = &StageResult{StageName: stage.Name, Status: StagePending}
		remaining++
	}

	p := &Pipeline{
		ID:        id,
		Name:      cfg.Name,
		Config:    cfg,
		Context:   &pctx,
		CreatedAt: time.Now().UTC(),
		graph:     graph,
		status:    StatusCreated,
	}

	m.mu.Lock()
	m.pipelines[p.ID] = p
	m.mu.Unlock()

	m.publish(ctx, events.TopicPipelineResumed, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyPipeline:   p.Name,
		events.KeyDocumentID: pctx.DocumentID,
		"remaining_stages":   remaining,
	})
	m.logger.Info("pipeline resumed from checkpoint",
		logging.String(logging.FieldPipelineID, p.ID),
		logging.Int("remaining_stages", remaining))
	return p, nil
}

// Get returns a pipeline run by id.
func (m *Manager) Get(id string) (*Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	return p, ok
}

// List returns known pipeline runs ordered by creation time.
func (m *Manager) List() []*Pipeline {
	m.mu.RLock()
	out := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Cancel requests cooperative cancellation: no further waves are scheduled,
// while in-flight tasks run to their natural end or timeout.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	p, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}

	p.mu.Lock()
	switch p.status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		status := p.status
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s already %s", id, status)
	case StatusCreated:
		p.cancelled = true
		p.status = StatusCancelled
		p.finishedAt = time.Now().UTC()
		p.mu.Unlock()
		m.publish(ctx, events.TopicPipelineCancelled, events.Payload{
			events.KeyPipelineID: id,
			events.KeyReason:     "cancelled before start",
		})
		m.logger.Info("pipeline cancelled before start", logging.String(logging.FieldPipelineID, id))
		return nil
	default:
		p.cancelled = true
		p.mu.Unlock()
		m.logger.Info("pipeline cancellation requested", logging.String(logging.FieldPipelineID, id))
		return nil
	}
}

// Execute runs the pipeline to a terminal state. Waves run sequentially;
// stages within a wave run concurrently on the worker pool. The returned
// error is an *ExecutionError when stages failed, or wraps
// ErrPipelineCancelled when the run was cancelled.
func (m *Manager) Execute(ctx context.Context, p *Pipeline) error {
	if p == nil || p.graph == nil {
		return errors.New("pipeline was not created by this manager")
	}

	p.mu.Lock()
	if p.status != StatusCreated {
		status := p.status
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s is %s, not executable", p.ID, status)
	}
	p.status = StatusRunning
	p.startedAt = time.Now().UTC()
	p.mu.Unlock()

	logger := m.logger.With(logging.String(logging.FieldPipelineID, p.ID))
	m.publish(ctx, events.TopicPipelineStarted, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyPipeline:   p.Name,
		events.KeyDocumentID: p.Context.DocumentID,
	})
	logger.Info("pipeline started", logging.String("pipeline", p.Name))

	waves := p.graph.Waves(p.Config.MaxParallelStages)
	for index, wave := range waves {
		if err := m.waveGate(ctx, p, logger); err != nil {
			return err
		}
		runnable := m.prepareWave(ctx, p, wave, logger)
		m.runWave(ctx, p, index, runnable, logger)
		m.checkpoint(ctx, p, logger)
	}

	failed := m.failedStages(p)
	if len(failed) > 0 {
		m.finish(p, StatusFailed)
		execErr := &ExecutionError{PipelineID: p.ID, Stages: failed}
		m.publish(ctx, events.TopicPipelineFailed, events.Payload{
			events.KeyPipelineID: p.ID,
			events.KeyPipeline:   p.Name,
			events.KeyError:      execErr.Error(),
		})
		logger.Error("pipeline failed",
			logging.Int("failed_stages", len(failed)),
			logging.Error(execErr))
		return execErr
	}

	m.finish(p, StatusCompleted)
	m.publish(ctx, events.TopicPipelineCompleted, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyPipeline:   p.Name,
		events.KeyDuration:   p.FinishedAt().Sub(p.StartedAt()).String(),
	})
	logger.Info("pipeline completed", logging.Duration("duration", p.FinishedAt().Sub(p.StartedAt())))
	return nil
}

// waveGate stops scheduling when the run was cancelled or the context ended.
// The context is checkpointed so the run stays resumable.
func (m *Manager) waveGate(ctx context.Context, p *Pipeline, logger *slog.Logger) error {
	reason := ""
	if err := ctx.Err(); err != nil {
		reason = err.Error()
	} else if p.Cancelled() {
		reason = "cancel requested"
	}
	if reason == "" {
		return nil
	}

	m.finish(p, StatusCancelled)
	m.checkpoint(ctx, p, logger)
	m.publish(ctx, events.TopicPipelineCancelled, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyReason:     reason,
	})
	logger.Info("pipeline cancelled", logging.String("reason", reason))
	return fmt.Errorf("pipeline %s: %w", p.ID, ErrPipelineCancelled)
}

// prepareWave resolves skips before anything is dispatched: stages whose
// dependencies failed are skipped (unless flagged to run regardless), and
// stages whose condition is false are skipped with an empty success payload.
// Completed stages from a resumed run pass through untouched.
func (m *Manager) prepareWave(ctx context.Context, p *Pipeline, wave []string, logger *slog.Logger) []StageConfig {
	runnable := make([]StageConfig, 0, len(wave))
	for _, name := range wave {
		stage, ok := p.Config.Stage(name)
		if !ok {
			continue
		}
		result := p.Context.StageResults[name]
		if result.Status == StageCompleted {
			continue
		}

		var blocked []string
		for _, dep := range stage.DependsOn {
			depResult := p.Context.StageResults[dep]
			if depResult == nil {
				blocked = append(blocked, dep)
				continue
			}
			if depResult.Status == StageFailed || (depResult.Status == StageSkipped && depResult.Error != "") {
				blocked = append(blocked, dep)
			}
		}
		if len(blocked) > 0 && !stage.RunOnFailedDeps {
			m.skipStage(ctx, p, stage, fmt.Sprintf("dependencies failed: %s", strings.Join(blocked, ", ")), false, logger)
			continue
		}

		if stage.Condition != nil && !stage.Condition(p.Context) {
			m.skipStage(ctx, p, stage, "condition not met", true, logger)
			continue
		}
		runnable = append(runnable, stage)
	}
	return runnable
}

// runWave dispatches every runnable stage and blocks until the whole wave
// reaches a terminal state. Stage failures are recorded, never propagated as
// group errors, so sibling stages always finish.
func (m *Manager) runWave(ctx context.Context, p *Pipeline, index int, runnable []StageConfig, logger *slog.Logger) {
	if len(runnable) == 0 {
		return
	}
	eg, waveCtx := errgroup.WithContext(ctx)
	if limit := p.Config.MaxParallelStages; limit > 0 {
		eg.SetLimit(limit)
	}
	for _, stage := range runnable {
		eg.Go(func() error {
			m.runStage(waveCtx, p, index, stage, logger)
			return nil
		})
	}
	_ = eg.Wait()
}

// runStage pushes one stage through the worker pool and records the outcome.
func (m *Manager) runStage(ctx context.Context, p *Pipeline, wave int, stage StageConfig, logger *slog.Logger) {
	taskID := uuid.NewString()
	stageLogger := logger.With(
		logging.String(logging.FieldStage, stage.Name),
		logging.String(logging.FieldProcessor, stage.Processor),
		logging.String(logging.FieldTaskID, taskID))

	now := time.Now().UTC()
	m.updateStage(p, stage.Name, func(result *StageResult) {
		result.advance(StageRunning)
		result.StartedAt = now
	})
	m.publish(ctx, events.TopicStageStarted, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyStage:      stage.Name,
		events.KeyProcessor:  stage.Processor,
		events.KeyTaskID:     taskID,
		events.KeyLane:       string(stage.Lane),
		events.KeyMessage:    DisplayLabel(stage.Name),
	})
	stageLogger.Info("stage started", logging.String(logging.FieldLane, string(stage.Lane)))

	proc, err := m.registry.New(stage.Processor, stage.Config)
	if err != nil {
		m.failStage(ctx, p, stage, fmt.Errorf("resolve processor: %w", err), 0, stageLogger)
		return
	}
	if aware, ok := proc.(processor.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	pctx := m.processorContext(p, stage)
	sampler := progress.NewSampler(0)
	pctx = pctx.WithProgress(func(percent float64, message string) {
		m.tracker.Update(ctx, taskID, stage.Name, percent, message)
		if sampler.ShouldEmit(stage.Name, percent) {
			stageLogger.Debug("stage progress",
				logging.Float64("percent", percent),
				logging.String("message", message))
		}
	})

	var attempts atomic.Int32
	task := &worker.Task{
		ID:        taskID,
		Processor: stage.Processor,
		Stage:     stage.Name,
		Run: func(taskCtx context.Context, pc *processor.Context) (*processor.Result, error) {
			attempts.Add(1)
			return proc.Process(taskCtx, pc)
		},
		Context:    pctx,
		Lane:       stage.Lane,
		Priority:   wave,
		Timeout:    stage.Timeout,
		RetryCount: stage.RetryCount,
		RetryDelay: stage.RetryDelay,
		Resources:  stage.Resources,
	}

	id, err := m.pool.Submit(ctx, task)
	if err != nil {
		m.failStage(ctx, p, stage, fmt.Errorf("submit task: %w", err), int(attempts.Load()), stageLogger)
		return
	}
	result, err := m.pool.Result(ctx, id, 0)
	if err != nil {
		m.failStage(ctx, p, stage, err, int(attempts.Load()), stageLogger)
		return
	}
	if result.Status == processor.StatusFailed {
		m.failStage(ctx, p, stage, result.Cause(), int(attempts.Load()), stageLogger)
		return
	}
	m.completeStage(ctx, p, stage, result, int(attempts.Load()), stageLogger)
}

// processorContext assembles the invocation context, exposing terminal
// upstream results keyed by stage name.
func (m *Manager) processorContext(p *Pipeline, stage StageConfig) *processor.Context {
	upstream := make(map[string]*processor.Result, len(stage.DependsOn))
	p.mu.Lock()
	for _, dep := range stage.DependsOn {
		depResult := p.Context.StageResults[dep]
		if depResult == nil {
			continue
		}
		depStage, _ := p.Config.Stage(dep)
		switch depResult.Status {
		case StageCompleted:
			upstream[dep] = &processor.Result{
				Processor:  depStage.Processor,
				Status:     processor.StatusSucceeded,
				StartedAt:  depResult.StartedAt,
				FinishedAt: depResult.FinishedAt,
				Data:       depResult.Payload,
			}
		case StageSkipped:
			upstream[dep] = &processor.Result{
				Processor:  depStage.Processor,
				Status:     processor.StatusSkipped,
				StartedAt:  depResult.StartedAt,
				FinishedAt: depResult.FinishedAt,
				Data:       depResult.Payload,
			}
		}
	}
	metadata := maps.Clone(p.Context.Metadata)
	p.mu.Unlock()

	return &processor.Context{
		DocumentID: p.Context.DocumentID,
		FilePath:   p.Context.FilePath,
		MIMEType:   p.Context.MIMEType,
		Metadata:   metadata,
		Upstream:   upstream,
		Config:     stage.Config,
	}
}

func (m *Manager) skipStage(ctx context.Context, p *Pipeline, stage StageConfig, reason string, benign bool, logger *slog.Logger) {
	now := time.Now().UTC()
	m.updateStage(p, stage.Name, func(result *StageResult) {
		if !result.advance(StageSkipped) {
			return
		}
		result.FinishedAt = now
		if benign {
			result.Payload = map[string]any{}
		} else {
			result.Error = reason
		}
	})
	m.publish(ctx, events.TopicStageSkipped, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyStage:      stage.Name,
		events.KeyReason:     reason,
	})
	logger.Info("stage skipped",
		logging.String(logging.FieldStage, stage.Name),
		logging.String("reason", reason))
}

func (m *Manager) completeStage(ctx context.Context, p *Pipeline, stage StageConfig, result *processor.Result, attempts int, logger *slog.Logger) {
	now := time.Now().UTC()
	m.updateStage(p, stage.Name, func(sr *StageResult) {
		if !sr.advance(StageCompleted) {
			return
		}
		sr.FinishedAt = now
		sr.Payload = result.Data
		sr.Attempts = attempts
	})
	m.publish(ctx, events.TopicStageCompleted, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyStage:      stage.Name,
		events.KeyProcessor:  stage.Processor,
		events.KeyDuration:   result.Duration().String(),
	})
	logger.Info("stage completed",
		logging.Duration("duration", result.Duration()),
		logging.Int("attempts", attempts))
}

func (m *Manager) failStage(ctx context.Context, p *Pipeline, stage StageConfig, err error, attempts int, logger *slog.Logger) {
	now := time.Now().UTC()
	m.updateStage(p, stage.Name, func(sr *StageResult) {
		if !sr.advance(StageFailed) {
			return
		}
		sr.FinishedAt = now
		sr.Error = err.Error()
		sr.err = err
		sr.Attempts = attempts
	})
	m.publish(ctx, events.TopicStageFailed, events.Payload{
		events.KeyPipelineID: p.ID,
		events.KeyStage:      stage.Name,
		events.KeyProcessor:  stage.Processor,
		events.KeyError:      err.Error(),
		events.KeyAttempt:    attempts,
	})
	logger.Error("stage failed",
		logging.Error(err),
		logging.Int("attempts", attempts))
}

// updateStage is the single serialized mutation path for stage results.
func (m *Manager) updateStage(p *Pipeline, name string, fn func(*StageResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, ok := p.Context.StageResults[name]
	if !ok {
		result = &StageResult{StageName: name, Status: StagePending}
		p.Context.StageResults[name] = result
	}
	fn(result)
}

func (m *Manager) failedStages(p *Pipeline) []*StageError {
	p.mu.Lock()
	defer p.mu.Unlock()
	var failed []*StageError
	for _, stage := range p.Config.Stages {
		result := p.Context.StageResults[stage.Name]
		if result != nil && result.Status == StageFailed {
			failed = append(failed, &StageError{Stage: stage.Name, Err: result.Err()})
		}
	}
	return failed
}

func (m *Manager) finish(p *Pipeline, status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		p.status = status
		p.finishedAt = time.Now().UTC()
	}
}

// checkpoint persists the pipeline context after a wave. It writes on a fresh
// context so a cancelled run stays resumable; persistence errors are logged
// and do not fail the run.
func (m *Manager) checkpoint(_ context.Context, p *Pipeline, logger *slog.Logger) {
	if !p.Config.CheckpointEnabled || m.store == nil {
		return
	}
	p.mu.Lock()
	raw, err := json.Marshal(p.Context)
	p.mu.Unlock()
	if err != nil {
		logger.Error("checkpoint serialization failed", logging.Error(err))
		return
	}
	if err := m.store.Set(context.Background(), p.ID, raw); err != nil {
		logger.Error("checkpoint write failed", logging.Error(err))
	}
}

// publish announces an event on a fresh context so terminal states are still
// reported after the caller's context ends.
func (m *Manager) publish(_ context.Context, topic events.Topic, payload events.Payload) {
	if err := m.bus.Publish(context.Background(), topic, payload); err != nil {
		m.logger.Debug("event publish failed",
			logging.String("topic", string(topic)),
			logging.Error(err))
	}
}
