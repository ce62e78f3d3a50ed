package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docket/internal/checkpoint"
	"docket/internal/dag"
	"docket/internal/events"
	"docket/internal/pipeline"
	"docket/internal/processor"
	"docket/internal/progress"
	"docket/internal/resource"
	"docket/internal/worker"
)

type stubProcessor struct {
	name string
	fn   func(ctx context.Context, pctx *processor.Context) (*processor.Result, error)
}

func (s *stubProcessor) Metadata() processor.Metadata {
	return processor.Metadata{Name: s.name, Version: "1.0.0"}
}

func (s *stubProcessor) Process(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
	return s.fn(ctx, pctx)
}

type harness struct {
	registry *processor.Registry
	pool     *worker.Pool
	store    *checkpoint.MemoryStore
	bus      *events.InProcessBus
	manager  *pipeline.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: processor.NewRegistry(),
		store:    checkpoint.NewMemoryStore(),
		bus:      events.NewBus(),
	}
	t.Cleanup(h.bus.Close)

	h.pool = worker.NewPool(worker.Options{}, resource.NewMonitor(nil), nil, nil, h.bus, nil)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("pool Start() = %v", err)
	}
	t.Cleanup(h.pool.Stop)

	manager, err := pipeline.NewManager(pipeline.Deps{
		Registry: h.registry,
		Pool:     h.pool,
		Store:    h.store,
		Bus:      h.bus,
	})
	if err != nil {
		t.Fatalf("NewManager() = %v", err)
	}
	h.manager = manager
	return h
}

func (h *harness) register(t *testing.T, name string, fn func(ctx context.Context, pctx *processor.Context) (*processor.Result, error)) {
	t.Helper()
	err := h.registry.Register(name, func(config map[string]any) (processor.Processor, error) {
		return &stubProcessor{name: name, fn: fn}, nil
	})
	if err != nil {
		t.Fatalf("Register(%s) = %v", name, err)
	}
}

func succeedWith(name, key string, value any) func(context.Context, *processor.Context) (*processor.Result, error) {
	return func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		result := processor.NewResult(name)
		result.Data[key] = value
		return result.Finish(), nil
	}
}

func stageStatus(t *testing.T, p *pipeline.Pipeline, name string) pipeline.StageStatus {
	t.Helper()
	result := p.Context.Result(name)
	if result == nil {
		t.Fatalf("no stage result recorded for %s", name)
	}
	return result.Status
}

func TestExecuteLinearPipeline(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	track := func(name string) func(context.Context, *processor.Context) (*processor.Result, error) {
		return func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return processor.NewResult(name).Finish(), nil
		}
	}
	h.register(t, "fetch", track("fetch"))
	h.register(t, "parse", track("parse"))
	h.register(t, "validate", track("validate"))

	cfg := pipeline.Config{
		Name:              "ingest",
		MaxParallelStages: 2,
		Stages: []pipeline.StageConfig{
			{Name: "fetch"},
			{Name: "parse", DependsOn: []string{"fetch"}},
			{Name: "validate", Type: pipeline.StageValidator, DependsOn: []string{"parse"}},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-1"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	waves := p.Waves()
	want := [][]string{{"fetch"}, {"parse"}, {"validate"}}
	if len(waves) != len(want) {
		t.Fatalf("waves = %v, want %v", waves, want)
	}
	for i := range want {
		if len(waves[i]) != 1 || waves[i][0] != want[i][0] {
			t.Fatalf("waves = %v, want %v", waves, want)
		}
	}

	if err := h.manager.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if p.Status() != pipeline.StatusCompleted {
		t.Fatalf("pipeline status = %q, want %q", p.Status(), pipeline.StatusCompleted)
	}
	for _, name := range []string{"fetch", "parse", "validate"} {
		if got := stageStatus(t, p, name); got != pipeline.StageCompleted {
			t.Fatalf("stage %s status = %q, want completed", name, got)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "fetch" || order[1] != "parse" || order[2] != "validate" {
		t.Fatalf("execution order = %v", order)
	}
}

func TestDiamondFailureSkipsDependents(t *testing.T) {
	h := newHarness(t)

	var dRan atomic.Bool
	h.register(t, "a", succeedWith("a", "ok", true))
	h.register(t, "b", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		return nil, errors.New("b exploded")
	})
	h.register(t, "c", succeedWith("c", "ok", true))
	h.register(t, "d", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		dRan.Store(true)
		return processor.NewResult("d").Finish(), nil
	})

	cfg := pipeline.Config{
		Name: "diamond",
		Stages: []pipeline.StageConfig{
			{Name: "a"},
			{Name: "b", DependsOn: []string{"a"}},
			{Name: "c", DependsOn: []string{"a"}},
			{Name: "d", DependsOn: []string{"b", "c"}},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-2"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	err = h.manager.Execute(context.Background(), p)
	var execErr *pipeline.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() = %v, want ExecutionError", err)
	}
	if got := execErr.FailedStages(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("failed stages = %v, want [b]", got)
	}
	if p.Status() != pipeline.StatusFailed {
		t.Fatalf("pipeline status = %q, want failed", p.Status())
	}

	if got := stageStatus(t, p, "a"); got != pipeline.StageCompleted {
		t.Fatalf("stage a status = %q", got)
	}
	if got := stageStatus(t, p, "b"); got != pipeline.StageFailed {
		t.Fatalf("stage b status = %q", got)
	}
	if got := stageStatus(t, p, "c"); got != pipeline.StageCompleted {
		t.Fatalf("stage c status = %q", got)
	}
	if got := stageStatus(t, p, "d"); got != pipeline.StageSkipped {
		t.Fatalf("stage d status = %q, want skipped", got)
	}
	if dRan.Load() {
		t.Fatal("stage d processor ran despite failed dependency")
	}
	if dErr := p.Context.Result("d").Error; !strings.Contains(dErr, "b") {
		t.Fatalf("stage d skip reason = %q, want mention of b", dErr)
	}
}

func TestRunOnFailedDepsStillExecutes(t *testing.T) {
	h := newHarness(t)

	h.register(t, "a", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		return nil, errors.New("a exploded")
	})
	h.register(t, "cleanup", succeedWith("cleanup", "done", true))

	cfg := pipeline.Config{
		Name: "with-cleanup",
		Stages: []pipeline.StageConfig{
			{Name: "a"},
			{Name: "cleanup", DependsOn: []string{"a"}, RunOnFailedDeps: true},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-3"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	err = h.manager.Execute(context.Background(), p)
	var execErr *pipeline.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() = %v, want ExecutionError for stage a", err)
	}
	if got := stageStatus(t, p, "cleanup"); got != pipeline.StageCompleted {
		t.Fatalf("cleanup status = %q, want completed despite failed dependency", got)
	}
}

func TestConditionSkipUnblocksDependents(t *testing.T) {
	h := newHarness(t)

	h.register(t, "extract", succeedWith("extract", "text", "hello"))
	h.register(t, "ocr", succeedWith("ocr", "text", "unused"))
	h.register(t, "index", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		result := processor.NewResult("index")
		if upstream, ok := pctx.Upstream["ocr"]; ok {
			result.Data["ocr_status"] = string(upstream.Status)
		}
		return result.Finish(), nil
	})

	cfg := pipeline.Config{
		Name: "conditional",
		Stages: []pipeline.StageConfig{
			{Name: "extract"},
			{
				Name:      "ocr",
				Type:      pipeline.StageRouter,
				DependsOn: []string{"extract"},
				Condition: func(pctx *pipeline.Context) bool { return false },
			},
			{Name: "index", DependsOn: []string{"ocr"}},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-4"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	ocr := p.Context.Result("ocr")
	if ocr.Status != pipeline.StageSkipped {
		t.Fatalf("ocr status = %q, want skipped", ocr.Status)
	}
	if ocr.Error != "" {
		t.Fatalf("condition skip recorded error %q, want benign skip", ocr.Error)
	}
	if ocr.Payload == nil {
		t.Fatal("condition skip should synthesize an empty success payload")
	}
	index := p.Context.Result("index")
	if index.Status != pipeline.StageCompleted {
		t.Fatalf("index status = %q, want completed after benign skip", index.Status)
	}
	if got := index.Payload["ocr_status"]; got != string(processor.StatusSkipped) {
		t.Fatalf("index saw upstream ocr status %v, want skipped", got)
	}
}

func TestFailureCascadesTransitively(t *testing.T) {
	h := newHarness(t)

	h.register(t, "a", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		return nil, errors.New("a exploded")
	})
	h.register(t, "b", succeedWith("b", "ok", true))
	h.register(t, "c", succeedWith("c", "ok", true))

	cfg := pipeline.Config{
		Name: "chain",
		Stages: []pipeline.StageConfig{
			{Name: "a"},
			{Name: "b", DependsOn: []string{"a"}},
			{Name: "c", DependsOn: []string{"b"}},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-5"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err == nil {
		t.Fatal("Execute() = nil, want failure")
	}

	if got := stageStatus(t, p, "b"); got != pipeline.StageSkipped {
		t.Fatalf("stage b status = %q, want skipped", got)
	}
	if got := stageStatus(t, p, "c"); got != pipeline.StageSkipped {
		t.Fatalf("stage c status = %q, want skipped (cascade)", got)
	}
	if cErr := p.Context.Result("c").Error; !strings.Contains(cErr, "b") {
		t.Fatalf("stage c skip reason = %q, want mention of b", cErr)
	}
}

func TestUpstreamDataFlows(t *testing.T) {
	h := newHarness(t)

	h.register(t, "extract", succeedWith("extract", "text", "hello world"))
	var received atomic.Value
	h.register(t, "count", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		text, _ := pctx.UpstreamData("extract", "text")
		received.Store(text)
		result := processor.NewResult("count")
		result.Data["words"] = len(strings.Fields(text.(string)))
		return result.Finish(), nil
	})

	cfg := pipeline.Config{
		Name: "flow",
		Stages: []pipeline.StageConfig{
			{Name: "extract"},
			{Name: "count", DependsOn: []string{"extract"}},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-6", Path: "/tmp/doc.txt"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	if got := received.Load(); got != "hello world" {
		t.Fatalf("count received upstream text %v, want hello world", got)
	}
	if got := p.Context.Result("count").Payload["words"]; got != 2 {
		t.Fatalf("count payload words = %v, want 2", got)
	}
}

func TestCheckpointResumeSkipsCompletedStages(t *testing.T) {
	h := newHarness(t)

	var firstRuns, secondRuns atomic.Int64
	var secondShouldFail atomic.Bool
	secondShouldFail.Store(true)

	h.register(t, "first", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		firstRuns.Add(1)
		result := processor.NewResult("first")
		result.Data["value"] = "from-first"
		return result.Finish(), nil
	})
	h.register(t, "second", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		secondRuns.Add(1)
		if secondShouldFail.Load() {
			return nil, errors.New("transient outage")
		}
		value, _ := pctx.UpstreamData("first", "value")
		result := processor.NewResult("second")
		result.Data["echo"] = value
		return result.Finish(), nil
	})

	cfg := pipeline.Config{
		Name:              "resumable",
		CheckpointEnabled: true,
		Stages: []pipeline.StageConfig{
			{Name: "first"},
			{Name: "second", DependsOn: []string{"first"}},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-7"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err == nil {
		t.Fatal("Execute() = nil, want failure on first run")
	}

	raw, ok, err := h.store.Get(context.Background(), p.ID)
	if err != nil || !ok {
		t.Fatalf("checkpoint Get() = %v, ok=%v", err, ok)
	}
	if !strings.Contains(string(raw), "from-first") {
		t.Fatal("checkpoint does not carry the completed stage payload")
	}

	secondShouldFail.Store(false)
	resumed, err := h.manager.Resume(context.Background(), cfg, p.ID)
	if err != nil {
		t.Fatalf("Resume() = %v", err)
	}
	if got := stageStatus(t, resumed, "first"); got != pipeline.StageCompleted {
		t.Fatalf("resumed first status = %q, want completed from checkpoint", got)
	}
	if err := h.manager.Execute(context.Background(), resumed); err != nil {
		t.Fatalf("Execute() after resume = %v", err)
	}

	if got := firstRuns.Load(); got != 1 {
		t.Fatalf("first ran %d times, want 1 (resume reuses checkpoint)", got)
	}
	if got := secondRuns.Load(); got != 2 {
		t.Fatalf("second ran %d times, want 2", got)
	}
	if got := resumed.Context.Result("second").Payload["echo"]; got != "from-first" {
		t.Fatalf("second echoed %v, want from-first", got)
	}
	if resumed.Status() != pipeline.StatusCompleted {
		t.Fatalf("resumed pipeline status = %q", resumed.Status())
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	h := newHarness(t)
	cfg := pipeline.Config{Name: "missing", Stages: []pipeline.StageConfig{{Name: "only"}}}
	if _, err := h.manager.Resume(context.Background(), cfg, "nope"); !errors.Is(err, pipeline.ErrNoCheckpoint) {
		t.Fatalf("Resume() = %v, want ErrNoCheckpoint", err)
	}
}

func TestCancelStopsFutureWaves(t *testing.T) {
	h := newHarness(t)

	var pipelineID string
	var secondRan atomic.Bool
	h.register(t, "first", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		if err := h.manager.Cancel(context.Background(), pipelineID); err != nil {
			return nil, err
		}
		return processor.NewResult("first").Finish(), nil
	})
	h.register(t, "second", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		secondRan.Store(true)
		return processor.NewResult("second").Finish(), nil
	})

	cfg := pipeline.Config{
		Name: "cancelled",
		Stages: []pipeline.StageConfig{
			{Name: "first"},
			{Name: "second", DependsOn: []string{"first"}},
		},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-8"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	pipelineID = p.ID

	if err := h.manager.Execute(context.Background(), p); !errors.Is(err, pipeline.ErrPipelineCancelled) {
		t.Fatalf("Execute() = %v, want ErrPipelineCancelled", err)
	}
	if p.Status() != pipeline.StatusCancelled {
		t.Fatalf("pipeline status = %q, want cancelled", p.Status())
	}
	if got := stageStatus(t, p, "first"); got != pipeline.StageCompleted {
		t.Fatalf("first status = %q, want completed (in-flight work finishes)", got)
	}
	if got := stageStatus(t, p, "second"); got != pipeline.StagePending {
		t.Fatalf("second status = %q, want pending (never dispatched)", got)
	}
	if secondRan.Load() {
		t.Fatal("second stage ran after cancellation")
	}
}

func TestCancelBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.register(t, "only", succeedWith("only", "ok", true))

	cfg := pipeline.Config{Name: "never-runs", Stages: []pipeline.StageConfig{{Name: "only"}}}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-9"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Cancel(context.Background(), p.ID); err != nil {
		t.Fatalf("Cancel() = %v", err)
	}
	if p.Status() != pipeline.StatusCancelled {
		t.Fatalf("pipeline status = %q, want cancelled", p.Status())
	}
	if err := h.manager.Execute(context.Background(), p); err == nil {
		t.Fatal("Execute() on a cancelled pipeline should fail")
	}
	if err := h.manager.Cancel(context.Background(), p.ID); err == nil {
		t.Fatal("Cancel() on a terminal pipeline should fail")
	}
}

func TestExecuteTwiceRejected(t *testing.T) {
	h := newHarness(t)
	h.register(t, "only", succeedWith("only", "ok", true))

	cfg := pipeline.Config{Name: "once", Stages: []pipeline.StageConfig{{Name: "only"}}}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-10"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err == nil {
		t.Fatal("second Execute() should fail")
	}
}

func TestUnknownProcessorFailsStage(t *testing.T) {
	h := newHarness(t)

	cfg := pipeline.Config{Name: "ghost", Stages: []pipeline.StageConfig{{Name: "phantom"}}}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-11"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err == nil {
		t.Fatal("Execute() = nil, want failure for unregistered processor")
	}
	result := p.Context.Result("phantom")
	if result.Status != pipeline.StageFailed {
		t.Fatalf("phantom status = %q, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "not registered") {
		t.Fatalf("phantom error = %q, want registry error", result.Error)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name   string
		cfg    pipeline.Config
		target error
		substr string
	}{
		{
			name: "cycle",
			cfg: pipeline.Config{Name: "p", Stages: []pipeline.StageConfig{
				{Name: "a", DependsOn: []string{"b"}},
				{Name: "b", DependsOn: []string{"a"}},
			}},
			target: dag.ErrCyclicDependency,
		},
		{
			name: "missing dependency",
			cfg: pipeline.Config{Name: "p", Stages: []pipeline.StageConfig{
				{Name: "a", DependsOn: []string{"ghost"}},
			}},
			target: dag.ErrMissingDependency,
		},
		{
			name: "duplicate stage",
			cfg: pipeline.Config{Name: "p", Stages: []pipeline.StageConfig{
				{Name: "a"},
				{Name: "a"},
			}},
			target: dag.ErrDuplicateNode,
		},
		{
			name: "router without condition",
			cfg: pipeline.Config{Name: "p", Stages: []pipeline.StageConfig{
				{Name: "a", Type: pipeline.StageRouter},
			}},
			substr: "condition",
		},
		{
			name: "aggregator without dependencies",
			cfg: pipeline.Config{Name: "p", Stages: []pipeline.StageConfig{
				{Name: "a", Type: pipeline.StageAggregator},
			}},
			substr: "dependency",
		},
		{
			name: "unknown lane",
			cfg: pipeline.Config{Name: "p", Stages: []pipeline.StageConfig{
				{Name: "a", Lane: "fiber"},
			}},
			substr: "unknown lane",
		},
		{
			name:   "no stages",
			cfg:    pipeline.Config{Name: "p"},
			substr: "no stages",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.manager.Create(context.Background(), tc.cfg, pipeline.Document{})
			if err == nil {
				t.Fatal("Create() = nil, want error")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Fatalf("Create() = %v, want %v", err, tc.target)
			}
			if tc.substr != "" && !strings.Contains(err.Error(), tc.substr) {
				t.Fatalf("Create() = %v, want mention of %q", err, tc.substr)
			}
		})
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	h := newHarness(t)
	sub := h.bus.Subscribe(32,
		events.TopicPipelineCreated,
		events.TopicPipelineStarted,
		events.TopicStageStarted,
		events.TopicStageCompleted,
		events.TopicPipelineCompleted,
	)
	defer sub.Close()

	h.register(t, "only", succeedWith("only", "ok", true))
	cfg := pipeline.Config{Name: "observed", Stages: []pipeline.StageConfig{{Name: "only"}}}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-12"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := h.manager.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	want := []events.Topic{
		events.TopicPipelineCreated,
		events.TopicPipelineStarted,
		events.TopicStageStarted,
		events.TopicStageCompleted,
		events.TopicPipelineCompleted,
	}
	for _, topic := range want {
		select {
		case evt := <-sub.C():
			if evt.Topic != topic {
				t.Fatalf("event topic = %q, want %q", evt.Topic, topic)
			}
			if evt.Payload[events.KeyPipelineID] != p.ID {
				t.Fatalf("event pipeline id = %v, want %s", evt.Payload[events.KeyPipelineID], p.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", topic)
		}
	}
}

func TestExecutionErrorKeepsErrorChain(t *testing.T) {
	h := newHarness(t)

	sentinel := errors.New("upstream unavailable")
	h.register(t, "flaky", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		return nil, fmt.Errorf("fetch document: %w", sentinel)
	})

	cfg := pipeline.Config{Name: "chained", Stages: []pipeline.StageConfig{{Name: "flaky"}}}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-16"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	err = h.manager.Execute(context.Background(), p)
	if err == nil {
		t.Fatal("Execute() = nil, want failure")
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("errors.Is(err, sentinel) = false for %v", err)
	}
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "flaky" {
		t.Fatalf("errors.As StageError = %v", err)
	}
	if got := p.Context.Result("flaky").Err(); !errors.Is(got, sentinel) {
		t.Fatalf("stage result lost the error chain: %v", got)
	}
}

func TestTaskTimeoutSurfacesDeadline(t *testing.T) {
	h := newHarness(t)

	h.register(t, "slow", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return processor.NewResult("slow").Finish(), nil
		}
	})

	cfg := pipeline.Config{
		Name:   "deadline",
		Stages: []pipeline.StageConfig{{Name: "slow", Timeout: 20 * time.Millisecond}},
	}
	p, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-17"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	err = h.manager.Execute(context.Background(), p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() = %v, want chain to context.DeadlineExceeded", err)
	}
}

func TestEveryProgressReportReachesTracker(t *testing.T) {
	h := newHarness(t)
	tracker := progress.NewTracker(h.bus)
	manager, err := pipeline.NewManager(pipeline.Deps{
		Registry: h.registry,
		Pool:     h.pool,
		Store:    h.store,
		Bus:      h.bus,
		Tracker:  tracker,
	})
	if err != nil {
		t.Fatalf("NewManager() = %v", err)
	}

	h.register(t, "chatty", func(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
		pctx.ReportProgress(1, "warming up")
		pctx.ReportProgress(2, "still warming up")
		return processor.NewResult("chatty").Finish(), nil
	})

	cfg := pipeline.Config{Name: "verbose", Stages: []pipeline.StageConfig{{Name: "chatty"}}}
	p, err := manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-15"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := manager.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	all := tracker.All()
	if len(all) != 1 {
		t.Fatalf("tracker holds %d tasks, want 1", len(all))
	}
	for _, update := range all {
		if update.Percent != 2 {
			t.Fatalf("tracker percent = %v, want 2 (every report recorded)", update.Percent)
		}
		if update.Message != "still warming up" {
			t.Fatalf("tracker message = %q, want the latest report", update.Message)
		}
	}
}

func TestListOrdersByCreation(t *testing.T) {
	h := newHarness(t)
	h.register(t, "only", succeedWith("only", "ok", true))
	cfg := pipeline.Config{Name: "listed", Stages: []pipeline.StageConfig{{Name: "only"}}}

	first, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-13"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := h.manager.Create(context.Background(), cfg, pipeline.Document{ID: "doc-14"})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	list := h.manager.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d pipelines, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("List() order = %s, %s", list[0].ID, list[1].ID)
	}
	if _, ok := h.manager.Get(first.ID); !ok {
		t.Fatal("Get() lost a created pipeline")
	}
}
