package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"docket/internal/events"
	"docket/internal/logging"
	"docket/internal/monitoring"
	"docket/internal/processor"
	"docket/internal/progress"
	"docket/internal/resource"
)

// FullPolicy selects what Submit does when a lane queue is saturated.
type FullPolicy string

const (
	// PolicyBlock makes Submit wait for queue space or context end.
	PolicyBlock FullPolicy = "block"
	// PolicyReject makes Submit fail fast with ErrQueueFull.
	PolicyReject FullPolicy = "reject"
)

// Options sizes the pool and sets execution defaults.
type Options struct {
	AsyncWorkers    int
	ThreadWorkers   int
	ProcessWorkers  int
	MaxQueueSize    int
	DefaultTimeout  time.Duration
	QueueFullPolicy FullPolicy
}

type laneState struct {
	kind    Lane
	queue   chan *Task
	workers int
}

type pendingResult struct {
	done   chan struct{}
	result *processor.Result
	err    error
}

// Pool schedules tasks across lanes. Construct with NewPool, then Start.
type Pool struct {
	opts      Options
	resources *resource.Monitor
	metrics   *monitoring.Monitor
	tracker   *progress.Tracker
	bus       events.Bus
	logger    *slog.Logger

	lanes map[Lane]*laneState

	mu      sync.Mutex
	pending map[string]*pendingResult
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	total     atomic.Uint64
	queued    atomic.Int64
	active    atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// NewPool constructs a pool. The resource monitor is required; metrics,
// tracker, and bus are optional and degrade to no-ops.
func NewPool(opts Options, resources *resource.Monitor, metrics *monitoring.Monitor, tracker *progress.Tracker, bus events.Bus, logger *slog.Logger) *Pool {
	if opts.AsyncWorkers <= 0 {
		opts.AsyncWorkers = 8
	}
	if opts.ThreadWorkers <= 0 {
		opts.ThreadWorkers = 4
	}
	if opts.ProcessWorkers <= 0 {
		opts.ProcessWorkers = 2
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 64
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	if opts.QueueFullPolicy != PolicyReject {
		opts.QueueFullPolicy = PolicyBlock
	}
	if resources == nil {
		resources = resource.NewMonitor(nil)
	}
	if tracker == nil {
		tracker = progress.NewTracker(nil)
	}
	if bus == nil {
		bus = events.NewNopBus()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	pool := &Pool{
		opts:      opts,
		resources: resources,
		metrics:   metrics,
		tracker:   tracker,
		bus:       bus,
		logger:    logger.With(logging.String(logging.FieldComponent, "worker-pool")),
		pending:   make(map[string]*pendingResult),
		lanes: map[Lane]*laneState{
			LaneAsync:   {kind: LaneAsync, queue: make(chan *Task, opts.MaxQueueSize), workers: opts.AsyncWorkers},
			LaneThread:  {kind: LaneThread, queue: make(chan *Task, opts.MaxQueueSize), workers: opts.ThreadWorkers},
			LaneProcess: {kind: LaneProcess, queue: make(chan *Task, opts.MaxQueueSize), workers: opts.ProcessWorkers},
		},
	}
	return pool
}

// Start launches the lane workers. Starting a running pool is an error.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for _, lane := range p.lanes {
		for i := 0; i < lane.workers; i++ {
			p.wg.Add(1)
			go p.runWorker(runCtx, lane)
		}
	}
	p.logger.Info("worker pool started",
		logging.Int("async_workers", p.lanes[LaneAsync].workers),
		logging.Int("thread_workers", p.lanes[LaneThread].workers),
		logging.Int("process_workers", p.lanes[LaneProcess].workers),
		logging.Int("max_queue_size", p.opts.MaxQueueSize))
	return nil
}

// Stop halts the workers, waits for in-flight attempts to observe
// cancellation, and fails result waiters for tasks that never started.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.mu.Lock()
	for _, entry := range p.pending {
		select {
		case <-entry.done:
		default:
			entry.err = ErrPoolStopped
			close(entry.done)
		}
	}
	p.mu.Unlock()
	p.logger.Info("worker pool stopped")
}

// Submit queues a task on its lane and returns the task id. When the lane is
// full, Submit blocks or rejects per the configured policy.
func (p *Pool) Submit(ctx context.Context, task *Task) (string, error) {
	if task == nil || task.Run == nil {
		return "", errors.New("task run function is required")
	}
	lane, err := p.laneFor(task.Lane)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return "", ErrPoolStopped
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := p.pending[task.ID]; exists {
		p.mu.Unlock()
		return "", fmt.Errorf("task %s already submitted", task.ID)
	}
	entry := &pendingResult{done: make(chan struct{})}
	p.pending[task.ID] = entry
	p.mu.Unlock()

	task.Lane = lane.kind
	task.SubmittedAt = time.Now().UTC()

	enqueue := func() error {
		if p.opts.QueueFullPolicy == PolicyReject {
			select {
			case lane.queue <- task:
				return nil
			default:
				return fmt.Errorf("%w: lane %s at %d tasks", ErrQueueFull, lane.kind, p.opts.MaxQueueSize)
			}
		}
		select {
		case lane.queue <- task:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := enqueue(); err != nil {
		p.mu.Lock()
		delete(p.pending, task.ID)
		p.mu.Unlock()
		return "", err
	}

	p.total.Add(1)
	p.queued.Add(1)
	return task.ID, nil
}

// Result blocks until the task reaches a terminal state, the timeout lapses,
// or ctx ends. A task's result may be claimed once. Processor failures are
// reported in the Result's status, not the error.
func (p *Pool) Result(ctx context.Context, id string, timeout time.Duration) (*processor.Result, error) {
	p.mu.Lock()
	entry, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-entry.done:
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return entry.result, entry.err
	case <-timer:
		return nil, fmt.Errorf("%w: task %s after %s", ErrResultTimeout, id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait reports whether the pool went idle (nothing queued or running) within
// the timeout. A zero timeout waits until ctx ends.
func (p *Pool) Wait(ctx context.Context, timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if p.idle() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return p.idle()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Stats snapshots pool accounting.
func (p *Pool) Stats() Stats {
	queued := p.queued.Load()
	if queued < 0 {
		queued = 0
	}
	active := p.active.Load()
	if active < 0 {
		active = 0
	}
	return Stats{
		Total:     p.total.Load(),
		Queued:    uint64(queued),
		Active:    uint64(active),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Retries:   p.retries.Load(),
	}
}

func (p *Pool) idle() bool {
	return p.queued.Load() == 0 && p.active.Load() == 0
}

func (p *Pool) laneFor(kind Lane) (*laneState, error) {
	if kind == "" {
		kind = LaneAsync
	}
	lane, ok := p.lanes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown lane %q (valid: async, thread, process)", kind)
	}
	return lane, nil
}

func (p *Pool) runWorker(ctx context.Context, lane *laneState) {
	defer p.wg.Done()
	if lane.kind == LaneThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-lane.queue:
			p.active.Add(1)
			p.queued.Add(-1)
			p.executeTask(ctx, task)
			p.active.Add(-1)
		}
	}
}

func (p *Pool) executeTask(ctx context.Context, task *Task) {
	logger := p.logger.With(
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldProcessor, task.Processor),
		logging.String(logging.FieldLane, string(task.Lane)))

	result, err := p.runAttempts(ctx, task, logger)
	if err != nil || result == nil {
		failed := processor.NewResult(task.Processor)
		if err == nil {
			err = errors.New("processor returned no result")
		}
		result = failed.Fail(err)
	}

	switch result.Status {
	case processor.StatusFailed:
		p.failed.Add(1)
		p.tracker.Update(ctx, task.ID, task.Stage, 100, "failed")
		logger.Error("task failed", logging.Error(attemptError(result, nil)))
	default:
		p.completed.Add(1)
		p.tracker.Update(ctx, task.ID, task.Stage, 100, "completed")
	}

	p.mu.Lock()
	entry, ok := p.pending[task.ID]
	p.mu.Unlock()
	if ok {
		entry.result = result
		close(entry.done)
	}
}

// runAttempts drives the retry loop. The same task id is reused across
// attempts so metrics and progress correlate.
func (p *Pool) runAttempts(ctx context.Context, task *Task, logger *slog.Logger) (*processor.Result, error) {
	attempts := task.RetryCount + 1
	var (
		lastResult *processor.Result
		lastErr    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := p.runOnce(ctx, task, attempt)
		if err == nil && result != nil && result.Status != processor.StatusFailed {
			return result, nil
		}
		lastResult, lastErr = result, err
		if ctx.Err() != nil {
			break
		}
		if attempt == attempts {
			break
		}

		p.retries.Add(1)
		logger.Warn("task attempt failed, retrying",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("retry_delay", task.RetryDelay),
			logging.Error(attemptError(result, err)))
		_ = p.bus.Publish(ctx, events.TopicTaskRetrying, events.Payload{
			events.KeyTaskID:    task.ID,
			events.KeyProcessor: task.Processor,
			events.KeyStage:     task.Stage,
			events.KeyAttempt:   attempt,
			events.KeyError:     attemptError(result, err).Error(),
		})

		if task.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return lastResult, ctx.Err()
			case <-time.After(task.RetryDelay):
			}
		}
	}
	if lastErr == nil && lastResult != nil {
		return lastResult, nil
	}
	return lastResult, lastErr
}

// runOnce executes a single attempt: resource admission, hard deadline, panic
// containment, metrics. Resources are released when the attempt leaves,
// whether it completed, failed, timed out, or panicked.
func (p *Pool) runOnce(ctx context.Context, task *Task, attempt int) (*processor.Result, error) {
	if err := p.resources.Acquire(ctx, task.ID, task.Resources); err != nil {
		return nil, fmt.Errorf("acquire resources: %w", err)
	}
	defer p.resources.Release(task.ID)

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.opts.DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *processor.Result
		err    error
	}
	p.logger.Debug("task attempt starting",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldProcessor, task.Processor),
		logging.Int("attempt", attempt))

	outcomeCh := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomeCh <- outcome{err: fmt.Errorf("%w: %v", ErrProcessorPanic, r)}
			}
		}()
		result, err := task.Run(attemptCtx, task.Context)
		outcomeCh <- outcome{result: result, err: err}
	}()

	var (
		result *processor.Result
		err    error
	)
	select {
	case out := <-outcomeCh:
		result, err = out.result, out.err
	case <-attemptCtx.Done():
		err = attemptCtx.Err()
	}
	duration := time.Since(start)

	if p.metrics != nil {
		rec := monitoring.Record{
			Processor: task.Processor,
			Success:   err == nil && result != nil && result.Status != processor.StatusFailed,
			Duration:  duration,
		}
		if result != nil {
			rec.MemoryBytes = result.MemoryBytes
			rec.CPUSeconds = result.CPUSeconds
		}
		p.metrics.RecordProcessing(ctx, rec)
	}
	return result, err
}

func attemptError(result *processor.Result, err error) error {
	if err != nil {
		return err
	}
	if result != nil {
		if cause := result.Cause(); cause != nil {
			return cause
		}
	}
	return errors.New("processor failed")
}
