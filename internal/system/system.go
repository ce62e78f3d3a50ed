package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"docket/internal/checkpoint"
	"docket/internal/config"
	"docket/internal/events"
	"docket/internal/logging"
	"docket/internal/monitoring"
	"docket/internal/notify"
	"docket/internal/pipeline"
	"docket/internal/processor"
	"docket/internal/progress"
	"docket/internal/resource"
	"docket/internal/worker"
)

// Options overrides pieces of the default wiring. The zero value wires
// everything from configuration.
type Options struct {
	// Registry supplies a pre-populated processor registry. Nil creates an
	// empty one; hosts register processors through Registry().
	Registry *processor.Registry
	// Bus replaces the in-process event bus. Nil creates one owned by the
	// system and closed with it.
	Bus events.Bus
	// Store replaces the checkpoint store. Nil opens a SQLite store under
	// the state directory when checkpoints are enabled, or an in-memory
	// store otherwise. Caller-supplied stores are not closed by Close.
	Store checkpoint.Store
	// Notifier replaces the push notification service. Nil builds one from
	// the notifications configuration.
	Notifier notify.Service
	// SkipLock disables the single-instance lock that normally guards the
	// state directory when checkpoints are enabled. One-shot hosts set this
	// so they can run alongside a daemon.
	SkipLock bool
}

// System owns the wired subsystems and their shared lifecycle.
type System struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *processor.Registry
	bus      events.Bus
	ownedBus *events.InProcessBus

	resources *resource.Monitor
	sampler   *resource.Sampler
	tracker   *progress.Tracker
	metrics   *monitoring.Monitor

	store      checkpoint.Store
	ownedStore bool

	pool     *worker.Pool
	manager  *pipeline.Manager
	observer *notify.Observer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// Health reports point-in-time readiness, one record per component.
type Health struct {
	Ready      bool               `json:"ready"`
	Components []processor.Health `json:"components"`
}

// Stats merges the live counters of the system's subsystems.
type Stats struct {
	Pool       worker.Stats                   `json:"pool"`
	Processors map[string]monitoring.Insights `json:"processors"`
	Resources  map[string]resource.Usage      `json:"resources"`
	Host       *resource.HostSample           `json:"host,omitempty"`
}

// New wires a system from configuration. The returned system is stopped;
// call Start before submitting pipelines.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*System, error) {
	if cfg == nil {
		return nil, errors.New("system requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := opts.Registry
	if registry == nil {
		registry = processor.NewRegistry()
	}

	bus := opts.Bus
	var ownedBus *events.InProcessBus
	if bus == nil {
		ownedBus = events.NewBus()
		bus = ownedBus
	}

	resources := resource.NewMonitor(resource.Limits(cfg.Resources.Capacity))
	sampler := resource.NewSampler(resource.SamplerOptions{
		Interval:           time.Duration(cfg.Resources.SampleIntervalSeconds) * time.Second,
		MemoryAlertPercent: cfg.Resources.MemoryAlertPercent,
		LoadAlertPerCPU:    cfg.Resources.LoadAlertPerCPU,
	}, bus, logger)
	tracker := progress.NewTracker(bus)
	metrics := monitoring.NewMonitor(monitoring.Options{
		WindowSize:           cfg.Monitoring.WindowSize,
		HistorySize:          cfg.Monitoring.HistorySize,
		FailureRateThreshold: cfg.Monitoring.FailureRateThreshold,
		AvgDurationThreshold: secondsToDuration(cfg.Monitoring.AvgDurationThresholdSeconds),
	}, bus, logger)

	store := opts.Store
	ownedStore := false
	if store == nil {
		if cfg.Checkpoints.Enabled {
			sqliteStore, err := checkpoint.OpenSQLite(filepath.Join(cfg.Paths.StateDir, "checkpoints.db"))
			if err != nil {
				if ownedBus != nil {
					ownedBus.Close()
				}
				return nil, fmt.Errorf("open checkpoint store: %w", err)
			}
			store = sqliteStore
		} else {
			store = checkpoint.NewMemoryStore()
		}
		ownedStore = true
	}

	pool := worker.NewPool(worker.Options{
		AsyncWorkers:    cfg.Workers.AsyncWorkers,
		ThreadWorkers:   cfg.Workers.ThreadWorkers,
		ProcessWorkers:  cfg.Workers.ProcessWorkers,
		MaxQueueSize:    cfg.Workers.MaxQueueSize,
		DefaultTimeout:  time.Duration(cfg.Workers.DefaultTimeoutSeconds) * time.Second,
		QueueFullPolicy: worker.FullPolicy(cfg.Workers.QueueFullPolicy),
	}, resources, metrics, tracker, bus, logger)

	manager, err := pipeline.NewManager(pipeline.Deps{
		Registry: registry,
		Pool:     pool,
		Store:    store,
		Bus:      bus,
		Tracker:  tracker,
		Logger:   logger,
	})
	if err != nil {
		if ownedStore {
			_ = store.Close()
		}
		if ownedBus != nil {
			ownedBus.Close()
		}
		return nil, err
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewService(cfg)
	}
	observer := notify.NewObserver(cfg, notifier, bus, logger)

	s := &System{
		cfg:        cfg,
		logger:     logger.With(logging.String(logging.FieldComponent, "system")),
		registry:   registry,
		bus:        bus,
		ownedBus:   ownedBus,
		resources:  resources,
		sampler:    sampler,
		tracker:    tracker,
		metrics:    metrics,
		store:      store,
		ownedStore: ownedStore,
		pool:       pool,
		manager:    manager,
		observer:   observer,
	}
	if cfg.Checkpoints.Enabled && !opts.SkipLock {
		s.lockPath = filepath.Join(cfg.Paths.StateDir, "docket.lock")
		s.lock = flock.New(s.lockPath)
	}
	return s, nil
}

// Start acquires the instance lock and launches the worker pool, host
// sampler, and notification observer.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return errors.New("system already running")
	}

	if s.lock != nil {
		if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
		ok, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
		if !ok {
			return errors.New("another docket instance is already running")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.pool.Start(runCtx); err != nil {
		cancel()
		s.releaseLock()
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := s.observer.Start(runCtx); err != nil {
		s.pool.Stop()
		cancel()
		s.releaseLock()
		return fmt.Errorf("start notification observer: %w", err)
	}
	s.sampler.Start(runCtx)

	s.cancel = cancel
	s.running.Store(true)
	s.logger.Info("system started",
		logging.Int("registered_processors", len(s.registry.List())),
		logging.Bool("checkpoints", s.cfg.Checkpoints.Enabled))
	return nil
}

// Stop winds down the running components and releases the instance lock.
// Safe to call more than once.
func (s *System) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.sampler.Stop()
	s.pool.Stop()
	s.observer.Stop()
	s.releaseLock()
	s.running.Store(false)
	s.logger.Info("system stopped")
}

// Close stops the system and releases owned resources, including the
// checkpoint store and bus when the system created them.
func (s *System) Close() error {
	s.Stop()
	var storeErr error
	if s.ownedStore {
		storeErr = s.store.Close()
	}
	if s.ownedBus != nil {
		s.ownedBus.Close()
	}
	return storeErr
}

// Running reports whether Start has succeeded and Stop has not yet run.
func (s *System) Running() bool {
	return s.running.Load()
}

// Manager exposes the pipeline manager for creating and executing pipelines.
func (s *System) Manager() *pipeline.Manager {
	return s.manager
}

// Registry exposes the processor registry for host registration.
func (s *System) Registry() *processor.Registry {
	return s.registry
}

// Bus exposes the event bus for host subscriptions.
func (s *System) Bus() events.Bus {
	return s.bus
}

// Store exposes the checkpoint store backing pipeline resume.
func (s *System) Store() checkpoint.Store {
	return s.store
}

// Health checks the checkpoint store, the worker pool, and every registered
// processor. Processors implementing HealthChecker run their own check;
// the rest are assumed ready.
func (s *System) Health(ctx context.Context) Health {
	components := make([]processor.Health, 0, len(s.registry.List())+2)

	if _, err := s.store.Keys(ctx); err != nil {
		components = append(components, processor.Unhealthy("checkpoint-store", err.Error()))
	} else {
		components = append(components, processor.Healthy("checkpoint-store"))
	}

	if s.running.Load() {
		components = append(components, processor.Healthy("worker-pool"))
	} else {
		components = append(components, processor.Unhealthy("worker-pool", "not started"))
	}

	for _, name := range s.registry.List() {
		proc, err := s.registry.New(name, nil)
		if err != nil {
			components = append(components, processor.Unhealthy(name, err.Error()))
			continue
		}
		if checker, ok := proc.(processor.HealthChecker); ok {
			components = append(components, checker.HealthCheck(ctx))
			continue
		}
		components = append(components, processor.Healthy(name))
	}

	ready := true
	for _, component := range components {
		if !component.Ready {
			ready = false
			break
		}
	}
	return Health{Ready: ready, Components: components}
}

// Stats snapshots pool counters, per-processor insights, logical resource
// usage, and the latest host sample when one exists.
func (s *System) Stats() Stats {
	stats := Stats{
		Pool:       s.pool.Stats(),
		Processors: s.metrics.Snapshot(),
		Resources:  s.resources.Usage(),
	}
	if sample, ok := s.sampler.Last(); ok {
		stats.Host = &sample
	}
	return stats
}

func (s *System) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release instance lock", logging.Error(err))
	}
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
