package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docket/internal/config"
	"docket/internal/fileutil"
	"docket/internal/logging"
	"docket/internal/pipeline"
)

const (
	processedDirName = "processed"
	failedDirName    = "failed"
)

// Watcher polls the intake directory and executes the host pipeline for
// every new file that has stopped growing.
type Watcher struct {
	cfg    *config.Config
	mgr    *pipeline.Manager
	pcfg   pipeline.Config
	logger *slog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	group   *errgroup.Group

	sizes    map[string]int64
	inflight map[string]struct{}
}

// NewWatcher constructs a watcher over cfg's intake directory. The pipeline
// config is validated when the first document is created, not here.
func NewWatcher(cfg *config.Config, pcfg pipeline.Config, mgr *pipeline.Manager, logger *slog.Logger) (*Watcher, error) {
	if cfg == nil || mgr == nil {
		return nil, errors.New("intake watcher requires config and pipeline manager")
	}
	if strings.TrimSpace(cfg.Paths.IntakeDir) == "" {
		return nil, errors.New("intake watcher requires an intake directory")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.Intake.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		cfg:          cfg,
		mgr:          mgr,
		pcfg:         pcfg,
		logger:       logger.With(logging.String(logging.FieldComponent, "intake")),
		pollInterval: interval,
		sizes:        make(map[string]int64),
		inflight:     make(map[string]struct{}),
	}, nil
}

// Start creates the intake directory tree and begins polling.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("intake watcher already running")
	}
	if err := w.ensureDirs(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group := new(errgroup.Group)
	if limit := w.cfg.Intake.MaxConcurrent; limit > 0 {
		group.SetLimit(limit)
	}
	w.cancel = cancel
	w.group = group
	w.running = true
	w.wg.Add(1)
	go w.run(runCtx)

	w.logger.Info("intake watcher started",
		logging.String("dir", w.cfg.Paths.IntakeDir),
		logging.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop terminates polling and waits for in-flight documents to settle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	group := w.group
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	_ = group.Wait()
	w.logger.Info("intake watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.scan(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Paths.IntakeDir)
	if err != nil {
		w.logger.Error("failed to read intake directory",
			logging.Error(err),
			logging.String(logging.FieldEventType, "intake_scan_failed"),
			logging.String(logging.FieldErrorHint, "check intake directory permissions"),
		)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !w.matches(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		w.consider(ctx, filepath.Join(w.cfg.Paths.IntakeDir, name), info.Size())
	}
}

// consider dispatches path once two consecutive polls observe the same size.
func (w *Watcher) consider(ctx context.Context, path string, size int64) {
	w.mu.Lock()
	if _, busy := w.inflight[path]; busy {
		w.mu.Unlock()
		return
	}
	last, seen := w.sizes[path]
	if !seen || last != size {
		w.sizes[path] = size
		w.mu.Unlock()
		return
	}
	delete(w.sizes, path)
	w.inflight[path] = struct{}{}
	group := w.group
	w.mu.Unlock()

	group.Go(func() error {
		defer w.release(path)
		w.process(ctx, path)
		return nil
	})
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

func (w *Watcher) process(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	doc := pipeline.Document{
		ID:   uuid.NewString(),
		Path: path,
		Metadata: map[string]string{
			"source":   "intake",
			"filename": filepath.Base(path),
		},
	}
	logger := w.logger.With(logging.String(logging.FieldDocumentID, doc.ID))

	p, err := w.mgr.Create(ctx, w.pcfg, doc)
	if err != nil {
		logger.Error("failed to create pipeline for intake file",
			logging.Error(err),
			logging.String("file", path),
		)
		w.moveAside(logger, path, w.failedDir())
		return
	}
	logger = logger.With(logging.String(logging.FieldPipelineID, p.ID))
	logger.Info("intake file accepted", logging.String("file", path))

	err = w.mgr.Execute(ctx, p)
	switch {
	case err == nil:
		w.moveAside(logger, path, w.processedDir())
	case errors.Is(err, pipeline.ErrPipelineCancelled) || ctx.Err() != nil:
		// Shutdown mid-run. The file stays put so the next start retries it.
		logger.Info("intake run interrupted", logging.String("file", path))
	default:
		logger.Error("intake pipeline failed",
			logging.Error(err),
			logging.String("file", path),
		)
		w.moveAside(logger, path, w.failedDir())
	}
}

func (w *Watcher) moveAside(logger *slog.Logger, path, dir string) {
	target := fileutil.UniquePath(filepath.Join(dir, filepath.Base(path)))
	if err := fileutil.MoveFile(path, target); err != nil {
		logger.Warn("failed to move intake file",
			logging.Error(err),
			logging.String("file", path),
			logging.String("target", target),
		)
		return
	}
	logger.Info("intake file moved", logging.String("target", target))
}

func (w *Watcher) matches(name string) bool {
	patterns := w.cfg.Intake.Patterns
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Watcher) ensureDirs() error {
	for _, dir := range []string{w.cfg.Paths.IntakeDir, w.processedDir(), w.failedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create intake directory %q: %w", dir, err)
		}
	}
	return nil
}

func (w *Watcher) processedDir() string {
	return filepath.Join(w.cfg.Paths.IntakeDir, processedDirName)
}

func (w *Watcher) failedDir() string {
	return filepath.Join(w.cfg.Paths.IntakeDir, failedDirName)
}
