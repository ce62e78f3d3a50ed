package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"docket/internal/config"
	"docket/internal/pipeline"
	"docket/internal/processor"
	"docket/internal/testsupport"
	"docket/internal/worker"
)

func succeed(name string) func(context.Context, *processor.Context) (*processor.Result, error) {
	return func(context.Context, *processor.Context) (*processor.Result, error) {
		return processor.NewResult(name).Finish(), nil
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t, testsupport.WithIntake(5))
}

func registryWith(t *testing.T, name string, run func(context.Context, *processor.Context) (*processor.Result, error)) *processor.Registry {
	t.Helper()
	registry := processor.NewRegistry()
	testsupport.RegisterStub(t, registry, name, run)
	return registry
}

func newManager(t *testing.T, registry *processor.Registry) *pipeline.Manager {
	t.Helper()
	pool := worker.NewPool(worker.Options{AsyncWorkers: 2, ThreadWorkers: 1, ProcessWorkers: 1}, nil, nil, nil, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(pool.Stop)
	mgr, err := pipeline.NewManager(pipeline.Deps{Registry: registry, Pool: pool})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func onePipeline(stage string) pipeline.Config {
	return pipeline.Config{Name: "intake-test", Stages: []pipeline.StageConfig{{Name: stage}}}
}

// scanWatcher builds a watcher whose scans the test drives by hand.
func scanWatcher(t *testing.T, cfg *config.Config, pcfg pipeline.Config, mgr *pipeline.Manager) *Watcher {
	t.Helper()
	w, err := NewWatcher(cfg, pcfg, mgr, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.ensureDirs(); err != nil {
		t.Fatalf("ensureDirs: %v", err)
	}
	w.group = new(errgroup.Group)
	return w
}

func writeIntake(t *testing.T, cfg *config.Config, name, content string) string {
	t.Helper()
	return testsupport.WriteDocument(t, cfg.Paths.IntakeDir, name, content)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestScanDispatchesAfterSizeSettles(t *testing.T) {
	cfg := testConfig(t)
	var (
		mu   sync.Mutex
		meta map[string]string
	)
	registry := registryWith(t, "copy", func(_ context.Context, pctx *processor.Context) (*processor.Result, error) {
		mu.Lock()
		meta = pctx.Metadata
		mu.Unlock()
		return processor.NewResult("copy").Finish(), nil
	})
	w := scanWatcher(t, cfg, onePipeline("copy"), newManager(t, registry))

	path := writeIntake(t, cfg, "doc.txt", "hello")
	ctx := context.Background()

	w.scan(ctx)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file dispatched after a single scan: %v", err)
	}

	w.scan(ctx)
	if err := w.group.Wait(); err != nil {
		t.Fatalf("group wait: %v", err)
	}

	moved := filepath.Join(w.processedDir(), "doc.txt")
	data, err := os.ReadFile(moved)
	if err != nil {
		t.Fatalf("read processed file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("processed content = %q", data)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original file still present: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if meta["source"] != "intake" || meta["filename"] != "doc.txt" {
		t.Fatalf("document metadata = %v", meta)
	}
}

func TestScanWaitsForGrowingFile(t *testing.T) {
	cfg := testConfig(t)
	registry := registryWith(t, "copy", succeed("copy"))
	w := scanWatcher(t, cfg, onePipeline("copy"), newManager(t, registry))

	path := writeIntake(t, cfg, "grow.bin", "abc")
	ctx := context.Background()

	w.scan(ctx)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := file.WriteString("def"); err != nil {
		t.Fatal(err)
	}
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}

	w.scan(ctx)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("growing file dispatched: %v", err)
	}

	w.scan(ctx)
	if err := w.group.Wait(); err != nil {
		t.Fatalf("group wait: %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.processedDir(), "grow.bin")); err != nil {
		t.Fatalf("settled file not processed: %v", err)
	}
}

func TestFailedRunMovesToFailedDir(t *testing.T) {
	cfg := testConfig(t)
	registry := registryWith(t, "copy", func(context.Context, *processor.Context) (*processor.Result, error) {
		return nil, errors.New("boom")
	})
	w := scanWatcher(t, cfg, onePipeline("copy"), newManager(t, registry))

	writeIntake(t, cfg, "bad.txt", "x")
	ctx := context.Background()
	w.scan(ctx)
	w.scan(ctx)
	if err := w.group.Wait(); err != nil {
		t.Fatalf("group wait: %v", err)
	}

	if _, err := os.Stat(filepath.Join(w.failedDir(), "bad.txt")); err != nil {
		t.Fatalf("failed file not moved aside: %v", err)
	}
	if names := dirNames(t, w.processedDir()); len(names) != 0 {
		t.Fatalf("processed dir = %v", names)
	}
}

func TestScanHonorsPatterns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Intake.Patterns = []string{"*.txt"}
	registry := registryWith(t, "copy", succeed("copy"))
	w := scanWatcher(t, cfg, onePipeline("copy"), newManager(t, registry))

	writeIntake(t, cfg, "keep.txt", "a")
	skipped := writeIntake(t, cfg, "skip.log", "b")
	writeIntake(t, cfg, ".partial", "c")

	ctx := context.Background()
	w.scan(ctx)
	w.scan(ctx)
	if err := w.group.Wait(); err != nil {
		t.Fatalf("group wait: %v", err)
	}

	if _, err := os.Stat(filepath.Join(w.processedDir(), "keep.txt")); err != nil {
		t.Fatalf("matching file not processed: %v", err)
	}
	if _, err := os.Stat(skipped); err != nil {
		t.Fatalf("non-matching file touched: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.IntakeDir, ".partial")); err != nil {
		t.Fatalf("hidden file touched: %v", err)
	}
}

func TestInterruptedRunLeavesFile(t *testing.T) {
	cfg := testConfig(t)
	started := make(chan struct{})
	registry := registryWith(t, "copy", func(ctx context.Context, _ *processor.Context) (*processor.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	w := scanWatcher(t, cfg, onePipeline("copy"), newManager(t, registry))

	path := writeIntake(t, cfg, "slow.txt", "x")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.scan(ctx)
	w.scan(ctx)
	<-started

	// A scan while the file is in flight must not dispatch it again; a
	// second dispatch would close started twice and panic.
	w.scan(ctx)

	cancel()
	if err := w.group.Wait(); err != nil {
		t.Fatalf("group wait: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("interrupted file removed from intake: %v", err)
	}
	if names := dirNames(t, w.failedDir()); len(names) != 0 {
		t.Fatalf("failed dir = %v", names)
	}
	if names := dirNames(t, w.processedDir()); len(names) != 0 {
		t.Fatalf("processed dir = %v", names)
	}
}

func TestWatcherLifecycle(t *testing.T) {
	cfg := testConfig(t)
	registry := registryWith(t, "copy", succeed("copy"))
	mgr := newManager(t, registry)

	w, err := NewWatcher(cfg, onePipeline("copy"), mgr, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.pollInterval = 20 * time.Millisecond

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	writeIntake(t, cfg, "doc.txt", "hello")

	moved := filepath.Join(w.processedDir(), "doc.txt")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(moved); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("file never processed by watcher loop")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.Stop()
	w.Stop()
}

func TestNewWatcherValidation(t *testing.T) {
	cfg := testConfig(t)
	registry := registryWith(t, "copy", succeed("copy"))
	mgr := newManager(t, registry)

	if _, err := NewWatcher(nil, onePipeline("copy"), mgr, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewWatcher(cfg, onePipeline("copy"), nil, nil); err == nil {
		t.Fatal("expected error for nil manager")
	}

	cfg.Paths.IntakeDir = "  "
	if _, err := NewWatcher(cfg, onePipeline("copy"), mgr, nil); err == nil {
		t.Fatal("expected error for missing intake dir")
	}
}
