package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"docket/internal/config"
	"docket/internal/control"
	"docket/internal/processor"
	"docket/internal/processors"
	"docket/internal/system"
)

func TestStatusCommandWithoutDaemon(t *testing.T) {
	configPath := writeTestConfig(t, "")

	out, err := runCLI(t, configPath, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	requireContains(t, out, "docketd is not running")
}

func TestStatusCommandAgainstDaemon(t *testing.T) {
	if ln, err := net.Listen("unix", filepath.Join(t.TempDir(), "probe.sock")); err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	} else {
		_ = ln.Close()
	}

	configPath := writeTestConfig(t, `[[pipeline.stages]]
name = "sniff"
`)
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	registry := processor.NewRegistry()
	if err := processors.RegisterBuiltins(registry); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	sys, err := system.New(cfg, nil, system.Options{Registry: registry})
	if err != nil {
		t.Fatalf("system.New: %v", err)
	}
	t.Cleanup(func() { _ = sys.Close() })
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv, err := control.NewServer(context.Background(), control.SocketPath(cfg), sys, nil)
	if err != nil {
		t.Fatalf("control.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	out, err := runCLI(t, configPath, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	requireContains(t, out, "docketd is running")
	requireContains(t, out, "worker-pool")
	requireContains(t, out, "checkpoint-store")
	requireContains(t, out, "Tasks: 0 total")
}
