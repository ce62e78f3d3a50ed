package testsupport

import (
	"context"
	"testing"

	"docket/internal/processor"
)

// StubProcessor is a configurable processor for tests. A nil RunFunc
// succeeds with an empty payload; a nil HealthFunc reports ready.
type StubProcessor struct {
	Name       string
	RunFunc    func(ctx context.Context, pctx *processor.Context) (*processor.Result, error)
	HealthFunc func(ctx context.Context) processor.Health
}

func (s *StubProcessor) Metadata() processor.Metadata {
	return processor.Metadata{Name: s.Name, Version: "0.0.0", Description: "test stub"}
}

func (s *StubProcessor) Process(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
	if s.RunFunc == nil {
		return processor.NewResult(s.Name).Finish(), nil
	}
	return s.RunFunc(ctx, pctx)
}

func (s *StubProcessor) HealthCheck(ctx context.Context) processor.Health {
	if s.HealthFunc == nil {
		return processor.Healthy(s.Name)
	}
	return s.HealthFunc(ctx)
}

// RegisterStub registers a stub processor under name whose invocations call
// run. A nil run succeeds with an empty payload.
func RegisterStub(t testing.TB, registry *processor.Registry, name string, run func(context.Context, *processor.Context) (*processor.Result, error)) {
	t.Helper()

	err := registry.Register(name, func(map[string]any) (processor.Processor, error) {
		return &StubProcessor{Name: name, RunFunc: run}, nil
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}
