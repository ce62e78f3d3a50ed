package resource

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"docket/internal/events"
	"docket/internal/logging"
)

// HostSample is one reading of host memory and load.
type HostSample struct {
	TotalMemBytes  uint64    `json:"total_mem_bytes"`
	FreeMemBytes   uint64    `json:"free_mem_bytes"`
	UsedMemPercent float64   `json:"used_mem_percent"`
	Load1          float64   `json:"load1"`
	Load5          float64   `json:"load5"`
	Load15         float64   `json:"load15"`
	NumCPU         int       `json:"num_cpu"`
	SampledAt      time.Time `json:"sampled_at"`
}

// SamplerOptions configures host sampling and alert thresholds.
type SamplerOptions struct {
	Interval           time.Duration
	MemoryAlertPercent float64
	LoadAlertPerCPU    float64
}

// Sampler periodically reads host usage, publishes it on the bus, and raises
// alerts when thresholds are crossed. Alerts are edge-triggered: one when a
// threshold is first exceeded, another once it recovers and trips again.
type Sampler struct {
	opts   SamplerOptions
	bus    events.Bus
	logger *slog.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	memAlerted  bool
	loadAlerted bool
	last        *HostSample
}

// NewSampler constructs a sampler. A nil bus disables publishing.
func NewSampler(opts SamplerOptions, bus events.Bus, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if bus == nil {
		bus = events.NewNopBus()
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Sampler{
		opts:   opts,
		bus:    bus,
		logger: logger.With(logging.String(logging.FieldComponent, "resource-sampler")),
	}
}

// Start launches the sampling loop. Calling Start on a running sampler is a
// no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(runCtx)
}

// Stop halts the sampling loop and waits for it to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Last returns the most recent sample, if any.
func (s *Sampler) Last() (HostSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return HostSample{}, false
	}
	return *s.last, true
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	reading, err := SampleOnce()
	if err != nil {
		s.logger.Warn("host sample failed", logging.Error(err))
		return
	}

	s.mu.Lock()
	s.last = &reading
	memTripped := s.opts.MemoryAlertPercent > 0 && reading.UsedMemPercent >= s.opts.MemoryAlertPercent
	loadPerCPU := 0.0
	if reading.NumCPU > 0 {
		loadPerCPU = reading.Load1 / float64(reading.NumCPU)
	}
	loadTripped := s.opts.LoadAlertPerCPU > 0 && loadPerCPU >= s.opts.LoadAlertPerCPU
	memAlert := memTripped && !s.memAlerted
	loadAlert := loadTripped && !s.loadAlerted
	s.memAlerted = memTripped
	s.loadAlerted = loadTripped
	s.mu.Unlock()

	_ = s.bus.Publish(ctx, events.TopicResourceSample, events.Payload{
		"used_mem_percent": reading.UsedMemPercent,
		"load1":            reading.Load1,
		"load_per_cpu":     loadPerCPU,
		"num_cpu":          reading.NumCPU,
	})

	if memAlert {
		s.logger.Warn("host memory above threshold",
			logging.Float64("used_mem_percent", reading.UsedMemPercent),
			logging.Float64("threshold_percent", s.opts.MemoryAlertPercent),
			logging.Bool(logging.FieldAlert, true))
		_ = s.bus.Publish(ctx, events.TopicAlertRaised, events.Payload{
			events.KeyAlertKind: "host_memory",
			events.KeyMessage:   fmt.Sprintf("host memory at %.1f%% (threshold %.1f%%)", reading.UsedMemPercent, s.opts.MemoryAlertPercent),
			"used_mem_percent":  reading.UsedMemPercent,
		})
	}
	if loadAlert {
		s.logger.Warn("host load above threshold",
			logging.Float64("load_per_cpu", loadPerCPU),
			logging.Float64("threshold_per_cpu", s.opts.LoadAlertPerCPU),
			logging.Bool(logging.FieldAlert, true))
		_ = s.bus.Publish(ctx, events.TopicAlertRaised, events.Payload{
			events.KeyAlertKind: "host_load",
			events.KeyMessage:   fmt.Sprintf("load %.2f per cpu (threshold %.2f)", loadPerCPU, s.opts.LoadAlertPerCPU),
			"load_per_cpu":      loadPerCPU,
		})
	}
}

// SampleOnce reads current host memory and load via sysinfo.
func SampleOnce() (HostSample, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return HostSample{}, fmt.Errorf("sysinfo: %w", err)
	}

	unitSize := uint64(info.Unit)
	if unitSize == 0 {
		unitSize = 1
	}
	total := uint64(info.Totalram) * unitSize
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unitSize
	usedPercent := 0.0
	if total > 0 {
		usedPercent = float64(total-free) / float64(total) * 100
	}

	const loadScale = 65536.0
	return HostSample{
		TotalMemBytes:  total,
		FreeMemBytes:   free,
		UsedMemPercent: usedPercent,
		Load1:          float64(info.Loads[0]) / loadScale,
		Load5:          float64(info.Loads[1]) / loadScale,
		Load15:         float64(info.Loads[2]) / loadScale,
		NumCPU:         runtime.NumCPU(),
		SampledAt:      time.Now().UTC(),
	}, nil
}
