package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"docket/internal/events"
	"docket/internal/logging"
)

const minAlertSamples = 5

// Options configures window sizes and alert thresholds.
type Options struct {
	WindowSize           int
	HistorySize          int
	FailureRateThreshold float64
	AvgDurationThreshold time.Duration
}

// Record is one finished processor attempt.
type Record struct {
	Processor   string        `json:"processor"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	MemoryBytes int64         `json:"memory_bytes,omitempty"`
	CPUSeconds  float64       `json:"cpu_seconds,omitempty"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// AlertKind classifies a monitoring alert.
type AlertKind string

const (
	AlertFailureRate   AlertKind = "failure_rate"
	AlertSlowProcessor AlertKind = "slow_processor"
)

// Alert describes one threshold excursion.
type Alert struct {
	Kind      AlertKind
	Processor string
	Value     float64
	Threshold float64
	Message   string
	RaisedAt  time.Time
}

// AlertHandler receives alerts synchronously; handlers must not block.
type AlertHandler func(Alert)

// Insights summarizes one processor's recorded behavior.
type Insights struct {
	Processor         string        `json:"processor"`
	Processed         uint64        `json:"processed"`
	Failed            uint64        `json:"failed"`
	SuccessRate       float64       `json:"success_rate"`
	WindowFailureRate float64       `json:"window_failure_rate"`
	AvgDuration       time.Duration `json:"avg_duration"`
	MinDuration       time.Duration `json:"min_duration"`
	MaxDuration       time.Duration `json:"max_duration"`
	PeakMemoryBytes   int64         `json:"peak_memory_bytes,omitempty"`
	PeakCPUSeconds    float64       `json:"peak_cpu_seconds,omitempty"`
	LastProcessedAt   time.Time     `json:"last_processed_at"`
}

type windowSample struct {
	success  bool
	duration time.Duration
}

type processorStats struct {
	processed      uint64
	failed         uint64
	window         []windowSample
	history        []Record
	peakMemory     int64
	peakCPU        float64
	lastProcessed  time.Time
	failureAlerted bool
	slowAlerted    bool
}

// Monitor aggregates processor metrics. Safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	opts     Options
	bus      events.Bus
	logger   *slog.Logger
	stats    map[string]*processorStats
	handlers []AlertHandler
}

// NewMonitor constructs a monitor. Nil bus and logger degrade to no-ops.
func NewMonitor(opts Options, bus events.Bus, logger *slog.Logger) *Monitor {
	if opts.WindowSize <= 0 {
		opts.WindowSize = 50
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	if bus == nil {
		bus = events.NewNopBus()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		opts:   opts,
		bus:    bus,
		logger: logger.With(logging.String(logging.FieldComponent, "monitoring")),
		stats:  make(map[string]*processorStats),
	}
}

// OnAlert registers a handler invoked for every raised alert.
func (m *Monitor) OnAlert(handler AlertHandler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()
}

// RecordProcessing folds one finished attempt into the metrics and evaluates
// alert thresholds.
func (m *Monitor) RecordProcessing(ctx context.Context, rec Record) {
	if rec.Processor == "" {
		return
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	m.mu.Lock()
	stats, ok := m.stats[rec.Processor]
	if !ok {
		stats = &processorStats{}
		m.stats[rec.Processor] = stats
	}
	stats.processed++
	if !rec.Success {
		stats.failed++
	}
	stats.window = append(stats.window, windowSample{success: rec.Success, duration: rec.Duration})
	if len(stats.window) > m.opts.WindowSize {
		stats.window = stats.window[len(stats.window)-m.opts.WindowSize:]
	}
	stats.history = append(stats.history, rec)
	if len(stats.history) > m.opts.HistorySize {
		stats.history = stats.history[len(stats.history)-m.opts.HistorySize:]
	}
	if rec.MemoryBytes > stats.peakMemory {
		stats.peakMemory = rec.MemoryBytes
	}
	if rec.CPUSeconds > stats.peakCPU {
		stats.peakCPU = rec.CPUSeconds
	}
	stats.lastProcessed = rec.RecordedAt

	alerts := m.evaluateLocked(rec.Processor, stats)
	handlers := append([]AlertHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, alert := range alerts {
		m.logger.Warn("processor threshold crossed",
			logging.String(logging.FieldProcessor, alert.Processor),
			logging.String("alert_kind", string(alert.Kind)),
			logging.Float64("value", alert.Value),
			logging.Float64("threshold", alert.Threshold),
			logging.Bool(logging.FieldAlert, true))
		_ = m.bus.Publish(ctx, events.TopicAlertRaised, events.Payload{
			events.KeyAlertKind: string(alert.Kind),
			events.KeyProcessor: alert.Processor,
			events.KeyMessage:   alert.Message,
			"value":             alert.Value,
			"threshold":         alert.Threshold,
		})
		for _, handler := range handlers {
			handler(alert)
		}
	}
}

// evaluateLocked applies thresholds over the rolling window and returns the
// alerts that newly tripped. Alerts re-arm once the metric recovers.
func (m *Monitor) evaluateLocked(name string, stats *processorStats) []Alert {
	minSamples := minAlertSamples
	if m.opts.WindowSize < minSamples {
		minSamples = m.opts.WindowSize
	}
	if len(stats.window) < minSamples {
		return nil
	}

	var alerts []Alert
	now := time.Now().UTC()

	if m.opts.FailureRateThreshold > 0 {
		failures := 0
		for _, sample := range stats.window {
			if !sample.success {
				failures++
			}
		}
		rate := float64(failures) / float64(len(stats.window))
		tripped := rate >= m.opts.FailureRateThreshold
		if tripped && !stats.failureAlerted {
			alerts = append(alerts, Alert{
				Kind:      AlertFailureRate,
				Processor: name,
				Value:     rate,
				Threshold: m.opts.FailureRateThreshold,
				Message:   fmt.Sprintf("processor %s failing %.0f%% of recent tasks", name, rate*100),
				RaisedAt:  now,
			})
		}
		stats.failureAlerted = tripped
	}

	if m.opts.AvgDurationThreshold > 0 {
		var total time.Duration
		for _, sample := range stats.window {
			total += sample.duration
		}
		avg := total / time.Duration(len(stats.window))
		tripped := avg >= m.opts.AvgDurationThreshold
		if tripped && !stats.slowAlerted {
			alerts = append(alerts, Alert{
				Kind:      AlertSlowProcessor,
				Processor: name,
				Value:     avg.Seconds(),
				Threshold: m.opts.AvgDurationThreshold.Seconds(),
				Message:   fmt.Sprintf("processor %s averaging %s per task", name, avg.Round(time.Millisecond)),
				RaisedAt:  now,
			})
		}
		stats.slowAlerted = tripped
	}

	return alerts
}

// Insights summarizes one processor. The bool reports whether it has records.
func (m *Monitor) Insights(name string) (Insights, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.stats[name]
	if !ok {
		return Insights{}, false
	}
	return m.insightsLocked(name, stats), true
}

// History returns the retained execution records for name, oldest first.
func (m *Monitor) History(name string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.stats[name]
	if !ok {
		return nil
	}
	out := make([]Record, len(stats.history))
	copy(out, stats.history)
	return out
}

// Snapshot summarizes every processor with records, keyed by name.
func (m *Monitor) Snapshot() map[string]Insights {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Insights, len(m.stats))
	for name, stats := range m.stats {
		out[name] = m.insightsLocked(name, stats)
	}
	return out
}

// Processors returns the names with recorded metrics, sorted.
func (m *Monitor) Processors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.stats))
	for name := range m.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Monitor) insightsLocked(name string, stats *processorStats) Insights {
	out := Insights{
		Processor:       name,
		Processed:       stats.processed,
		Failed:          stats.failed,
		PeakMemoryBytes: stats.peakMemory,
		PeakCPUSeconds:  stats.peakCPU,
		LastProcessedAt: stats.lastProcessed,
	}
	if stats.processed > 0 {
		out.SuccessRate = float64(stats.processed-stats.failed) / float64(stats.processed)
	}
	if len(stats.window) > 0 {
		var total time.Duration
		min := stats.window[0].duration
		max := stats.window[0].duration
		failures := 0
		for _, sample := range stats.window {
			total += sample.duration
			if sample.duration < min {
				min = sample.duration
			}
			if sample.duration > max {
				max = sample.duration
			}
			if !sample.success {
				failures++
			}
		}
		out.AvgDuration = total / time.Duration(len(stats.window))
		out.MinDuration = min
		out.MaxDuration = max
		out.WindowFailureRate = float64(failures) / float64(len(stats.window))
	}
	return out
}
