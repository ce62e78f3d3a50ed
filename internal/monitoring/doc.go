// Package monitoring aggregates per-processor execution metrics.
//
// The worker pool records every finished attempt; the monitor keeps lifetime
// counters, a bounded rolling window for trailing rates and durations, and a
// bounded history of recent executions per processor. When a processor's
// trailing failure rate or average duration crosses its configured threshold
// the monitor raises an alert once per excursion, both to registered handlers
// and on the event bus.
package monitoring
