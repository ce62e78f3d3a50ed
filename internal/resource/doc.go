// Package resource tracks logical resource reservations for running tasks and
// samples host memory and load for alerting.
//
// Capacities are named integers from configuration (cpu units, memory_mb, io
// slots); the monitor guarantees outstanding reservations never exceed them.
// Acquire blocks until the reservation fits or the context ends, which is how
// the worker pool applies backpressure instead of failing tasks on contention.
package resource
