// Package worker executes processor tasks on bounded lanes.
//
// Three lanes cover the processor population: async lanes run plain goroutine
// workers for I/O-bound processors, thread lanes pin workers to OS threads
// for processors touching thread-sensitive native code, and the process lane
// keeps a small worker count for processors that shell out to external tools.
// Behavior is lane-agnostic: every task gets resource admission, a hard
// per-attempt deadline, panic containment, and retry with backoff, regardless
// of where it runs.
//
// The pool is the single admission point to the resource monitor: a task that
// cannot reserve its resources waits in its worker, applying backpressure,
// rather than failing.
package worker
