// Package events provides the in-process event bus connecting the pipeline
// manager, worker pool, and monitoring components to observers.
//
// Publishers emit typed topics with loosely structured payloads; subscribers
// receive them over bounded per-subscription queues that drop the oldest
// event rather than block a publisher. The bus is the only coupling between
// core execution and surfaces such as push notifications, so components never
// import each other to report lifecycle changes.
//
// A no-op bus is available for tests and hosts that do not observe events.
package events
