// Package notify delivers pipeline milestones via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The Observer subscribes to the event bus and forwards the enabled
// milestone topics, so pipeline code never depends on HTTP glue.
package notify
