// Package progress tracks per-task completion state for running pipelines.
//
// Processors report percentages through their execution context; the tracker
// stores the latest value per task (last write wins) and publishes each
// accepted update on the event bus. Reads are pure: polling the same task
// twice without an intervening update returns identical values. The sampler
// damps repetitive updates so log output and notifications stay readable on
// chatty processors.
package progress
