// Package pipeline orchestrates document runs over a stage dependency graph.
//
// The Manager walks the graph in waves: every stage in a wave is dispatched
// to the worker pool concurrently, and the next wave starts only once the
// whole wave is terminal. Stage outcomes land on the pipeline Context, which
// checkpointing serializes after each wave so interrupted runs resume without
// repeating completed work.
package pipeline
