// Package dag builds and validates the stage dependency graphs pipelines
// execute over.
//
// Build rejects references to undeclared nodes and cycles up front so the
// pipeline manager never discovers an unrunnable graph mid-execution. Wave
// computation is deterministic: nodes surface in declaration order, never map
// iteration order, so two runs over the same config schedule identically.
package dag
