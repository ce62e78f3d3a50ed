// Package main hosts the docket CLI entrypoint and command graph.
//
// The Cobra-based command tree covers configuration scaffolding and
// inspection, pipeline planning, and one-shot document runs. Commands stay
// declarative: config resolution happens once per invocation and the heavy
// lifting lives in the internal packages, wired through the system facade.
package main
