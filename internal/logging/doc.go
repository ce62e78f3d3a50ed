// Package logging configures structured slog output for docket components.
//
// It wraps log/slog with typed attribute helpers, standardized field-name
// constants, context annotation (pipeline, stage, task, lane), and two
// handler flavors: a human-oriented console handler that colorizes when the
// destination is a terminal, and a JSON handler for machine consumption.
// Every component in the system accepts a *slog.Logger and treats nil as
// "use the no-op logger", so embedders pay nothing when they do not care
// about logs.
//
// Use the Field* constants instead of ad-hoc keys so downstream consumers
// (event observers, log pipelines) can rely on stable attribute names.
package logging
