// Package config loads, validates, and normalizes docket configuration.
//
// Configuration lives in a single TOML file (default
// ~/.config/docket/config.toml, falling back to ./docket.toml) decoded into
// one Config struct. Load applies defaults first, then the file, then
// normalization (path expansion, fallback values) and validation, so callers
// always receive a usable configuration or an actionable error naming the
// offending key.
//
// The struct carries only host-level settings: worker pool sizing, resource
// capacities, monitoring thresholds, checkpoint persistence, logging, intake
// polling, notifications, and an optional declarative pipeline definition for
// hosts that drive a fixed pipeline. Pipeline configs consumed by the core
// packages are always constructed programmatically; this package never
// imports them.
package config
