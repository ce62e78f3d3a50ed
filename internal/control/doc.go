// Package control exposes a running processing system over JSON-RPC on a
// Unix domain socket and ships the matching client used by the CLI.
//
// The surface is intentionally read-only: status and counters. Pipeline
// submission stays with the hosts (intake directory, one-shot CLI runs).
package control
