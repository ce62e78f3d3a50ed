// Package logs tails the daemon log file with bounded memory. A negative
// offset means "the last N lines"; follow mode polls for new lines until the
// wait budget or the caller's context runs out.
package logs
