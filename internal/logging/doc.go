// Package logging assembles structured slog loggers and formatting helpers used
// across tunnelctl.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so protocol code can tag log
// lines with the connection session, command tag, and request id. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
