// Package logging assembles structured slog loggers and formatting helpers used
// across rollcall components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so handlers and the capture loop
// can tag log lines with session IDs, course IDs, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
