// Package logging assembles structured slog loggers and formatting helpers used
// across Shuttle services.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, tees every record into a per-run JSON log file, and exposes
// context-aware helpers so job code can tag log lines with job IDs and
// correlation IDs. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
package logging
