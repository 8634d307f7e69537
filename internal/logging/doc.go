// Package logging assembles structured slog loggers and formatting helpers used
// across the worker node.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code can tag log lines with
// task IDs, stages, and request correlation IDs. RemoteHandler mirrors
// important records to the coordinator through a narrow LogSink.
package logging
