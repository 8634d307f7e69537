// Package notifications pushes task outcomes to ntfy.
//
// NewService returns an ntfy-backed Service when a topic is configured and a
// no-op otherwise, so callers never check configuration themselves. Events
// cover the terminal task outcomes plus a test message for the CLI.
package notifications
