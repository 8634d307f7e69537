// Package services defines shared utilities consumed by the pipeline stages and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures reported to the
//     coordinator read the same regardless of which stage produced them.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
