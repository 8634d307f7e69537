// Package preflight provides readiness checks for the external tools,
// directories, and services the worker node depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll and CheckSystemDeps at startup and logs every
//     failure as a warning. A failed check never stops the node; the task that
//     needs the missing piece fails instead.
//   - The CLI "captioner status --check" command renders the same results.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
