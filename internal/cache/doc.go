// Package cache persists translated and optimized subtitle lines in SQLite so
// re-running a video does not pay for the same backend calls twice.
//
// Keys are sha256 digests of (kind, backend, language, text). The store uses
// WAL mode and retries briefly on SQLITE_BUSY.
package cache
