// Package daemon is the composition root of the worker node.
//
// New builds every component exactly once and hands each its collaborators
// by reference: the coordinator connection, the method dispatcher, the task
// manager, the pipeline executor with its transcription, splitting,
// optimization and translation stages, the node service that binds them to
// the coordinator's methods, and the local control API. Nothing is a
// process-wide singleton; a second Daemon in the same process is independent
// apart from the flock that keeps two daemons from sharing a log directory.
//
// Keep orchestration logic here: individual stages live in their own
// packages while the daemon focuses on startup, shutdown, and wiring.
package daemon
