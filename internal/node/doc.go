// Package node implements the coordinator-facing methods of the worker.
//
// Service registers GetInfo, GetStatus, StartSubtitize and StopSubtitize on
// the dispatcher and observes the task manager, turning lifecycle events
// into SubtitizeProgress, SubtitizeCompleted and SubtitizeFaulted callbacks.
// The control API calls the same methods directly so both surfaces share
// one code path.
package node
