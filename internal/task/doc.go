// Package task holds the single task slot of the worker node: creation,
// progress, cancellation, and terminal transitions, with lifecycle callbacks
// delivered in order on one goroutine.
package task
