// Package main hosts the captioner CLI entrypoint and command graph.
//
// "captioner run" starts the worker node in the foreground. Every other
// command is a thin client over the node's local control API: submitting
// and cancelling tasks, pointing the node at a coordinator hub, and
// rendering status. Configuration resolution and the API client live in
// commandContext so subcommands only deal with presentation.
package main
