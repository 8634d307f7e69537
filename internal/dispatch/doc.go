// Package dispatch maps coordinator invocations onto registered handlers.
//
// A call through the generic InvokeMethod target produces exactly one
// MethodResponse envelope. A method invoked under its own name answers only
// through the hub completion.
package dispatch
