// Package connection owns the node's single channel to the coordinator hub.
//
// Manager dials through a Dialer (SignalR over WebSocket by default), keeps a
// registry of hub handlers that is re-attached to every new channel, and
// reconnects after an unexpected drop on a fixed schedule of 0s, 2s, 5s, 10s
// and then 30s between attempts. The schedule is a cenkalti/backoff BackOff so
// a configured attempt limit turns into backoff.Stop. An explicit Disconnect
// or a Connect to a different address cancels any reconnect loop in flight.
//
// State changes are reported to an optional Observer; the metrics package
// uses it for the connection gauges.
package connection
