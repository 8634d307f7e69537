// Package signalr implements the client side of the SignalR JSON hub
// protocol over websocket: negotiate, handshake, invocations with and without
// completions, keepalive pings, and server close messages.
//
// Inbound invocations are handled one at a time, in arrival order, on a
// worker separate from the read loop.
//
// A Conn represents one physical connection. Reconnecting is the caller's job;
// see internal/connection.
package signalr
