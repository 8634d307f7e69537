package signalr

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed is returned by pending and new calls once the
// connection is gone.
var ErrConnectionClosed = errors.New("signalr: connection closed")

// InvocationError carries the error string of a failed hub completion.
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("signalr: invoke %s: %s", e.Target, e.Message)
}

// CloseError reports a Close message sent by the server.
type CloseError struct {
	Message        string
	AllowReconnect bool
}

func (e *CloseError) Error() string {
	if e.Message == "" {
		return "signalr: server closed the connection"
	}
	return "signalr: server closed the connection: " + e.Message
}

// HandshakeError reports a rejected protocol handshake.
type HandshakeError struct {
	Message string
}

func (e *HandshakeError) Error() string {
	return "signalr: handshake rejected: " + e.Message
}
