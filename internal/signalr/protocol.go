package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// recordSeparator terminates every JSON hub protocol record.
const recordSeparator = 0x1e

// Hub protocol message types.
const (
	typeInvocation = 1
	typeCompletion = 3
	typePing       = 6
	typeClose      = 7
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// envelope is the union of every field used by the message types the node
// handles. Unknown types are ignored.
type envelope struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type invocationMessage struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

type completionMessage struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId"`
	Result       any    `json:"result,omitempty"`
	Error        string `json:"error,omitempty"`
}

type pingMessage struct {
	Type int `json:"type"`
}

type closeMessage struct {
	Type  int    `json:"type"`
	Error string `json:"error,omitempty"`
}

// encodeRecord marshals v and appends the record separator.
func encodeRecord(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode hub message: %w", err)
	}
	return append(payload, recordSeparator), nil
}

// splitRecords returns the complete records in data. A websocket frame may
// carry several records; a trailing fragment without a separator is returned
// as rest.
func splitRecords(data []byte) (records [][]byte, rest []byte) {
	for {
		idx := bytes.IndexByte(data, recordSeparator)
		if idx < 0 {
			return records, data
		}
		if record := bytes.TrimSpace(data[:idx]); len(record) > 0 {
			records = append(records, record)
		}
		data = data[idx+1:]
	}
}
