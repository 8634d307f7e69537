package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogSink receives forwarded log lines. The dispatcher's SendLog satisfies it.
type LogSink interface {
	SendLog(level, message string)
}

type remoteRecord struct {
	level   string
	message string
}

// RemoteHandler forwards records at or above a level to a LogSink from a
// single background goroutine. Records are dropped when the buffer is full so
// logging never blocks on the network.
type RemoteHandler struct {
	state     *remoteState
	level     slog.Level
	component string
	attrs     []slog.Attr
	skip      map[string]struct{}
}

type remoteState struct {
	sink    LogSink
	mu      sync.RWMutex
	closed  bool
	records chan remoteRecord
	done    chan struct{}
}

// NewRemoteHandler starts the forwarding goroutine. Records logged by any of
// the skip components are never forwarded; the transport components belong
// there so a failed forward cannot loop back into the sink.
func NewRemoteHandler(sink LogSink, level slog.Level, skip ...string) *RemoteHandler {
	state := &remoteState{
		sink:    sink,
		records: make(chan remoteRecord, 256),
		done:    make(chan struct{}),
	}
	go state.run()
	skipSet := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipSet[name] = struct{}{}
	}
	return &RemoteHandler{state: state, level: level, skip: skipSet}
}

func (s *remoteState) run() {
	defer close(s.done)
	for rec := range s.records {
		s.sink.SendLog(rec.level, rec.message)
	}
}

// Close stops forwarding and waits for buffered records to drain.
func (h *RemoteHandler) Close() {
	h.state.mu.Lock()
	if !h.state.closed {
		h.state.closed = true
		close(h.state.records)
	}
	h.state.mu.Unlock()
	<-h.state.done
}

func (h *RemoteHandler) Enabled(_ context.Context, level slog.Level) bool {
	if level < h.level {
		return false
	}
	_, skipped := h.skip[h.component]
	return !skipped
}

func (h *RemoteHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.Enabled(ctx, record.Level) {
		return nil
	}
	var b strings.Builder
	if h.component != "" {
		b.WriteString(h.component)
		b.WriteString(": ")
	}
	b.WriteString(record.Message)
	fields := make([]field, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		fields = appendField(fields, nil, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == FieldComponent {
			return true
		}
		fields = appendField(fields, nil, attr)
		return true
	})
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(f.value)
	}

	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	if h.state.closed {
		return nil
	}
	select {
	case h.state.records <- remoteRecord{level: strings.ToLower(levelLabel(record.Level)), message: b.String()}:
	default:
	}
	return nil
}

func (h *RemoteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, attr := range attrs {
		if attr.Key == FieldComponent {
			clone.component = attr.Value.String()
			continue
		}
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

func (h *RemoteHandler) WithGroup(string) slog.Handler {
	return h
}
