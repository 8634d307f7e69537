package logging_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// bufferHandler writes key=value lines so tests can assert on plain text.
type bufferHandler struct {
	buf   *bytes.Buffer
	attrs []slog.Attr
}

func newBufferHandler(buf *bytes.Buffer) slog.Handler {
	return &bufferHandler{buf: buf}
}

func (h *bufferHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *bufferHandler) Handle(_ context.Context, record slog.Record) error {
	parts := []string{record.Level.String(), record.Message}
	write := func(attr slog.Attr) bool {
		value := attr.Value.String()
		if strings.ContainsAny(value, " =") {
			value = strconv.Quote(value)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, value))
		return true
	}
	for _, attr := range h.attrs {
		write(attr)
	}
	record.Attrs(write)
	h.buf.WriteString(strings.Join(parts, " "))
	h.buf.WriteByte('\n')
	return nil
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bufferHandler{buf: h.buf, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *bufferHandler) WithGroup(string) slog.Handler { return h }
