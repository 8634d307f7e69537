package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"captioner/internal/logging"
)

// Default timings match the hub's client defaults.
const (
	DefaultKeepaliveInterval = 10 * time.Second
	DefaultServerTimeout     = 30 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
	writeTimeout             = 10 * time.Second
)

// HandlerFunc handles an inbound hub invocation. The return value answers the
// server when it requested a completion.
type HandlerFunc func(ctx context.Context, args []json.RawMessage) (any, error)

// Options tune Dial.
type Options struct {
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	Header            http.Header
	KeepaliveInterval time.Duration
	ServerTimeout     time.Duration
	HandshakeTimeout  time.Duration
	Logger            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.ServerTimeout <= 0 {
		o.ServerTimeout = DefaultServerTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return o
}

type completion struct {
	result json.RawMessage
	err    string
}

// Conn is one established hub connection. It is not reused after it closes.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	pending  map[string]chan completion
	inbound  []inboundCall
	err      error

	wake chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// Dial negotiates, opens the websocket, and completes the JSON protocol
// handshake.
func Dial(ctx context.Context, hubURL string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	handshakeCtx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	wsURL, accessToken, err := negotiate(handshakeCtx, opts.HTTPClient, hubURL, opts.Header)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for key, values := range opts.Header {
		header[key] = append([]string(nil), values...)
	}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}

	ws, resp, err := opts.Dialer.DialContext(handshakeCtx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}

	leftover, err := handshake(handshakeCtx, ws)
	if err != nil {
		ws.Close()
		return nil, err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "signalr"),
		ctx:      connCtx,
		cancel:   connCancel,
		handlers: make(map[string]HandlerFunc),
		pending:  make(map[string]chan completion),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop(leftover)
	go c.handlerLoop()
	go c.keepaliveLoop()
	return c, nil
}

func handshake(ctx context.Context, ws *websocket.Conn) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultHandshakeTimeout)
	}
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.SetReadDeadline(deadline)
	defer func() {
		_ = ws.SetWriteDeadline(time.Time{})
		_ = ws.SetReadDeadline(time.Time{})
	}()

	request, err := encodeRecord(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return nil, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, request); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	var buffer []byte
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read handshake: %w", err)
		}
		buffer = append(buffer, data...)
		records, rest := splitRecords(buffer)
		if len(records) == 0 {
			buffer = rest
			continue
		}
		var response handshakeResponse
		if err := json.Unmarshal(records[0], &response); err != nil {
			return nil, fmt.Errorf("decode handshake: %w", err)
		}
		if response.Error != "" {
			return nil, &HandshakeError{Message: response.Error}
		}
		var leftover []byte
		for _, record := range records[1:] {
			leftover = append(leftover, record...)
			leftover = append(leftover, recordSeparator)
		}
		return append(leftover, rest...), nil
	}
}

// On registers or replaces the handler for an inbound target. Target names
// match case-insensitively.
func (c *Conn) On(target string, handler HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler == nil {
		delete(c.handlers, strings.ToLower(target))
		return
	}
	c.handlers[strings.ToLower(target)] = handler
}

// Send invokes target on the server without waiting for a result.
func (c *Conn) Send(ctx context.Context, target string, args ...any) error {
	return c.write(ctx, invocationMessage{Type: typeInvocation, Target: target, Arguments: normalizeArgs(args)})
}

// Invoke calls target on the server and waits for its completion.
func (c *Conn) Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan completion, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, invocationMessage{Type: typeInvocation, InvocationID: id, Target: target, Arguments: normalizeArgs(args)}); err != nil {
		return nil, err
	}

	select {
	case result := <-ch:
		if result.err != "" {
			return nil, &InvocationError{Target: target, Message: result.err}
		}
		if len(result.result) == 0 {
			return json.RawMessage("null"), nil
		}
		return result.result, nil
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the connection has stopped reading.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is nil while the connection is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a Close message and tears the socket down. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if record, err := encodeRecord(closeMessage{Type: typeClose}); err == nil {
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.ws.WriteMessage(websocket.TextMessage, record)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		c.terminate(ErrConnectionClosed)
	})
	<-c.done
	return nil
}

func (c *Conn) terminate(cause error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = cause
	}
	c.mu.Unlock()
	c.cancel()
	_ = c.ws.Close()
}

func (c *Conn) write(ctx context.Context, v any) error {
	record, err := encodeRecord(v)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, record); err != nil {
		return fmt.Errorf("signalr write: %w", err)
	}
	return nil
}

func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(c.ctx, pingMessage{Type: typePing}); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrConnectionClosed) {
					c.logger.Debug("keepalive ping failed", logging.Error(err))
				}
			}
		}
	}
}

func (c *Conn) readLoop(leftover []byte) {
	defer close(c.done)
	defer c.failPending()

	buffer := leftover
	for {
		records, rest := splitRecords(buffer)
		for _, record := range records {
			if stop := c.handleRecord(record); stop {
				return
			}
		}
		buffer = append([]byte(nil), rest...)

		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ServerTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				err = fmt.Errorf("signalr: no message from server within %s", c.opts.ServerTimeout)
			}
			c.terminate(err)
			return
		}
		buffer = append(buffer, data...)
	}
}

func (c *Conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.pending {
		delete(c.pending, id)
	}
}

// handleRecord processes one hub message and reports whether the read loop
// should stop.
func (c *Conn) handleRecord(record []byte) bool {
	var msg envelope
	if err := json.Unmarshal(record, &msg); err != nil {
		c.logger.Warn("discarding malformed hub message", logging.Error(err))
		return false
	}
	switch msg.Type {
	case typeInvocation:
		c.dispatchInvocation(msg)
	case typeCompletion:
		c.mu.Lock()
		ch, ok := c.pending[msg.InvocationID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- completion{result: msg.Result, err: msg.Error}:
			default:
			}
		}
	case typePing:
	case typeClose:
		c.terminate(&CloseError{Message: msg.Error, AllowReconnect: msg.AllowReconnect})
		return true
	default:
		c.logger.Debug("ignoring hub message", logging.Int("type", msg.Type))
	}
	return false
}

func (c *Conn) dispatchInvocation(msg envelope) {
	c.mu.Lock()
	handler, ok := c.handlers[strings.ToLower(msg.Target)]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("no handler for hub invocation", logging.String("target", msg.Target))
		if msg.InvocationID != "" {
			c.complete(msg.InvocationID, nil, fmt.Errorf("method %s is not registered", msg.Target))
		}
		return
	}

	c.mu.Lock()
	c.inbound = append(c.inbound, inboundCall{handler: handler, msg: msg})
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

type inboundCall struct {
	handler HandlerFunc
	msg     envelope
}

// handlerLoop runs inbound invocations one at a time in arrival order. It
// stays off the read loop so handlers may call Invoke.
func (c *Conn) handlerLoop() {
	for {
		call, ok := c.nextInbound()
		if !ok {
			select {
			case <-c.wake:
				continue
			case <-c.ctx.Done():
				return
			}
		}
		if c.ctx.Err() != nil {
			return
		}
		result, err := c.runHandler(call.handler, call.msg)
		if call.msg.InvocationID != "" {
			c.complete(call.msg.InvocationID, result, err)
		}
	}
}

func (c *Conn) nextInbound() (inboundCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return inboundCall{}, false
	}
	call := c.inbound[0]
	c.inbound[0] = inboundCall{}
	c.inbound = c.inbound[1:]
	return call, true
}

func (c *Conn) runHandler(handler HandlerFunc, msg envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("hub handler panicked", logging.String("target", msg.Target), logging.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(c.ctx, msg.Arguments)
}

func (c *Conn) complete(id string, result any, err error) {
	message := completionMessage{Type: typeCompletion, InvocationID: id, Result: result}
	if err != nil {
		message.Result = nil
		message.Error = err.Error()
	}
	if writeErr := c.write(c.ctx, message); writeErr != nil {
		c.logger.Debug("send completion failed", logging.String("invocation_id", id), logging.Error(writeErr))
	}
}

func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}
