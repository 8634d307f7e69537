package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"captioner/internal/logging"
	"captioner/internal/signalr"
)

// Hub targets used by the dispatcher.
const (
	TargetInvokeMethod   = "InvokeMethod"
	TargetPing           = "Ping"
	TargetPong           = "Pong"
	TargetMethodResponse = "MethodResponse"
	TargetEvent          = "Event"
	TargetProgress       = "Progress"
	TargetLog            = "Log"
)

// Invocation outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeUnknown = "unknown_method"
	OutcomePanic   = "panic"
)

// ErrUnknownMethod is returned for names nobody registered.
var ErrUnknownMethod = errors.New("unknown method")

// Handler serves one remote method. args are the raw JSON arguments.
type Handler func(ctx context.Context, args []json.RawMessage) (any, error)

// Connection is the subset of the connection manager the dispatcher needs.
type Connection interface {
	On(name string, handler signalr.HandlerFunc)
	Send(name string, args ...any)
}

// Recorder counts invocations.
type Recorder interface {
	RPCInvocation(method, outcome string)
}

// MethodResponse is the envelope sent after every InvokeMethod call.
type MethodResponse struct {
	Method  string
	Success bool
	Result  any
	Error   string
}

// MarshalJSON emits result on success and error on failure, never both.
func (r MethodResponse) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(struct {
			Method  string `json:"method"`
			Success bool   `json:"success"`
			Result  any    `json:"result"`
		}{r.Method, true, r.Result})
	}
	return json.Marshal(struct {
		Method  string `json:"method"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{r.Method, false, r.Error})
}

type eventMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type progressMessage struct {
	TaskID   int64  `json:"task_id"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type logMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder counts every invocation.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// Dispatcher routes coordinator calls to registered handlers and sends the
// node's outbound messages.
type Dispatcher struct {
	conn     Connection
	logger   *slog.Logger
	recorder Recorder

	mu          sync.RWMutex
	methods     map[string]Handler
	initialized bool
}

// New builds a dispatcher bound to conn.
func New(conn Connection, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conn:    conn,
		logger:  logging.NewComponentLogger(logger, "dispatch"),
		methods: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterMethod adds or replaces a method. The name is also exposed as a
// direct hub target.
func (d *Dispatcher) RegisterMethod(name string, handler Handler) {
	d.mu.Lock()
	d.methods[name] = handler
	d.mu.Unlock()
	d.conn.On(name, d.directHandler(name))
	d.logger.Debug("registered method", logging.String("method", name))
}

// Init attaches InvokeMethod, Ping, and every registered method. Later calls
// do nothing.
func (d *Dispatcher) Init() {
	d.mu.Lock()
	if d.initialized {
		d.mu.Unlock()
		return
	}
	d.initialized = true
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	d.mu.Unlock()
	sort.Strings(names)

	d.conn.On(TargetInvokeMethod, d.handleInvokeMethod)
	d.conn.On(TargetPing, d.handlePing)
	for _, name := range names {
		d.conn.On(name, d.directHandler(name))
	}
	d.logger.Info("dispatcher ready", logging.Int("methods", len(names)))
}

// Methods lists registered method names in order.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InvokeMethod runs name and sends exactly one MethodResponse.
func (d *Dispatcher) InvokeMethod(ctx context.Context, name string, args []json.RawMessage) MethodResponse {
	response := d.call(ctx, name, args)
	d.conn.Send(TargetMethodResponse, response)
	return response
}

func (d *Dispatcher) call(ctx context.Context, name string, args []json.RawMessage) MethodResponse {
	d.mu.RLock()
	handler, ok := d.methods[name]
	d.mu.RUnlock()

	if !ok {
		d.record(name, OutcomeUnknown)
		d.logger.Warn("unknown method invoked",
			logging.String("method", name),
			logging.String(logging.FieldImpact, "coordinator receives an error response"),
		)
		return MethodResponse{Method: name, Error: fmt.Sprintf("%s: %s", ErrUnknownMethod, name)}
	}

	d.logger.Info("method invoked", logging.String("method", name), logging.Int("args", len(args)))
	result, panicked, err := runHandler(ctx, handler, args)
	switch {
	case panicked:
		d.record(name, OutcomePanic)
		d.logger.Error("method panicked", logging.String("method", name), logging.Error(err))
		return MethodResponse{Method: name, Error: err.Error()}
	case err != nil:
		d.record(name, OutcomeError)
		d.logger.Warn("method failed",
			logging.String("method", name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "coordinator receives an error response"),
		)
		return MethodResponse{Method: name, Error: err.Error()}
	default:
		d.record(name, OutcomeSuccess)
		return MethodResponse{Method: name, Success: true, Result: result}
	}
}

func runHandler(ctx context.Context, handler Handler, args []json.RawMessage) (result any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			panicked = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = handler(ctx, args)
	return result, false, err
}

func (d *Dispatcher) handleInvokeMethod(ctx context.Context, args []json.RawMessage) (any, error) {
	if len(args) == 0 {
		response := MethodResponse{Error: "missing method name"}
		d.conn.Send(TargetMethodResponse, response)
		return nil, errors.New(response.Error)
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		response := MethodResponse{Error: "method name must be a string"}
		d.conn.Send(TargetMethodResponse, response)
		return nil, errors.New(response.Error)
	}
	response := d.InvokeMethod(ctx, name, args[1:])
	if !response.Success {
		return nil, errors.New(response.Error)
	}
	return response.Result, nil
}

// directHandler serves a method invoked by its own hub target. No envelope is
// sent; the return value answers the hub completion.
func (d *Dispatcher) directHandler(name string) signalr.HandlerFunc {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		response := d.call(ctx, name, args)
		if !response.Success {
			return nil, errors.New(response.Error)
		}
		return response.Result, nil
	}
}

func (d *Dispatcher) handlePing(context.Context, []json.RawMessage) (any, error) {
	d.logger.Debug("ping received")
	d.conn.Send(TargetPong)
	return nil, nil
}

// SendEvent sends Event{event, data}.
func (d *Dispatcher) SendEvent(name string, data any) {
	d.safeSend(TargetEvent, eventMessage{Event: name, Data: data})
}

// SendCallback sends data to the target named name.
func (d *Dispatcher) SendCallback(name string, data any) {
	d.safeSend(name, data)
}

// SendProgress sends Progress{task_id, progress, message}.
func (d *Dispatcher) SendProgress(taskID int64, progress int, message string) {
	d.safeSend(TargetProgress, progressMessage{TaskID: taskID, Progress: progress, Message: message})
}

// SendLog sends Log{level, message}.
func (d *Dispatcher) SendLog(level, message string) {
	d.safeSend(TargetLog, logMessage{Level: level, Message: message})
}

func (d *Dispatcher) safeSend(target string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("outbound send panicked", logging.String("target", target), logging.Any("panic", r))
		}
	}()
	d.conn.Send(target, payload)
}

func (d *Dispatcher) record(method, outcome string) {
	if d.recorder != nil {
		d.recorder.RPCInvocation(method, outcome)
	}
}
