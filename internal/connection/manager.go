package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"captioner/internal/logging"
	"captioner/internal/signalr"
)

var (
	// ErrInvalidAddress rejects addresses without a scheme or host.
	ErrInvalidAddress = errors.New("invalid coordinator address")
	// ErrNotConnected is returned by Invoke while no channel is up.
	ErrNotConnected = errors.New("not connected to coordinator")
)

const sendTimeout = 10 * time.Second

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Channel is one established link to the coordinator. *signalr.Conn
// satisfies it.
type Channel interface {
	On(target string, handler signalr.HandlerFunc)
	Send(ctx context.Context, target string, args ...any) error
	Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a channel to address.
type Dialer func(ctx context.Context, address string) (Channel, error)

// SignalRDialer dials hub connections with the given options.
func SignalRDialer(opts signalr.Options) Dialer {
	return func(ctx context.Context, address string) (Channel, error) {
		conn, err := signalr.Dial(ctx, address, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Observer is told about lifecycle changes. Calls happen without the manager
// lock held.
type Observer interface {
	ConnectionState(state State)
	ReconnectAttempt()
	ReconnectGaveUp()
}

// Status is a point-in-time view of the manager.
type Status struct {
	State      State
	Address    string
	Connected  bool
	Reconnects int
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the hub dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.NewComponentLogger(logger, "connection") }
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithReconnectPolicy sets the delay schedule and attempt cap (0 = unbounded).
func WithReconnectPolicy(delays []time.Duration, maxAttempts int) Option {
	return func(m *Manager) {
		m.newBackOff = func() backoff.BackOff { return NewSchedule(delays, maxAttempts) }
	}
}

// WithSleeper replaces the wait between reconnect attempts.
func WithSleeper(s Sleeper) Option {
	return func(m *Manager) { m.sleep = s }
}

// Manager owns the single coordinator channel, re-attaches handlers on every
// new channel, and reconnects after unexpected drops.
type Manager struct {
	dial       Dialer
	logger     *slog.Logger
	observer   Observer
	newBackOff func() backoff.BackOff
	sleep      Sleeper

	// opMu serializes Connect and Disconnect. mu guards the fields below and
	// is never held across dial, close, or send.
	opMu sync.Mutex
	mu   sync.Mutex

	state           State
	address         string
	channel         Channel
	generation      uint64
	handlers        map[string]signalr.HandlerFunc
	reconnectCancel context.CancelFunc
	reconnects      int
}

// NewManager builds a disconnected manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		dial:       SignalRDialer(signalr.Options{}),
		logger:     logging.NewComponentLogger(nil, "connection"),
		newBackOff: func() backoff.BackOff { return NewSchedule(DefaultSchedule, 0) },
		sleep:      sleepContext,
		state:      StateDisconnected,
		handlers:   make(map[string]signalr.HandlerFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateAddress checks that address has a scheme and a host.
func ValidateAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	parsed, err := url.Parse(trimmed)
	if trimmed == "" || err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

// Connect establishes the channel to address. Connecting again to the address
// already connected is a no-op; a different address replaces the current
// channel.
func (m *Manager) Connect(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if err := ValidateAddress(address); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == StateConnected && m.address == address {
		m.mu.Unlock()
		return nil
	}
	replacing := m.state != StateDisconnected && m.address != address
	m.mu.Unlock()

	if replacing {
		m.disconnect()
	}

	m.mu.Lock()
	m.stopReconnectLocked()
	m.state = StateConnecting
	m.address = address
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	m.logger.Info("connecting to coordinator", logging.String("address", address))
	ch, err := m.dialSafely(ctx, address)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.address = ""
		m.mu.Unlock()
		m.notifyState(StateDisconnected)
		logging.WarnWithContext(m.logger, "coordinator connection failed", "connect_failed",
			logging.String("address", address),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the coordinator url and that the hub is reachable"),
			logging.String(logging.FieldImpact, "node is not receiving work"),
		)
		return fmt.Errorf("connect %s: %w", address, err)
	}

	m.install(context.Background(), ch, address)
	m.logger.Info("connected to coordinator", logging.String("address", address))
	return nil
}

// Disconnect tears the channel down, forgets the address, and stops any
// reconnect loop.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.disconnect()
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.stopReconnectLocked()
	ch := m.channel
	address := m.address
	m.channel = nil
	m.address = ""
	m.state = StateDisconnected
	m.generation++
	m.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			m.logger.Debug("close channel", logging.Error(err))
		}
	}
	m.notifyState(StateDisconnected)
	m.logger.Info("disconnected from coordinator", logging.String("address", address))
}

// On registers a handler for an inbound target. It is attached to the live
// channel immediately and to every later channel.
func (m *Manager) On(name string, handler signalr.HandlerFunc) {
	m.mu.Lock()
	m.handlers[name] = handler
	var ch Channel
	if m.state == StateConnected {
		ch = m.channel
	}
	m.mu.Unlock()
	if ch != nil {
		ch.On(name, handler)
	}
}

// Send delivers a one-way message. Nothing is queued or retried; while
// disconnected the message is dropped.
func (m *Manager) Send(name string, args ...any) {
	ch := m.liveChannel()
	if ch == nil {
		m.logger.Debug("dropping outbound message, not connected", logging.String("target", name))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := ch.Send(ctx, name, args...); err != nil {
		m.logger.Warn("outbound message failed",
			logging.String("target", name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "coordinator missed one update"),
		)
	}
}

// Invoke calls name on the coordinator and returns its raw result.
func (m *Manager) Invoke(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	ch := m.liveChannel()
	if ch == nil {
		return nil, ErrNotConnected
	}
	result, err := ch.Invoke(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	return result, nil
}

// Status reports the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:      m.state,
		Address:    m.address,
		Connected:  m.state == StateConnected,
		Reconnects: m.reconnects,
	}
}

// IsConnected reports whether a channel is up.
func (m *Manager) IsConnected() bool {
	return m.Status().Connected
}

func (m *Manager) liveChannel() Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.channel
}

func (m *Manager) dialSafely(ctx context.Context, address string) (ch Channel, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			err = fmt.Errorf("dial panic: %v", r)
		}
	}()
	return m.dial(ctx, address)
}

// install publishes a freshly dialed channel and starts watching it. A channel
// dialed under an already cancelled ctx is closed instead.
func (m *Manager) install(ctx context.Context, ch Channel, address string) bool {
	m.mu.Lock()
	if ctx.Err() != nil || m.address != address {
		m.mu.Unlock()
		_ = ch.Close()
		return false
	}
	m.stopReconnectLocked()
	m.generation++
	generation := m.generation
	m.channel = ch
	m.address = address
	m.state = StateConnected
	handlers := make(map[string]signalr.HandlerFunc, len(m.handlers))
	for name, handler := range m.handlers {
		handlers[name] = handler
	}
	m.mu.Unlock()

	for name, handler := range handlers {
		ch.On(name, handler)
	}
	m.notifyState(StateConnected)
	go m.watch(ch, generation)
	return true
}

func (m *Manager) watch(ch Channel, generation uint64) {
	<-ch.Done()

	m.mu.Lock()
	if generation != m.generation || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	address := m.address
	m.channel = nil
	m.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	m.reconnectCancel = cancel
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	logging.WarnWithContext(m.logger, "coordinator channel lost, reconnecting", "connection_lost",
		logging.String("address", address),
		logging.Error(ch.Err()),
		logging.String(logging.FieldImpact, "progress updates are dropped until reconnected"),
	)
	go m.reconnectLoop(ctx, address)
}

func (m *Manager) reconnectLoop(ctx context.Context, address string) {
	policy := m.newBackOff()
	policy.Reset()
	attempt := 0
	for {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			m.giveUp(ctx, address, attempt)
			return
		}
		if err := m.sleep(ctx, delay); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		m.mu.Lock()
		m.reconnects++
		m.mu.Unlock()
		if m.observer != nil {
			m.observer.ReconnectAttempt()
		}

		ch, err := m.dialSafely(ctx, address)
		if err != nil {
			m.logger.Info("reconnect attempt failed",
				logging.String("address", address),
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			continue
		}

		if !m.install(ctx, ch, address) {
			return
		}
		m.logger.Info("reconnected to coordinator",
			logging.String("address", address),
			logging.Int("attempt", attempt),
		)
		return
	}
}

func (m *Manager) giveUp(ctx context.Context, address string, attempts int) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.stopReconnectLocked()
	m.state = StateDisconnected
	m.address = ""
	m.mu.Unlock()

	m.notifyState(StateDisconnected)
	if m.observer != nil {
		m.observer.ReconnectGaveUp()
	}
	logging.ErrorWithContext(m.logger, "giving up on coordinator reconnect", "reconnect_abandoned",
		logging.String("address", address),
		logging.Int("attempts", attempts),
		logging.Alert("coordinator_unreachable"),
		logging.String(logging.FieldErrorHint, "use /set-master or captioner connect once the coordinator is back"),
	)
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectCancel != nil {
		m.reconnectCancel()
		m.reconnectCancel = nil
	}
}

func (m *Manager) notifyState(state State) {
	if m.observer != nil {
		m.observer.ConnectionState(state)
	}
}
