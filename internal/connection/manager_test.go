package connection_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captioner/internal/connection"
	"captioner/internal/signalr"
)

type sentMessage struct {
	target string
	args   []any
}

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]signalr.HandlerFunc
	sent     []sentMessage
	done     chan struct{}
	once     sync.Once
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: map[string]signalr.HandlerFunc{}, done: make(chan struct{})}
}

func (c *fakeChannel) On(target string, handler signalr.HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[target] = handler
}

func (c *fakeChannel) Send(_ context.Context, target string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{target: target, args: args})
	return nil
}

func (c *fakeChannel) Invoke(_ context.Context, target string, _ ...any) (json.RawMessage, error) {
	if target == "Fail" {
		return nil, errors.New("remote failure")
	}
	return json.RawMessage("null"), nil
}

func (c *fakeChannel) Done() <-chan struct{} { return c.done }

func (c *fakeChannel) Err() error { return errors.New("dropped") }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.drop()
	return nil
}

func (c *fakeChannel) drop() {
	c.once.Do(func() { close(c.done) })
}

func (c *fakeChannel) hasHandler(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[name]
	return ok
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentTargets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, msg := range c.sent {
		out = append(out, msg.target)
	}
	return out
}

// scriptedDialer hands out results in order; once exhausted it fails.
type scriptedDialer struct {
	mu      sync.Mutex
	results []any
	dials   []string
}

func (d *scriptedDialer) dial(_ context.Context, address string) (connection.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, address)
	if len(d.results) == 0 {
		return nil, errors.New("unreachable")
	}
	next := d.results[0]
	d.results = d.results[1:]
	switch v := next.(type) {
	case *fakeChannel:
		return v, nil
	case error:
		return nil, v
	}
	return nil, errors.New("bad script")
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type countingObserver struct {
	mu       sync.Mutex
	states   []connection.State
	attempts int
	gaveUp   int
}

func (o *countingObserver) ConnectionState(state connection.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *countingObserver) ReconnectAttempt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
}

func (o *countingObserver) ReconnectGaveUp() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gaveUp++
}

func (o *countingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts, o.gaveUp
}

const hubAddress = "http://coordinator:5001/hubs/worker"

func noopHandler(context.Context, []json.RawMessage) (any, error) { return nil, nil }

func TestConnectIsIdempotentForSameAddress(t *testing.T) {
	dialer := &scriptedDialer{results: []any{newFakeChannel()}}
	m := connection.NewManager(connection.WithDialer(dialer.dial))

	require.NoError(t, m.Connect(context.Background(), hubAddress))
	require.NoError(t, m.Connect(context.Background(), hubAddress))

	assert.Equal(t, 1, dialer.count())
	status := m.Status()
	assert.Equal(t, connection.StateConnected, status.State)
	assert.Equal(t, hubAddress, status.Address)
	assert.True(t, status.Connected)
}

func TestConnectRejectsInvalidAddressWithoutDialing(t *testing.T) {
	dialer := &scriptedDialer{}
	m := connection.NewManager(connection.WithDialer(dialer.dial))

	for _, address := range []string{"", "coordinator:5001", "/hubs/worker", "http://"} {
		err := m.Connect(context.Background(), address)
		assert.ErrorIs(t, err, connection.ErrInvalidAddress, address)
	}
	assert.Zero(t, dialer.count())
	assert.Equal(t, connection.StateDisconnected, m.Status().State)
}

func TestConnectFailureStaysDisconnected(t *testing.T) {
	dialer := &scriptedDialer{results: []any{errors.New("refused")}}
	m := connection.NewManager(connection.WithDialer(dialer.dial))

	err := m.Connect(context.Background(), hubAddress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	status := m.Status()
	assert.Equal(t, connection.StateDisconnected, status.State)
	assert.Empty(t, status.Address)
}

func TestConnectToDifferentAddressReplacesChannel(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	dialer := &scriptedDialer{results: []any{first, second}}
	m := connection.NewManager(connection.WithDialer(dialer.dial))

	require.NoError(t, m.Connect(context.Background(), hubAddress))
	require.NoError(t, m.Connect(context.Background(), "http://other:5001/hubs/worker"))

	assert.True(t, first.isClosed())
	assert.Equal(t, "http://other:5001/hubs/worker", m.Status().Address)
	// Closing the old channel must not trigger a reconnect.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, dialer.count())
}

func TestHandlersAttachOnConnectAndLive(t *testing.T) {
	ch := newFakeChannel()
	dialer := &scriptedDialer{results: []any{ch}}
	m := connection.NewManager(connection.WithDialer(dialer.dial))

	m.On("InvokeMethod", noopHandler)
	require.NoError(t, m.Connect(context.Background(), hubAddress))
	assert.True(t, ch.hasHandler("InvokeMethod"))

	m.On("Ping", noopHandler)
	assert.True(t, ch.hasHandler("Ping"))
}

func TestSendDropsWhileDisconnected(t *testing.T) {
	ch := newFakeChannel()
	dialer := &scriptedDialer{results: []any{ch}}
	m := connection.NewManager(connection.WithDialer(dialer.dial))

	m.Send("Progress", 1)
	require.NoError(t, m.Connect(context.Background(), hubAddress))
	m.Send("Progress", 2)

	assert.Equal(t, []string{"Progress"}, ch.sentTargets())
}

func TestInvokeReportsNotConnectedAndRemoteErrors(t *testing.T) {
	dialer := &scriptedDialer{results: []any{newFakeChannel()}}
	m := connection.NewManager(connection.WithDialer(dialer.dial))

	_, err := m.Invoke(context.Background(), "Register")
	assert.ErrorIs(t, err, connection.ErrNotConnected)

	require.NoError(t, m.Connect(context.Background(), hubAddress))
	result, err := m.Invoke(context.Background(), "Register")
	require.NoError(t, err)
	assert.Equal(t, "null", string(result))

	_, err = m.Invoke(context.Background(), "Fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote failure")
}

func TestReconnectWalksScheduleAndReattachesHandlers(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	dialer := &scriptedDialer{results: []any{
		first,
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
		second,
	}}
	sleeper := &recordingSleeper{}
	observer := &countingObserver{}
	m := connection.NewManager(
		connection.WithDialer(dialer.dial),
		connection.WithSleeper(sleeper.sleep),
		connection.WithObserver(observer),
	)
	m.On("InvokeMethod", noopHandler)
	require.NoError(t, m.Connect(context.Background(), hubAddress))

	first.drop()

	require.Eventually(t, func() bool {
		return m.Status().State == connection.StateConnected && second.hasHandler("InvokeMethod")
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}, sleeper.recorded())
	status := m.Status()
	assert.Equal(t, 5, status.Reconnects)
	assert.Equal(t, hubAddress, status.Address)
	attempts, gaveUp := observer.counts()
	assert.Equal(t, 5, attempts)
	assert.Zero(t, gaveUp)
}

func TestScheduleRepeatsLastDelay(t *testing.T) {
	schedule := connection.NewSchedule(connection.DefaultSchedule, 0)
	var got []time.Duration
	for range 7 {
		got = append(got, schedule.NextBackOff())
	}
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}, got)
}

func TestReconnectGivesUpAfterCap(t *testing.T) {
	first := newFakeChannel()
	dialer := &scriptedDialer{results: []any{first}}
	sleeper := &recordingSleeper{}
	observer := &countingObserver{}
	m := connection.NewManager(
		connection.WithDialer(dialer.dial),
		connection.WithSleeper(sleeper.sleep),
		connection.WithObserver(observer),
		connection.WithReconnectPolicy(connection.DefaultSchedule, 2),
	)
	require.NoError(t, m.Connect(context.Background(), hubAddress))

	first.drop()

	require.Eventually(t, func() bool {
		_, gaveUp := observer.counts()
		return gaveUp == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, connection.StateDisconnected, m.Status().State)
	assert.Equal(t, []time.Duration{0, 2 * time.Second}, sleeper.recorded())
	assert.Equal(t, 3, dialer.count())
}

func TestDisconnectStopsReconnectLoop(t *testing.T) {
	first := newFakeChannel()
	dialer := &scriptedDialer{results: []any{first}}
	blocked := make(chan struct{})
	var once sync.Once
	sleeper := func(ctx context.Context, _ time.Duration) error {
		once.Do(func() { close(blocked) })
		<-ctx.Done()
		return ctx.Err()
	}
	m := connection.NewManager(connection.WithDialer(dialer.dial), connection.WithSleeper(sleeper))
	require.NoError(t, m.Connect(context.Background(), hubAddress))

	first.drop()
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect loop did not start")
	}
	assert.Equal(t, connection.StateConnecting, m.Status().State)

	m.Disconnect()
	status := m.Status()
	assert.Equal(t, connection.StateDisconnected, status.State)
	assert.Empty(t, status.Address)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.count())
}

func TestDisconnectIsNoopWhenDisconnected(t *testing.T) {
	observer := &countingObserver{}
	m := connection.NewManager(connection.WithObserver(observer))
	m.Disconnect()
	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Empty(t, observer.states)
}
