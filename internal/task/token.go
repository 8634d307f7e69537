package task

import (
	"sync"
	"sync/atomic"

	"captioner/internal/services"
)

// Token is a one-shot cancellation flag shared between the manager and the
// running pipeline. It can be polled with Cancelled or awaited with Done.
type Token struct {
	fired atomic.Bool
	once  sync.Once
	done  chan struct{}
}

// NewToken returns an unfired token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel fires the token. Later calls do nothing.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.fired.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel was called.
func (t *Token) Cancelled() bool {
	return t.fired.Load()
}

// Done is closed when the token fires.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err returns a cancellation error once fired, nil otherwise.
func (t *Token) Err() error {
	if t.Cancelled() {
		return services.ErrCancelled
	}
	return nil
}
