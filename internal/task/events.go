package task

import (
	"log/slog"
	"sync"
	"time"

	"captioner/internal/logging"
)

// Observer receives task lifecycle events. Calls arrive on a single goroutine
// in production order, without the manager lock held.
type Observer interface {
	TaskProgress(id int64, progress int, state string, eta *time.Time)
	TaskCompleted(task Snapshot)
	TaskFaulted(task Snapshot, reason string)
}

// eventQueue delivers callbacks in order from one goroutine. It is unbounded
// so producers never block on a slow observer.
type eventQueue struct {
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

func newEventQueue(logger *slog.Logger) *eventQueue {
	q := &eventQueue{logger: logger, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
}

// flush blocks until every event queued before the call has been delivered.
func (q *eventQueue) flush() {
	barrier := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, func() { close(barrier) })
	q.cond.Signal()
	q.mu.Unlock()
	<-barrier
}

func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.deliver(fn)
	}
}

func (q *eventQueue) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task observer panicked", logging.Any("panic", r))
		}
	}()
	fn()
}
