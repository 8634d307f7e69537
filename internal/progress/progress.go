// Package progress carries stage progress from pipeline collaborators up to
// the task manager on the 0-10000 scale.
package progress

import (
	"sync"
)

// Max is the top of the progress scale.
const Max = 10000

// Sink receives absolute progress updates.
type Sink interface {
	Update(progress int, state string, message string)
}

// Reporter is handed to collaborators. done/total is interpreted by the
// implementation; total <= 0 means unknown.
type Reporter interface {
	Report(done, total int, message string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(progress int, state string, message string)

func (f SinkFunc) Update(progress int, state string, message string) {
	f(progress, state, message)
}

// Nop discards reports.
var Nop Reporter = nopReporter{}

type nopReporter struct{}

func (nopReporter) Report(int, int, string) {}

// Span maps done/total onto [From, To] of the sink's scale.
type Span struct {
	Sink  Sink
	From  int
	To    int
	State string
}

// Report implements Reporter.
func (s Span) Report(done, total int, message string) {
	if s.Sink == nil {
		return
	}
	s.Sink.Update(s.At(done, total), s.State, message)
}

// Start reports From with message.
func (s Span) Start(message string) {
	if s.Sink != nil {
		s.Sink.Update(s.From, s.State, message)
	}
}

// At returns the absolute position for done/total, clamped to the span.
func (s Span) At(done, total int) int {
	if total <= 0 || done <= 0 {
		return s.From
	}
	if done >= total {
		return s.To
	}
	return s.From + (s.To-s.From)*done/total
}

// Counter turns per-batch completion counts into cumulative reports.
// It is safe for concurrent use by batch workers.
type Counter struct {
	mu       sync.Mutex
	reporter Reporter
	total    int
	done     int
	message  string
}

// NewCounter reports against total items.
func NewCounter(reporter Reporter, total int, message string) *Counter {
	if reporter == nil {
		reporter = Nop
	}
	return &Counter{reporter: reporter, total: total, message: message}
}

// Add records n finished items and reports the running total.
func (c *Counter) Add(n int) {
	c.mu.Lock()
	c.done += n
	if c.done > c.total {
		c.done = c.total
	}
	done := c.done
	c.reporter.Report(done, c.total, c.message)
	c.mu.Unlock()
}

// Done returns the items recorded so far.
func (c *Counter) Done() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
