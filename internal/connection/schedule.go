package connection

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// DefaultSchedule is the delay before each reconnect attempt. The last entry
// repeats.
var DefaultSchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}

// scheduleBackOff walks a fixed list of delays and then repeats the last one.
type scheduleBackOff struct {
	delays []time.Duration
	next   int
}

func (s *scheduleBackOff) NextBackOff() time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	if s.next >= len(s.delays) {
		return s.delays[len(s.delays)-1]
	}
	delay := s.delays[s.next]
	s.next++
	return delay
}

func (s *scheduleBackOff) Reset() {
	s.next = 0
}

// NewSchedule returns the reconnect policy. maxAttempts <= 0 retries forever.
func NewSchedule(delays []time.Duration, maxAttempts int) backoff.BackOff {
	var b backoff.BackOff = &scheduleBackOff{delays: append([]time.Duration(nil), delays...)}
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxAttempts))
	}
	return b
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
