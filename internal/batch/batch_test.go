package batch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"captioner/internal/batch"
	"captioner/internal/progress"
)

func upper(_ context.Context, lines []string) ([]string, error) {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.ToUpper(line)
	}
	return out, nil
}

type reports struct {
	mu   sync.Mutex
	done []int
}

func (r *reports) Report(done, _ int, _ string) {
	r.mu.Lock()
	r.done = append(r.done, done)
	r.mu.Unlock()
}

func TestSplit(t *testing.T) {
	chunks := batch.Split([]string{"a", "b", "c", "d", "e"}, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 || chunks[2][0] != "e" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
	if got := batch.Split([]string{"a"}, 0); len(got) != 1 {
		t.Fatalf("expected size below 1 to act as 1, got %v", got)
	}
}

func TestRunPreservesOrderAndReportsProgress(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e", "f", "g"}
	rec := &reports{}
	counter := progress.NewCounter(rec, len(lines), "")

	out, err := batch.Run(context.Background(), lines, batch.Options{BatchSize: 3, Workers: 4, Progress: counter}, upper)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Join(out, "") != "ABCDEFG" {
		t.Fatalf("unexpected output order: %v", out)
	}
	if counter.Done() != len(lines) {
		t.Fatalf("expected all lines counted, got %d", counter.Done())
	}
	if len(rec.done) != 3 {
		t.Fatalf("expected one report per batch, got %v", rec.done)
	}
}

func TestRunBoundsWorkers(t *testing.T) {
	var active, peak atomic.Int32
	fn := func(ctx context.Context, lines []string) ([]string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer active.Add(-1)
		return upper(ctx, lines)
	}
	lines := make([]string, 40)
	if _, err := batch.Run(context.Background(), lines, batch.Options{BatchSize: 1, Workers: 2}, fn); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent batches, saw %d", peak.Load())
	}
}

func TestRunStopsAtCheckpoint(t *testing.T) {
	stop := errors.New("stopped")
	var calls atomic.Int32
	var checks atomic.Int32
	check := func() error {
		if checks.Add(1) > 2 {
			return stop
		}
		return nil
	}
	fn := func(ctx context.Context, lines []string) ([]string, error) {
		calls.Add(1)
		return upper(ctx, lines)
	}
	_, err := batch.Run(context.Background(), []string{"a", "b", "c", "d"}, batch.Options{BatchSize: 1, Workers: 1, Checkpoint: check}, fn)
	if !errors.Is(err, stop) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
	if calls.Load() > 1 {
		t.Fatalf("expected at most one batch before the checkpoint fired, got %d", calls.Load())
	}
}

func TestRunRejectsShortResults(t *testing.T) {
	fn := func(context.Context, []string) ([]string, error) { return []string{"only"}, nil }
	_, err := batch.Run(context.Background(), []string{"a", "b"}, batch.Options{BatchSize: 2}, fn)
	if err == nil || !strings.Contains(err.Error(), "got 1 results for 2 lines") {
		t.Fatalf("expected length mismatch error, got %v", err)
	}
}

func TestRunPropagatesBatchError(t *testing.T) {
	boom := errors.New("boom")
	fn := func(context.Context, []string) ([]string, error) { return nil, boom }
	_, err := batch.Run(context.Background(), []string{"a"}, batch.Options{}, fn)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped batch error, got %v", err)
	}
}

func TestRunEmptyInput(t *testing.T) {
	out, err := batch.Run(context.Background(), nil, batch.Options{}, upper)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty result, got %v %v", out, err)
	}
}
