// Package batch fans line-oriented work out over a bounded worker pool.
//
// Translate and optimize both hand Run a slice of lines, a batch size, and a
// per-batch function. Results are written back by index so output order
// always matches input order.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"captioner/internal/progress"
)

// Func processes one batch. It must return exactly one output per input.
type Func func(ctx context.Context, lines []string) ([]string, error)

// Options tunes a run.
type Options struct {
	// BatchSize is the number of lines per call; values below 1 mean 1.
	BatchSize int
	// Workers bounds concurrent batches; values below 1 mean 1.
	Workers int
	// Limiter, when set, is waited on before every batch.
	Limiter *rate.Limiter
	// Checkpoint is consulted before every batch is scheduled and again
	// before it runs. A non-nil error stops the run with that error.
	Checkpoint func() error
	// Progress receives the size of every finished batch.
	Progress *progress.Counter
}

// Split cuts lines into consecutive chunks of at most size.
func Split(lines []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	chunks := make([][]string, 0, (len(lines)+size-1)/size)
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		chunks = append(chunks, lines[start:end])
	}
	return chunks
}

// Run processes lines in batches and returns outputs in input order.
func Run(ctx context.Context, lines []string, opts Options, fn Func) ([]string, error) {
	out := make([]string, len(lines))
	if len(lines) == 0 {
		return out, nil
	}
	size := max(opts.BatchSize, 1)
	workers := max(opts.Workers, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, chunk := range Split(lines, size) {
		if err := checkpoint(gctx, opts.Checkpoint); err != nil {
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			return nil, err
		}
		offset := i * size
		g.Go(func() error {
			if err := checkpoint(gctx, opts.Checkpoint); err != nil {
				return err
			}
			if opts.Limiter != nil {
				if err := opts.Limiter.Wait(gctx); err != nil {
					return err
				}
			}
			result, err := fn(gctx, chunk)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i+1, err)
			}
			if len(result) != len(chunk) {
				return fmt.Errorf("batch %d: got %d results for %d lines", i+1, len(result), len(chunk))
			}
			copy(out[offset:], result)
			if opts.Progress != nil {
				opts.Progress.Add(len(chunk))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func checkpoint(ctx context.Context, check func() error) error {
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}
	return ctx.Err()
}
