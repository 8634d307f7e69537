package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"captioner/internal/logging"
	"captioner/internal/progress"
	"captioner/internal/services"
	"captioner/internal/subtitle"
	"captioner/internal/task"
)

var (
	// ErrTaskMismatch is returned when Execute is asked to run a task that is
	// not the active one.
	ErrTaskMismatch = errors.New("task is not the active task")
	// ErrBusy is returned when a live run is already in flight.
	ErrBusy = errors.New("executor is already running a task")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("executor is closed")
)

// Outcomes recorded for finished runs.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Tasks is the slice of task.Manager the executor drives.
type Tasks interface {
	Current() (task.Snapshot, bool)
	Token() *task.Token
	MarkStarted()
	MarkCompleted() bool
	MarkFailed(reason string) bool
	ProgressSink() progress.Sink
}

// Transcriber extracts audio and runs speech recognition.
type Transcriber interface {
	ExtractAudio(ctx context.Context, source, dest string) error
	Transcribe(ctx context.Context, audio, language string, reporter progress.Reporter) (*subtitle.Transcript, error)
}

// Splitter regroups word-timed transcripts into sentence cues.
type Splitter interface {
	Split(t *subtitle.Transcript) *subtitle.Transcript
}

// Optimizer corrects recognized text in place.
type Optimizer interface {
	Optimize(ctx context.Context, t *subtitle.Transcript, reporter progress.Reporter, checkpoint func() error) error
}

// Translator fills in translations in place.
type Translator interface {
	Translate(ctx context.Context, t *subtitle.Transcript, reporter progress.Reporter, checkpoint func() error) error
}

// Recorder receives run metrics.
type Recorder interface {
	TaskStarted()
	TaskFinished(outcome string, elapsed time.Duration)
}

// Collaborators are the stage implementations. Optimizer and Translator may
// be nil when the corresponding stage is disabled.
type Collaborators struct {
	Transcriber Transcriber
	Splitter    Splitter
	Optimizer   Optimizer
	Translator  Translator
}

// Options mirror the subtitle section of the configuration.
type Options struct {
	WorkDir       string
	Language      string
	NeedSplit     bool
	NeedOptimize  bool
	NeedTranslate bool
	Layout        string
	Style         string
	Recorder      Recorder
	// DrainTimeout bounds how long Execute waits for a stopped run to
	// unwind before giving up with ErrBusy. Zero means 10s.
	DrainTimeout time.Duration
}

const defaultDrainTimeout = 10 * time.Second

// Executor runs at most one task at a time.
type Executor struct {
	tasks  Tasks
	stages Collaborators
	opts   Options
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup
	// token and done belong to the in-flight run.
	token *task.Token
	done  chan struct{}
}

// New builds an executor.
func New(tasks Tasks, stages Collaborators, opts Options, logger *slog.Logger) *Executor {
	base, cancel := context.WithCancel(context.Background())
	return &Executor{
		tasks:  tasks,
		stages: stages,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		base:   base,
		cancel: cancel,
	}
}

// Execute starts the pipeline for taskID in the background.
func (e *Executor) Execute(taskID int64) error {
	snap, ok := e.tasks.Current()
	if !ok || snap.ID != taskID || snap.State.Terminal() {
		return fmt.Errorf("%w: %d", ErrTaskMismatch, taskID)
	}
	if e.stages.Transcriber == nil {
		return errors.New("pipeline has no transcriber")
	}
	token := e.tasks.Token()

	done, err := e.claim(token)
	if err != nil {
		return err
	}

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			e.running = false
			e.token = nil
			e.mu.Unlock()
			close(done)
		}()
		e.run(snap, token)
	}()
	return nil
}

// claim reserves the single run slot for token. A run whose task was already
// stopped is given DrainTimeout to unwind so stop followed by start succeeds.
func (e *Executor) claim(token *task.Token) (chan struct{}, error) {
	drain := e.opts.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	deadline := time.NewTimer(drain)
	defer deadline.Stop()

	e.mu.Lock()
	for {
		if e.closed {
			e.mu.Unlock()
			return nil, ErrClosed
		}
		if !e.running {
			break
		}
		if e.token == nil || !e.token.Cancelled() {
			e.mu.Unlock()
			return nil, ErrBusy
		}
		done := e.done
		e.mu.Unlock()
		select {
		case <-done:
		case <-deadline.C:
			return nil, ErrBusy
		}
		e.mu.Lock()
	}
	e.running = true
	e.token = token
	e.done = make(chan struct{})
	e.wg.Add(1)
	done := e.done
	e.mu.Unlock()
	return done, nil
}

// Running reports whether a run is in flight.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Wait blocks until the current run, if any, returns.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close cancels any in-flight run and waits for it. The task itself is left
// to the caller.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// run owns the task until it reaches a terminal state or is cancelled.
func (e *Executor) run(snap task.Snapshot, token *task.Token) {
	ctx, cancel := context.WithCancel(services.WithTaskID(e.base, snap.ID))
	defer cancel()
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := logging.WithContext(ctx, e.logger)
	start := time.Now()
	if e.opts.Recorder != nil {
		e.opts.Recorder.TaskStarted()
	}
	finish := func(outcome string) {
		if e.opts.Recorder != nil {
			e.opts.Recorder.TaskFinished(outcome, time.Since(start))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if token.Cancelled() {
				finish(OutcomeCancelled)
				return
			}
			logging.ErrorWithContext(logger, "pipeline panicked", "pipeline_panic",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			e.tasks.MarkFailed(fmt.Sprintf("internal error: %v", r))
			finish(OutcomeFailed)
		}
	}()

	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("video_path", snap.VideoPath),
	)
	e.tasks.MarkStarted()

	r := &runner{
		exec:  e,
		snap:  snap,
		token: token,
		sink:  e.tasks.ProgressSink(),
	}
	stage, err := r.stages(ctx)
	switch {
	case token.Cancelled():
		logger.Info("pipeline stopped",
			logging.String(logging.FieldEventType, "pipeline_cancelled"),
			logging.String("stage", stage),
		)
		finish(OutcomeCancelled)
	case err != nil:
		reason := stage + ": " + services.FailureReason(err)
		logging.ErrorWithContext(logger, "pipeline failed", "pipeline_failure",
			logging.String("stage", stage),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the stage collaborator configuration and inputs"),
		)
		e.tasks.MarkFailed(reason)
		finish(OutcomeFailed)
	default:
		if e.tasks.MarkCompleted() {
			finish(OutcomeCompleted)
		} else {
			// Stopped between the last checkpoint and completion.
			finish(OutcomeCancelled)
		}
		logger.Info("pipeline finished",
			logging.String(logging.FieldEventType, "pipeline_complete"),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}
