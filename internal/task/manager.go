package task

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"captioner/internal/logging"
	"captioner/internal/progress"
)

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the single task slot.
type Manager struct {
	logger   *slog.Logger
	now      func() time.Time
	events   *eventQueue
	observer Observer

	mu      sync.Mutex
	current *Snapshot
	lastID  int64
	token   *Token
}

// NewManager builds an empty manager.
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	logger = logging.NewComponentLogger(logger, "task")
	m := &Manager{
		logger: logger,
		now:    time.Now,
		token:  NewToken(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = newEventQueue(logger)
	return m
}

// SetObserver replaces the observer. It must be called before tasks run.
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// CreateTask fills the slot with a new queued task.
func (m *Manager) CreateTask(req Request) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.State.Terminal() {
		m.logger.Warn("task rejected, another task is running",
			logging.Int64("running_task_id", m.current.ID),
			logging.String(logging.FieldImpact, "new request is not queued"),
		)
		return CodeAlreadyRunning, ErrAlreadyRunning
	}

	req.VideoPath = strings.TrimSpace(req.VideoPath)
	req.RawSubtitlePath = strings.TrimSpace(req.RawSubtitlePath)
	if req.VideoPath == "" || req.RawSubtitlePath == "" {
		return CodeInvalidArgs, fmt.Errorf("%w: video_path and raw_subtitle_path are required", ErrInvalidArgs)
	}
	translated := strings.TrimSpace(req.TranslatedSubtitlePath)
	if translated == "" {
		translated = DerivedTranslatedPath(req.RawSubtitlePath)
	}

	m.lastID++
	m.current = &Snapshot{
		ID:                     m.lastID,
		VideoPath:              req.VideoPath,
		RawSubtitlePath:        req.RawSubtitlePath,
		TranslatedSubtitlePath: translated,
		Language:               strings.TrimSpace(req.Language),
		State:                  StateQueued,
		CreatedAt:              m.now(),
	}
	m.token = NewToken()

	m.logger.Info("task created",
		logging.TaskID(m.lastID),
		logging.String("video_path", req.VideoPath),
		logging.String("raw_subtitle_path", req.RawSubtitlePath),
		logging.String("translated_subtitle_path", translated),
	)
	return m.lastID, nil
}

// Current returns a copy of the task in the slot.
func (m *Manager) Current() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Snapshot{}, false
	}
	return m.current.clone(), true
}

// Status reports idle or busy.
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return StatusIdle
	}
	return StatusBusy
}

// Token returns the cancellation token of the most recent task.
func (m *Manager) Token() *Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// StopTask cancels the task with id. It returns false when there is no such
// active task.
func (m *Manager) StopTask(id int64) bool {
	m.mu.Lock()
	switch {
	case m.current == nil:
		m.mu.Unlock()
		m.logger.Info("stop ignored, no task", logging.TaskID(id))
		return false
	case m.current.ID != id:
		current := m.current.ID
		m.mu.Unlock()
		m.logger.Info("stop ignored, task id mismatch", logging.TaskID(id), logging.Int64("current_task_id", current))
		return false
	case m.current.State.Terminal():
		state := m.current.State
		m.mu.Unlock()
		m.logger.Info("stop ignored, task already finished", logging.TaskID(id), logging.String("state", string(state)))
		return false
	}

	m.token.Cancel()
	now := m.now()
	m.current.State = StateCancelled
	m.current.CompletedAt = &now
	m.current.Error = CancelReason
	snap := m.current.clone()
	m.enqueueFaultedLocked(snap, CancelReason)
	m.mu.Unlock()

	m.logger.Info("task cancelled", logging.TaskID(id))
	return true
}

// UpdateProgress records progress for the active task. Progress never moves
// backwards and never exceeds the scale maximum.
func (m *Manager) UpdateProgress(value int, state State, message string, eta *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.State.Terminal() || state.Terminal() {
		return
	}

	if value < m.current.Progress {
		value = m.current.Progress
	}
	if value > progress.Max {
		value = progress.Max
	}
	m.current.Progress = value
	m.current.State = state
	m.current.Message = message
	if eta != nil {
		e := *eta
		m.current.ETA = &e
	} else {
		m.current.ETA = nil
	}

	display := string(state)
	if message != "" {
		display = display + ": " + message
	}
	id := m.current.ID
	etaCopy := m.current.clone().ETA
	if m.observer != nil {
		observer := m.observer
		m.events.push(func() { observer.TaskProgress(id, value, display, etaCopy) })
	}
}

// MarkStarted stamps the start time of the active task.
func (m *Manager) MarkStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.State.Terminal() || m.current.StartedAt != nil {
		return
	}
	now := m.now()
	m.current.StartedAt = &now
}

// MarkCompleted finishes the active task successfully.
func (m *Manager) MarkCompleted() bool {
	m.mu.Lock()
	if m.current == nil || m.current.State.Terminal() {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	m.current.State = StateCompleted
	m.current.Progress = progress.Max
	m.current.CompletedAt = &now
	snap := m.current.clone()
	if m.observer != nil {
		observer := m.observer
		m.events.push(func() { observer.TaskCompleted(snap) })
	}
	m.mu.Unlock()

	m.logger.Info("task completed", logging.TaskID(snap.ID), logging.Duration("elapsed", now.Sub(snap.CreatedAt)))
	return true
}

// MarkFailed finishes the active task with reason.
func (m *Manager) MarkFailed(reason string) bool {
	m.mu.Lock()
	if m.current == nil || m.current.State.Terminal() {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	m.current.State = StateFailed
	m.current.Error = reason
	m.current.CompletedAt = &now
	snap := m.current.clone()
	m.enqueueFaultedLocked(snap, reason)
	m.mu.Unlock()

	logging.ErrorWithContext(m.logger, "task failed", "task_failed",
		logging.TaskID(snap.ID),
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "inspect the stage named in the reason"),
	)
	return true
}

// ClearTask empties the slot when its task is terminal.
func (m *Manager) ClearTask() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.State.Terminal() {
		return false
	}
	m.logger.Debug("task cleared", logging.TaskID(m.current.ID))
	m.current = nil
	return true
}

// Abandon drops a task that never left the queued state, e.g. when the
// executor could not be launched.
func (m *Manager) Abandon(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != id || m.current.State != StateQueued {
		return false
	}
	m.token.Cancel()
	m.current = nil
	m.logger.Warn("task abandoned before start", logging.TaskID(id),
		logging.String(logging.FieldImpact, "coordinator receives a launch failure code"))
	return true
}

// Flush waits until every callback queued so far has been delivered.
func (m *Manager) Flush() {
	m.events.flush()
}

// Close stops callback delivery after draining pending events.
func (m *Manager) Close() {
	m.events.close()
}

// ProgressSink adapts the manager to progress.Sink for the pipeline.
func (m *Manager) ProgressSink() progress.Sink {
	return progress.SinkFunc(func(value int, state string, message string) {
		parsed, ok := ParseState(state)
		if !ok {
			parsed = StateTranscribing
		}
		m.UpdateProgress(value, parsed, message, m.estimateETA(value))
	})
}

// estimateETA extrapolates the finish time from elapsed time since start.
func (m *Manager) estimateETA(value int) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.StartedAt == nil {
		return nil
	}
	if value < m.current.Progress {
		value = m.current.Progress
	}
	if value <= 0 || value >= progress.Max {
		return nil
	}
	now := m.now()
	elapsed := now.Sub(*m.current.StartedAt)
	remaining := time.Duration(float64(elapsed) * float64(progress.Max-value) / float64(value))
	eta := now.Add(remaining).Truncate(time.Second)
	return &eta
}

func (m *Manager) enqueueFaultedLocked(snap Snapshot, reason string) {
	if m.observer == nil {
		return
	}
	observer := m.observer
	m.events.push(func() { observer.TaskFaulted(snap, reason) })
}
