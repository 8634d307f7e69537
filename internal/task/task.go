package task

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// State is the lifecycle state of a task.
type State string

const (
	StateQueued       State = "queued"
	StateTranscribing State = "transcribing"
	StateOptimizing   State = "optimizing"
	StateTranslating  State = "translating"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ParseState maps a state name onto State.
func ParseState(value string) (State, bool) {
	switch state := State(strings.ToLower(strings.TrimSpace(value))); state {
	case StateQueued, StateTranscribing, StateOptimizing, StateTranslating,
		StateCompleted, StateFailed, StateCancelled:
		return state, true
	default:
		return "", false
	}
}

// Worker status values reported outside the task.
const (
	StatusIdle = "idle"
	StatusBusy = "busy"
)

// CancelReason is the fault reported when a task is stopped.
const CancelReason = "task cancelled"

// Result codes returned to the coordinator by StartSubtitize.
const (
	CodeAlreadyRunning int64 = -1
	CodeInvalidArgs    int64 = -2
	CodeLaunchFailed   int64 = -3
)

var (
	ErrAlreadyRunning = errors.New("a task is already running")
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrLaunchFailed   = errors.New("failed to launch executor")
)

// Code maps a CreateTask or launch error onto its negative result code.
func Code(err error) int64 {
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return CodeAlreadyRunning
	case errors.Is(err, ErrInvalidArgs):
		return CodeInvalidArgs
	default:
		return CodeLaunchFailed
	}
}

// Request holds the inputs for a new task.
type Request struct {
	VideoPath              string
	RawSubtitlePath        string
	TranslatedSubtitlePath string
	Language               string
}

// Snapshot is a value copy of the current task.
type Snapshot struct {
	ID                     int64
	VideoPath              string
	RawSubtitlePath        string
	TranslatedSubtitlePath string
	Language               string

	State    State
	Progress int
	Message  string
	ETA      *time.Time
	Error    string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// DerivedTranslatedPath returns <raw-stem>.translated<ext>.
func DerivedTranslatedPath(rawPath string) string {
	ext := filepath.Ext(rawPath)
	return strings.TrimSuffix(rawPath, ext) + ".translated" + ext
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.ETA != nil {
		eta := *s.ETA
		out.ETA = &eta
	}
	if s.StartedAt != nil {
		started := *s.StartedAt
		out.StartedAt = &started
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}
