package node

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"captioner/internal/dispatch"
	"captioner/internal/logging"
	"captioner/internal/notifications"
	"captioner/internal/task"
)

// Coordinator method and callback names.
const (
	MethodGetInfo        = "GetInfo"
	MethodGetStatus      = "GetStatus"
	MethodStartSubtitize = "StartSubtitize"
	MethodStopSubtitize  = "StopSubtitize"

	CallbackProgress  = "SubtitizeProgress"
	CallbackCompleted = "SubtitizeCompleted"
	CallbackFaulted   = "SubtitizeFaulted"
)

const notifyTimeout = 15 * time.Second

// Tasks is the slice of task.Manager the service needs.
type Tasks interface {
	CreateTask(req task.Request) (int64, error)
	Current() (task.Snapshot, bool)
	StopTask(id int64) bool
	ClearTask() bool
	Abandon(id int64) bool
}

// Executor launches the pipeline for a task.
type Executor interface {
	Execute(taskID int64) error
}

// Dispatcher registers methods and sends callbacks.
type Dispatcher interface {
	RegisterMethod(name string, handler dispatch.Handler)
	SendCallback(name string, data any)
}

// Info describes the build.
type Info struct {
	AppName     string `json:"app_name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// TaskInfo is the wire view of the active task.
type TaskInfo struct {
	TaskID    int64      `json:"task_id"`
	State     string     `json:"state"`
	Progress  int        `json:"progress"`
	VideoPath string     `json:"video_path"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at"`
}

// Status is the GetStatus result.
type Status struct {
	Status      string    `json:"status"`
	CurrentTask *TaskInfo `json:"current_task"`
}

// StopResult is the StopSubtitize result.
type StopResult struct {
	Success bool   `json:"success"`
	TaskID  int64  `json:"task_id"`
	Message string `json:"message"`
}

type progressCallback struct {
	TaskID          int64      `json:"task_id"`
	CurrentProgress int        `json:"current_progress"`
	CurrentState    string     `json:"current_state"`
	ETA             *time.Time `json:"eta"`
}

type completedCallback struct {
	TaskID                 int64  `json:"task_id"`
	VideoPath              string `json:"video_path"`
	RawSubtitlePath        string `json:"raw_subtitle_path"`
	TranslatedSubtitlePath string `json:"translated_subtitle_path"`
}

type faultedCallback struct {
	TaskID    int64  `json:"task_id"`
	VideoPath string `json:"video_path"`
	Fault     string `json:"fault"`
}

// Service is the node's coordinator-facing facade.
type Service struct {
	info       Info
	tasks      Tasks
	executor   Executor
	dispatcher Dispatcher
	notifier   notifications.Service
	logger     *slog.Logger
}

// New wires the service. notifier may be nil.
func New(info Info, tasks Tasks, executor Executor, dispatcher Dispatcher, notifier notifications.Service, logger *slog.Logger) *Service {
	return &Service{
		info:       info,
		tasks:      tasks,
		executor:   executor,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "node"),
	}
}

// Register exposes the coordinator methods on the dispatcher.
func (s *Service) Register() {
	s.dispatcher.RegisterMethod(MethodGetInfo, func(context.Context, []json.RawMessage) (any, error) {
		return s.Info(), nil
	})
	s.dispatcher.RegisterMethod(MethodGetStatus, func(context.Context, []json.RawMessage) (any, error) {
		return s.Status(), nil
	})
	s.dispatcher.RegisterMethod(MethodStartSubtitize, s.handleStart)
	s.dispatcher.RegisterMethod(MethodStopSubtitize, s.handleStop)
}

// Info returns the build description.
func (s *Service) Info() Info {
	return s.info
}

// Status reports idle, or busy with the active task.
func (s *Service) Status() Status {
	snap, ok := s.tasks.Current()
	if !ok {
		return Status{Status: task.StatusIdle}
	}
	return Status{
		Status: task.StatusBusy,
		CurrentTask: &TaskInfo{
			TaskID:    snap.ID,
			State:     string(snap.State),
			Progress:  snap.Progress,
			VideoPath: snap.VideoPath,
			CreatedAt: snap.CreatedAt,
			StartedAt: snap.StartedAt,
		},
	}
}

// StartSubtitize creates a task and launches the pipeline. It returns the
// task id, or a negative code: -1 busy, -2 invalid arguments, -3 launch
// failure.
func (s *Service) StartSubtitize(req task.Request) int64 {
	s.logger.Info("start requested",
		logging.String("video_path", req.VideoPath),
		logging.String("raw_subtitle_path", req.RawSubtitlePath),
		logging.String("translated_subtitle_path", req.TranslatedSubtitlePath),
		logging.String("language", req.Language),
	)
	id, err := s.tasks.CreateTask(req)
	if err != nil {
		s.logger.Warn("task not created",
			logging.Error(err),
			logging.Int64("code", task.Code(err)),
			logging.String(logging.FieldImpact, "coordinator receives a negative task id"),
		)
		return task.Code(err)
	}
	if err := s.executor.Execute(id); err != nil {
		s.tasks.Abandon(id)
		logging.ErrorWithContext(s.logger, "executor launch failed", "task_launch_failed",
			logging.TaskID(id),
			logging.Error(err),
		)
		return task.CodeLaunchFailed
	}
	return id
}

// StopSubtitize cancels the active task when id matches.
func (s *Service) StopSubtitize(id int64) StopResult {
	if s.tasks.StopTask(id) {
		return StopResult{Success: true, TaskID: id, Message: "task stopped"}
	}
	return StopResult{TaskID: id, Message: "stop failed: task not found or already finished"}
}

func (s *Service) handleStart(_ context.Context, args []json.RawMessage) (any, error) {
	var req task.Request
	fields := []*string{&req.VideoPath, &req.RawSubtitlePath, &req.TranslatedSubtitlePath, &req.Language}
	for i, field := range fields {
		value, _, err := dispatch.DecodeArg[string](args, i)
		if err != nil {
			return task.CodeInvalidArgs, nil
		}
		*field = value
	}
	return s.StartSubtitize(req), nil
}

func (s *Service) handleStop(_ context.Context, args []json.RawMessage) (any, error) {
	id, ok, err := dispatch.DecodeArg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("task_id is required")
	}
	return s.StopSubtitize(id), nil
}

// TaskProgress implements task.Observer.
func (s *Service) TaskProgress(id int64, value int, state string, eta *time.Time) {
	s.logger.Debug("task progress", logging.TaskID(id), logging.Int("progress", value), logging.String("state", state))
	s.dispatcher.SendCallback(CallbackProgress, progressCallback{
		TaskID:          id,
		CurrentProgress: value,
		CurrentState:    state,
		ETA:             eta,
	})
}

// TaskCompleted implements task.Observer.
func (s *Service) TaskCompleted(snap task.Snapshot) {
	s.dispatcher.SendCallback(CallbackCompleted, completedCallback{
		TaskID:                 snap.ID,
		VideoPath:              snap.VideoPath,
		RawSubtitlePath:        snap.RawSubtitlePath,
		TranslatedSubtitlePath: snap.TranslatedSubtitlePath,
	})
	s.tasks.ClearTask()

	payload := notifications.Payload{
		"taskID":     snap.ID,
		"videoPath":  snap.VideoPath,
		"outputPath": snap.TranslatedSubtitlePath,
	}
	if snap.StartedAt != nil && snap.CompletedAt != nil {
		payload["duration"] = snap.CompletedAt.Sub(*snap.StartedAt)
	}
	s.notify(notifications.EventTaskCompleted, payload)
}

// TaskFaulted implements task.Observer.
func (s *Service) TaskFaulted(snap task.Snapshot, reason string) {
	s.dispatcher.SendCallback(CallbackFaulted, faultedCallback{
		TaskID:    snap.ID,
		VideoPath: snap.VideoPath,
		Fault:     reason,
	})
	s.tasks.ClearTask()

	event := notifications.EventTaskFailed
	if reason == task.CancelReason {
		event = notifications.EventTaskCancelled
	}
	s.notify(event, notifications.Payload{
		"taskID":    snap.ID,
		"videoPath": snap.VideoPath,
		"reason":    reason,
	})
}

// notify publishes in the background so observer delivery never waits on
// the network.
func (s *Service) notify(event notifications.Event, payload notifications.Payload) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(s.logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "operator is not notified of the task outcome"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}()
}
