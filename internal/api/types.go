package api

import "captioner/internal/node"

// HealthResponse is returned by /health.
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// MessageResponse is returned by /disconnect-master.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SetMasterResponse is returned by a successful /set-master.
type SetMasterResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MasterURL string `json:"master_url"`
}

// StatusResponse is returned by /status.
type StatusResponse struct {
	Success     bool           `json:"success"`
	IsConnected bool           `json:"is_connected"`
	MasterURL   string         `json:"master_url"`
	Connection  string         `json:"connection_state"`
	Reconnects  int            `json:"reconnects"`
	Status      string         `json:"status"`
	CurrentTask *node.TaskInfo `json:"current_task"`
}

// StartRequest is the /api/rpc/start-subtitize body.
type StartRequest struct {
	VideoPath              string `json:"video_path" validate:"required"`
	RawSubtitlePath        string `json:"raw_subtitle_path" validate:"required"`
	TranslatedSubtitlePath string `json:"translated_subtitle_path"`
	Language               string `json:"language,omitempty" validate:"omitempty,max=64"`
}

// StartResponse reports the task id or a negative code.
type StartResponse struct {
	Success bool   `json:"success"`
	TaskID  int64  `json:"task_id"`
	Message string `json:"message"`
}

// StopRequest is the /api/rpc/stop-subtitize body. TaskID is a pointer so a
// missing field can be told apart from zero.
type StopRequest struct {
	TaskID *int64 `json:"task_id" validate:"required"`
}
