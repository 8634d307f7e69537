package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"captioner/internal/config"
)

const userAgent = "Captioner-Go/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventTaskCompleted Event = "task_completed"
	EventTaskFailed    Event = "task_failed"
	EventTaskCancelled Event = "task_cancelled"
	EventTest          Event = "test"
)

// Payload carries event fields. Known keys: taskID, videoPath, outputPath,
// reason, duration.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	video := filepath.Base(stringValue(payload, "videoPath"))
	task := stringValue(payload, "taskID")
	label := video
	if task != "" {
		label = fmt.Sprintf("%s (task #%s)", video, task)
	}

	switch event {
	case EventTaskCompleted:
		body := fmt.Sprintf("✅ Subtitles ready: %s", label)
		if out := stringValue(payload, "outputPath"); out != "" {
			body += "\nFile: " + out
		}
		if d, ok := payload["duration"].(time.Duration); ok && d > 0 {
			body += "\nTook: " + d.Round(time.Second).String()
		}
		return message{
			title: "Captioner - Complete",
			body:  body,
			tags:  []string{"captioner", "task", "completed"},
		}, true
	case EventTaskFailed:
		reason := stringValue(payload, "reason")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "Captioner - Failed",
			body:     fmt.Sprintf("❌ %s failed: %s", label, reason),
			tags:     []string{"captioner", "error", "alert"},
			priority: "high",
		}, true
	case EventTaskCancelled:
		return message{
			title: "Captioner - Cancelled",
			body:  fmt.Sprintf("Stopped: %s", label),
			tags:  []string{"captioner", "task", "cancelled"},
		}, true
	case EventTest:
		return message{
			title:    "Captioner - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"captioner", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func stringValue(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
