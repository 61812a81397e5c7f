// Package notifications pushes queue milestones to ntfy when a topic is
// configured.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"uplink/internal/config"
)

const userAgent = "Uplink-Go/0.1.0"

// Service defines the notification surface exposed to daemon components.
type Service interface {
	NotifyUploadCompleted(ctx context.Context, title, payloadPath string) error
	NotifyUploadFailed(ctx context.Context, title, reason string) error
	NotifyQueueDrained(ctx context.Context, completed, failed int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
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

// NewNoop returns a service that records nothing and never fails.
func NewNoop() Service { return noopService{} }

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyUploadCompleted(ctx context.Context, title, payloadPath string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = filepath.Base(strings.TrimSpace(payloadPath))
	}
	data := payload{
		title:   "Uplink - Upload Complete",
		message: fmt.Sprintf("Uploaded: %s", title),
		tags:    []string{"uplink", "upload", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyUploadFailed(ctx context.Context, title, reason string) error {
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no failure detail recorded"
	}
	data := payload{
		title:    "Uplink - Upload Failed",
		message:  fmt.Sprintf("Upload failed: %s\n%s", title, reason),
		tags:     []string{"uplink", "upload", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, completed, failed int) error {
	var title, message string
	if failed == 0 {
		title = "Uplink - Queue Drained"
		message = fmt.Sprintf("All uploads finished: %d completed", completed)
	} else {
		title = "Uplink - Queue Drained (with errors)"
		message = fmt.Sprintf("Uploads finished: %d completed, %d failed", completed, failed)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"uplink", "queue", "drained"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Uplink - Error",
		message:  builder.String(),
		tags:     []string{"uplink", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Uplink - Test",
		message:  "Notification system test",
		tags:     []string{"uplink", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
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

func (noopService) NotifyUploadCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyUploadFailed(context.Context, string, string) error    { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int) error          { return nil }
func (noopService) NotifyError(context.Context, error, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }
