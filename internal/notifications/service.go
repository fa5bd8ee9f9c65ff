package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imgconv/internal/config"
)

const userAgent = "imgconv/0.1.0"

// Service defines the notification surface used by the pipeline and CLI.
type Service interface {
	NotifyConversionFailed(ctx context.Context, name, target string, err error) error
	NotifyBatchCompleted(ctx context.Context, converted, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc delivers anything.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

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

func (n *ntfyService) NotifyConversionFailed(ctx context.Context, name, target string, err error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unnamed image"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Could not convert %s", name)
	if target = strings.TrimSpace(target); target != "" {
		fmt.Fprintf(&b, " to %s", target)
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return n.send(ctx, payload{
		title:    "imgconv - Conversion Failed",
		message:  b.String(),
		tags:     []string{"imgconv", "convert", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, converted, failed int, duration time.Duration) error {
	duration = duration.Round(time.Millisecond)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:   "imgconv - Batch Complete",
		message: fmt.Sprintf("Converted %d images in %s", converted, duration),
		tags:    []string{"imgconv", "batch", "completed"},
	}
	if failed > 0 {
		data.title = "imgconv - Batch Complete (with errors)"
		data.message = fmt.Sprintf("%d converted, %d failed in %s", converted, failed, duration)
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "imgconv - Test",
		message:  "Notification system test",
		tags:     []string{"imgconv", "test"},
		priority: "low",
	})
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

// ErrDisabled is returned by Test when no topic is configured.
var ErrDisabled = errors.New("notifications are not configured")

// Test sends a test notification, failing when svc is a no-op.
func Test(ctx context.Context, svc Service) error {
	if !Enabled(svc) {
		return ErrDisabled
	}
	return svc.TestNotification(ctx)
}

type noopService struct{}

func (noopService) NotifyConversionFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyBatchCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
