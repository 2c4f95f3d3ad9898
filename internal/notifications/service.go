package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shuttle/internal/config"
	"shuttle/internal/jobs"
	"shuttle/internal/logging"
)

const userAgent = "Shuttle-Go/0.1.0"

// Service announces job outcomes. It satisfies jobs.Notifier.
type Service interface {
	JobReady(ctx context.Context, view jobs.View)
	JobFailed(ctx context.Context, view jobs.View)
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		baseURL:   strings.TrimRight(cfg.API.BaseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		logger:    logging.NewComponentLogger(logger, "notifications"),
		onReady:   cfg.Notifications.JobReady,
		onFailure: cfg.Notifications.JobFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
	click    string
}

type ntfyService struct {
	endpoint  string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
	onReady   bool
	onFailure bool
}

func (n *ntfyService) JobReady(ctx context.Context, view jobs.View) {
	if !n.onReady {
		return
	}
	message := fmt.Sprintf("Ready: %s", displayName(view))
	if view.SizeBytes > 0 {
		message = fmt.Sprintf("%s (%s)", message, humanBytes(view.SizeBytes))
	}
	data := payload{
		title:   "Shuttle - Download Ready",
		message: message,
		tags:    []string{"shuttle", "job", "ready"},
	}
	if n.baseURL != "" {
		data.click = fmt.Sprintf("%s/api/jobs/%s/artifact", n.baseURL, view.ID)
	}
	n.deliver(ctx, view.ID, data)
}

func (n *ntfyService) JobFailed(ctx context.Context, view jobs.View) {
	if !n.onFailure {
		return
	}
	reason := strings.TrimSpace(view.Error)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Shuttle - Download Failed",
		message:  fmt.Sprintf("Failed: %s\n%s", displayName(view), reason),
		tags:     []string{"shuttle", "job", "failed"},
		priority: "high",
	}
	n.deliver(ctx, view.ID, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Shuttle - Test",
		message:  "Notification system test",
		tags:     []string{"shuttle", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

// deliver sends and logs failures; notifications never affect job state.
func (n *ntfyService) deliver(ctx context.Context, jobID string, data payload) {
	if err := n.send(ctx, data); err != nil {
		logging.WarnWithContext(n.logger, "notification delivery failed", "notification_failed",
			logging.JobID(jobID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
		)
	}
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
	if data.click != "" {
		req.Header.Set("Click", data.click)
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

func displayName(view jobs.View) string {
	if title := strings.TrimSpace(view.Title); title != "" {
		return title
	}
	return view.SourceURL
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

type noopService struct{}

func (noopService) JobReady(context.Context, jobs.View)    {}
func (noopService) JobFailed(context.Context, jobs.View)   {}
func (noopService) TestNotification(context.Context) error { return nil }
