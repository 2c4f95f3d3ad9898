package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"shuttle/internal/config"
	"shuttle/internal/jobs"
	"shuttle/internal/logging"
	"shuttle/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	click    string
	body     string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			click:    r.Header.Get("Click"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg, logging.NewNop())
	svc.JobReady(context.Background(), jobs.View{ID: "x"})
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestJobNotificationsFormatPayloads(t *testing.T) {
	srv, captured := newCaptureServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.JobReady = true
	cfg.Notifications.JobFailed = true
	cfg.API.BaseURL = "https://dl.example.com/"
	svc := notifications.NewService(&cfg, logging.NewNop())

	ready := jobs.View{ID: "11111111-2222-4333-8444-555555555555", Title: "Big Buck Bunny", SizeBytes: 3 * 1024 * 1024}
	svc.JobReady(context.Background(), ready)
	failed := jobs.View{ID: "x", SourceURL: "https://example.com/v", Error: "fetch timed out"}
	svc.JobFailed(context.Background(), failed)

	reqs := captured()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].title != "Shuttle - Download Ready" || reqs[0].body != "Ready: Big Buck Bunny (3.0 MiB)" {
		t.Fatalf("unexpected ready payload %+v", reqs[0])
	}
	if reqs[0].tags != "shuttle,job,ready" {
		t.Fatalf("unexpected tags %q", reqs[0].tags)
	}
	if reqs[0].click != "https://dl.example.com/api/jobs/"+ready.ID+"/artifact" {
		t.Fatalf("unexpected click url %q", reqs[0].click)
	}
	if reqs[1].priority != "high" || !strings.Contains(reqs[1].body, "https://example.com/v") || !strings.Contains(reqs[1].body, "fetch timed out") {
		t.Fatalf("unexpected failure payload %+v", reqs[1])
	}
}

func TestDisabledEventsAreSkipped(t *testing.T) {
	srv, captured := newCaptureServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.JobReady = false
	cfg.Notifications.JobFailed = true
	svc := notifications.NewService(&cfg, logging.NewNop())

	svc.JobReady(context.Background(), jobs.View{ID: "a"})
	if got := len(captured()); got != 0 {
		t.Fatalf("ready notification should be disabled, got %d requests", got)
	}
}

func TestTestNotificationReportsHTTPErrors(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg, logging.NewNop())

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
