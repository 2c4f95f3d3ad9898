package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"shuttle/internal/api"
	"shuttle/internal/client"
)

func TestNewRequiresURL(t *testing.T) {
	if _, err := client.New(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestSubmitSendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var req api.SubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotURL = req.URL
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.SubmitResponse{JobID: "id-1", State: "pending"})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithToken("tok"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ack, err := c.Submit(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.JobID != "id-1" || gotURL != "https://example.com/v" || gotAuth != "Bearer tok" {
		t.Fatalf("unexpected exchange: ack=%+v url=%q auth=%q", ack, gotURL, gotAuth)
	}
}

func TestErrorResponsesBecomeStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job not ready", State: "running"})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.Download(context.Background(), "abc", &bytes.Buffer{})
	var statusErr *client.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusConflict || statusErr.State != "running" || statusErr.Message != "job not ready" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if !client.IsStatus(err, http.StatusConflict) {
		t.Fatal("IsStatus should match 409")
	}
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := "running"
		if calls.Add(1) >= 3 {
			state = "ready"
		}
		_ = json.NewEncoder(w).Encode(api.Job{JobID: "id-1", State: state})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := c.Wait(ctx, "id-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.State != "ready" || calls.Load() != 3 {
		t.Fatalf("unexpected result state=%s calls=%d", job.State, calls.Load())
	}
}

func TestDownloadCopiesBody(t *testing.T) {
	payload := []byte("media-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/id-1/artifact" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "id-1", &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(len(payload)) || !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("unexpected download n=%d body=%q", n, buf.Bytes())
	}
}

func TestUnavailableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, _ := client.New(addr)
	_, err := c.Health(context.Background())
	if !client.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !errors.Is(err, client.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable in chain, got %v", err)
	}
}
