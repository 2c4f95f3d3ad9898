package api

import (
	"fmt"
	"strings"
	"time"

	"shuttle/internal/deps"
	"shuttle/internal/jobs"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest is the body accepted by the submit routes.
type SubmitRequest struct {
	URL string `json:"url"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	StatusURL   string `json:"status_url"`
	DownloadURL string `json:"download_url"`
}

// Job describes a job in a transport-friendly format.
type Job struct {
	JobID           string  `json:"job_id"`
	State           string  `json:"state"`
	SourceURL       string  `json:"source_url"`
	CreatedAt       string  `json:"created_at"`
	StartedAt       string  `json:"started_at,omitempty"`
	FinishedAt      string  `json:"finished_at,omitempty"`
	ExpiredAt       string  `json:"expired_at,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	DownloadURL     string  `json:"download_url,omitempty"`
	Error           string  `json:"error,omitempty"`
	Title           string  `json:"title,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ThumbnailURL    string  `json:"thumbnail_url,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobCounts tallies tracked jobs by state.
type JobCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Ready   int `json:"ready"`
	Failed  int `json:"failed"`
	Expired int `json:"expired"`
	Total   int `json:"total"`
}

// HealthResponse reports liveness and resource usage.
type HealthResponse struct {
	Status        string        `json:"status"`
	Artifacts     int           `json:"artifacts"`
	Jobs          JobCounts     `json:"jobs"`
	Uptime        string        `json:"uptime"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	DiskFreeBytes uint64        `json:"disk_free_bytes,omitempty"`
	Dependencies  []deps.Status `json:"dependencies,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

// StatusPath returns the status route for id.
func StatusPath(id string) string { return "/api/jobs/" + id }

// ArtifactPath returns the artifact route for id.
func ArtifactPath(id string) string { return "/api/jobs/" + id + "/artifact" }

// FromView converts a job snapshot. Download links are only included for
// ready, unexpired jobs; baseURL makes them absolute.
func FromView(view jobs.View, baseURL string) Job {
	base := strings.TrimRight(baseURL, "/")
	out := Job{
		JobID:           view.ID,
		State:           string(view.State),
		SourceURL:       view.SourceURL,
		CreatedAt:       formatTime(view.CreatedAt),
		StartedAt:       formatTime(view.StartedAt),
		FinishedAt:      formatTime(view.FinishedAt),
		ExpiredAt:       formatTime(view.ExpiredAt),
		Error:           view.Error,
		Title:           view.Title,
		DurationSeconds: view.DurationSeconds,
		ThumbnailURL:    view.ThumbnailURL,
	}
	if view.State == jobs.StateReady && !view.Expired() {
		out.SizeBytes = view.SizeBytes
		out.DownloadURL = base + ArtifactPath(view.ID)
	}
	return out
}

// FromCounts converts manager counts.
func FromCounts(c jobs.Counts) JobCounts {
	return JobCounts{
		Pending: c.Pending,
		Running: c.Running,
		Ready:   c.Ready,
		Failed:  c.Failed,
		Expired: c.Expired,
		Total:   c.Total(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// formatUptime renders d as e.g. "3h25m7s", dropping sub-second precision.
func formatUptime(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return fmt.Sprint(d.Truncate(time.Second))
}
