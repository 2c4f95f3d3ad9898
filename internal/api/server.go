package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shuttle/internal/artifact"
	"shuttle/internal/deps"
	"shuttle/internal/jobid"
	"shuttle/internal/jobs"
	"shuttle/internal/logging"
	"shuttle/internal/metrics"
	"shuttle/internal/services"
)

const maxSubmitBody = 64 << 10

// JobService is the job manager surface the façade needs.
type JobService interface {
	Submit(ctx context.Context, sourceURL string) (string, error)
	Status(id string) (jobs.View, error)
	List() []jobs.View
	Counts() jobs.Counts
}

// ArtifactReader opens finalized artifacts.
type ArtifactReader interface {
	Open(id string) (*os.File, artifact.Info, error)
	Count() (int, error)
}

// Options configures the façade.
type Options struct {
	Jobs    JobService
	Store   ArtifactReader
	BaseURL string
	// Token enables bearer authentication on every job route.
	Token string
	// SubmitRate is the sustained submissions per second; zero disables
	// limiting.
	SubmitRate  float64
	SubmitBurst int

	Metrics        metrics.HTTPMetrics
	MetricsHandler http.Handler
	Logger         *slog.Logger

	// DiskFree and Dependencies feed /health; both are optional.
	DiskFree     func() (uint64, error)
	Dependencies func() []deps.Status
	Started      time.Time
	Clock        func() time.Time
}

type server struct {
	jobs         JobService
	store        ArtifactReader
	baseURL      string
	limiter      *rate.Limiter
	logger       *slog.Logger
	diskFree     func() (uint64, error)
	dependencies func() []deps.Status
	started      time.Time
	now          func() time.Time
}

// NewHandler builds the HTTP handler for the façade.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Jobs == nil || opts.Store == nil {
		return nil, errors.New("api handler requires a job service and an artifact store")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	started := opts.Started
	if started.IsZero() {
		started = now()
	}
	var recorder metrics.HTTPMetrics = metrics.Noop{}
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	logger := logging.NewComponentLogger(opts.Logger, "api")

	s := &server{
		jobs:         opts.Jobs,
		store:        opts.Store,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		logger:       logger,
		diskFree:     opts.DiskFree,
		dependencies: opts.Dependencies,
		started:      started,
		now:          now,
	}
	if opts.SubmitRate > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), burst)
	}

	auth := func(h http.HandlerFunc) http.HandlerFunc { return authMiddleware(opts.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", auth(s.handleSubmit))
	mux.HandleFunc("POST /download", auth(s.handleSubmit))
	mux.HandleFunc("GET /api/jobs", auth(s.handleList))
	mux.HandleFunc("GET /api/jobs/{id}", auth(s.handleStatus))
	mux.HandleFunc("GET /status/{id}", auth(s.handleStatus))
	mux.HandleFunc("GET /api/jobs/{id}/artifact", auth(s.handleArtifact))
	mux.HandleFunc("GET /artifact/{id}", auth(s.handleArtifact))
	mux.HandleFunc("GET /health", s.handleHealth)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return withRequestContext(withObservability(mux, recorder, logger), logger), nil
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "too many submissions; retry shortly")
		return
	}

	var req SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmitBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "URL required")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, http.StatusBadRequest, "URL required")
		return
	}

	id, err := s.jobs.Submit(r.Context(), req.URL)
	if err != nil {
		s.writeServiceError(w, r, err, false)
		return
	}

	statusURL := s.baseURL + StatusPath(id)
	w.Header().Set("Location", statusURL)
	s.writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:       id,
		State:       string(jobs.StatePending),
		StatusURL:   statusURL,
		DownloadURL: s.baseURL + ArtifactPath(id),
	})
}

func (s *server) handleList(w http.ResponseWriter, _ *http.Request) {
	views := s.jobs.List()
	out := make([]Job, 0, len(views))
	for _, view := range views {
		out = append(out, FromView(view, s.baseURL))
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: out})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	view, err := s.jobs.Status(id)
	if err != nil {
		s.writeServiceError(w, r, err, false)
		return
	}
	s.writeJSON(w, http.StatusOK, FromView(view, s.baseURL))
}

func (s *server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	view, err := s.jobs.Status(id)
	if err != nil {
		s.writeServiceError(w, r, err, true)
		return
	}
	if view.State != jobs.StateReady {
		s.writeJSON(w, http.StatusConflict, ErrorResponse{Error: "job not ready", State: string(view.State)})
		return
	}

	file, info, err := s.store.Open(id)
	if err != nil {
		// Status saw the file a moment ago; a sweep won the race.
		if errors.Is(err, services.ErrNotFound) {
			err = services.Wrap(services.ErrExpired, "api", "artifact", "artifact removed", err)
		}
		s.writeServiceError(w, r, err, true)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+artifact.Extension+`"`)
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, id+artifact.Extension, info.ModTime, file)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Jobs:   FromCounts(s.jobs.Counts()),
	}
	uptime := s.now().Sub(s.started)
	resp.Uptime = formatUptime(uptime)
	resp.UptimeSeconds = int64(uptime / time.Second)

	if n, err := s.store.Count(); err == nil {
		resp.Artifacts = n
	} else {
		resp.Status = "degraded"
		s.logger.Warn("artifact count failed", logging.Error(err))
	}
	if s.diskFree != nil {
		if free, err := s.diskFree(); err == nil {
			resp.DiskFreeBytes = free
		}
	}
	if s.dependencies != nil {
		resp.Dependencies = s.dependencies()
		if len(deps.MissingRequired(resp.Dependencies)) > 0 {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// pathID validates the {id} wildcard before anything else sees it.
func (s *server) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := jobid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return "", false
	}
	return id, true
}

// statusFor maps service error categories onto HTTP status codes. Expired
// jobs are 404 on status routes and 410 on artifact routes.
func statusFor(err error, artifactRoute bool) int {
	switch {
	case errors.Is(err, jobs.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	switch services.Category(err) {
	case services.ErrInvalidRequest:
		return http.StatusBadRequest
	case services.ErrNotFound:
		return http.StatusNotFound
	case services.ErrExpired:
		if artifactRoute {
			return http.StatusGone
		}
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, artifactRoute bool) {
	status := statusFor(err, artifactRoute)
	switch {
	case status == http.StatusServiceUnavailable:
		s.writeError(w, status, "service shutting down")
	case status >= http.StatusInternalServerError:
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		s.writeError(w, status, "internal server error")
	default:
		s.writeError(w, status, services.PublicMessage(err))
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
