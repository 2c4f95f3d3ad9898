package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shuttle/internal/api"
	"shuttle/internal/artifact"
	"shuttle/internal/deps"
	"shuttle/internal/jobid"
	"shuttle/internal/jobs"
	"shuttle/internal/logging"
	"shuttle/internal/sweeper"
	"shuttle/internal/testsupport"
)

type fixture struct {
	store  *artifact.Store
	mgr    *jobs.Manager
	server *httptest.Server

	mu     sync.Mutex
	offset time.Duration
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Now().Add(f.offset)
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.offset += d
	f.mu.Unlock()
}

func newFixture(t *testing.T, engine *testsupport.FakeEngine, mutate func(*api.Options)) *fixture {
	t.Helper()
	f := &fixture{}
	store, err := artifact.Open(t.TempDir())
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	mgr, err := jobs.NewManager(jobs.Options{
		Engine:  engine,
		Store:   store,
		Logger:  logging.NewNop(),
		Timeout: 5 * time.Second,
		Clock:   f.clock,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	opts := api.Options{
		Jobs:    mgr,
		Store:   store,
		BaseURL: "http://shuttle.test",
		Logger:  logging.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	handler, err := api.NewHandler(opts)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	f.store = store
	f.mgr = mgr
	f.server = httptest.NewServer(handler)
	t.Cleanup(func() {
		f.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (f *fixture) submit(t *testing.T, url string) api.SubmitResponse {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/jobs", `{"url":"`+url+`"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d", resp.StatusCode)
	}
	return decode[api.SubmitResponse](t, resp)
}

func (f *fixture) wait(t *testing.T, id string) jobs.View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	view, err := f.mgr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return view
}

func TestEndToEndSubmitPollDownloadExpire(t *testing.T) {
	engine := testsupport.NewFakeEngine()
	f := newFixture(t, engine, nil)

	ack := f.submit(t, "https://example.com/watch?v=abc12345678")
	if !jobid.Valid(ack.JobID) {
		t.Fatalf("unexpected job id %q", ack.JobID)
	}
	if ack.State != "pending" {
		t.Fatalf("unexpected initial state %q", ack.State)
	}
	if ack.StatusURL != "http://shuttle.test/api/jobs/"+ack.JobID {
		t.Fatalf("unexpected status url %q", ack.StatusURL)
	}
	if ack.DownloadURL != "http://shuttle.test/api/jobs/"+ack.JobID+"/artifact" {
		t.Fatalf("unexpected download url %q", ack.DownloadURL)
	}

	f.wait(t, ack.JobID)

	resp := f.do(t, http.MethodGet, api.StatusPath(ack.JobID), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}
	job := decode[api.Job](t, resp)
	if job.State != "ready" || job.SizeBytes <= 0 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.SourceURL != "https://example.com/watch?v=abc12345678" {
		t.Fatalf("unexpected source url %q", job.SourceURL)
	}

	resp = f.do(t, http.MethodGet, api.ArtifactPath(ack.JobID), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("artifact: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if int64(len(data)) != job.SizeBytes {
		t.Fatalf("artifact length %d does not match reported size %d", len(data), job.SizeBytes)
	}
	if !bytes.Equal(data, engine.Payload) {
		t.Fatal("artifact bytes differ from engine payload")
	}

	f.advance(2 * time.Hour)
	s, err := sweeper.New(sweeper.Options{
		Store:    f.store,
		Jobs:     f.mgr,
		Lifetime: time.Hour,
		Clock:    f.clock,
		Logger:   logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("sweeper.New: %v", err)
	}
	report, err := s.Sweep(context.Background())
	if err != nil || report.Deleted != 1 {
		t.Fatalf("sweep: %+v %v", report, err)
	}

	if resp := f.do(t, http.MethodGet, api.StatusPath(ack.JobID), "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after expiry: expected 404, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, api.ArtifactPath(ack.JobID), "", nil); resp.StatusCode != http.StatusGone {
		t.Fatalf("artifact after expiry: expected 410, got %d", resp.StatusCode)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), nil)

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "empty body", body: "", want: "URL required"},
		{name: "missing url", body: `{}`, want: "URL required"},
		{name: "blank url", body: `{"url":"  "}`, want: "URL required"},
		{name: "bad json", body: `{"url":`, want: "invalid JSON body"},
		{name: "relative url", body: `{"url":"watch?v=abc"}`, want: "invalid request"},
		{name: "unsupported scheme", body: `{"url":"file:///etc/passwd"}`, want: "invalid request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/jobs", tc.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			body := decode[api.ErrorResponse](t, resp)
			if !strings.HasPrefix(body.Error, tc.want) {
				t.Fatalf("unexpected error %q", body.Error)
			}
		})
	}
	if got := len(f.mgr.List()); got != 0 {
		t.Fatalf("rejected submissions created %d jobs", got)
	}
}

func TestDownloadAliasSubmits(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), nil)
	resp := f.do(t, http.MethodPost, "/download", `{"url":"https://youtu.be/dQw4w9WgXcQ"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	ack := decode[api.SubmitResponse](t, resp)
	view := f.wait(t, ack.JobID)
	if view.SourceURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("short link not canonicalised: %q", view.SourceURL)
	}

	if resp := f.do(t, http.MethodGet, "/status/"+ack.JobID, "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("status alias: expected 200, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/artifact/"+ack.JobID, "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("artifact alias: expected 200, got %d", resp.StatusCode)
	}
}

type spyJobs struct {
	api.JobService
	statusCalls atomic.Int32
}

func (s *spyJobs) Status(id string) (jobs.View, error) {
	s.statusCalls.Add(1)
	return s.JobService.Status(id)
}

type spyStore struct {
	api.ArtifactReader
	openCalls atomic.Int32
}

func (s *spyStore) Open(id string) (*os.File, artifact.Info, error) {
	s.openCalls.Add(1)
	return s.ArtifactReader.Open(id)
}

func TestMalformedIDsRejectedBeforeLookup(t *testing.T) {
	var (
		jobsSpy  *spyJobs
		storeSpy *spyStore
	)
	f := newFixture(t, testsupport.NewFakeEngine(), func(o *api.Options) {
		jobsSpy = &spyJobs{JobService: o.Jobs}
		storeSpy = &spyStore{ArtifactReader: o.Store}
		o.Jobs = jobsSpy
		o.Store = storeSpy
	})

	valid, _ := jobid.New()
	bad := []string{
		"not-a-uuid",
		strings.ToUpper(valid),
		"{" + valid + "}",
		"urn:uuid:" + valid,
		valid + "x",
		"abc..def",
		"....",
	}
	for _, id := range bad {
		for _, path := range []string{"/api/jobs/" + id, "/api/jobs/" + id + "/artifact", "/status/" + id, "/artifact/" + id} {
			resp := f.do(t, http.MethodGet, path, "", nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("GET %s: expected 400, got %d", path, resp.StatusCode)
			}
		}
	}
	if n := jobsSpy.statusCalls.Load(); n != 0 {
		t.Fatalf("job lookups happened for malformed ids: %d", n)
	}
	if n := storeSpy.openCalls.Load(); n != 0 {
		t.Fatalf("store opens happened for malformed ids: %d", n)
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), nil)
	id, _ := jobid.New()
	if resp := f.do(t, http.MethodGet, api.StatusPath(id), "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: expected 404, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, api.ArtifactPath(id), "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("artifact: expected 404, got %d", resp.StatusCode)
	}
}

func TestArtifactNotReadyIsConflict(t *testing.T) {
	engine := testsupport.NewFakeEngine()
	engine.Gate = make(chan struct{})
	engine.Started = make(chan string, 1)
	f := newFixture(t, engine, nil)

	ack := f.submit(t, "https://example.com/v/slow")
	<-engine.Started

	resp := f.do(t, http.MethodGet, api.StatusPath(ack.JobID), "", nil)
	job := decode[api.Job](t, resp)
	if job.State != "running" || job.DownloadURL != "" {
		t.Fatalf("unexpected running job %+v", job)
	}

	resp = f.do(t, http.MethodGet, api.ArtifactPath(ack.JobID), "", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if body := decode[api.ErrorResponse](t, resp); body.State != "running" {
		t.Fatalf("unexpected conflict body %+v", body)
	}
	close(engine.Gate)
	f.wait(t, ack.JobID)
}

func TestFailedJobReportsError(t *testing.T) {
	engine := testsupport.NewFakeEngine()
	engine.MetaErr = errors.New("ERROR: [generic] private video")
	f := newFixture(t, engine, nil)

	ack := f.submit(t, "https://example.com/v/private")
	f.wait(t, ack.JobID)

	job := decode[api.Job](t, f.do(t, http.MethodGet, api.StatusPath(ack.JobID), "", nil))
	if job.State != "failed" || job.Error == "" || job.SizeBytes != 0 {
		t.Fatalf("unexpected failed job %+v", job)
	}
	if resp := f.do(t, http.MethodGet, api.ArtifactPath(ack.JobID), "", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("artifact of failed job: expected 409, got %d", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), nil)
	first := f.submit(t, "https://example.com/v/1")
	second := f.submit(t, "https://example.com/v/2")
	f.wait(t, first.JobID)
	f.wait(t, second.JobID)

	list := decode[api.JobListResponse](t, f.do(t, http.MethodGet, "/api/jobs", "", nil))
	if len(list.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list.Jobs))
	}
	for _, job := range list.Jobs {
		if job.DownloadURL == "" {
			t.Fatalf("ready job missing download url: %+v", job)
		}
	}
}

func TestSubmitRateLimit(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), func(o *api.Options) {
		o.SubmitRate = 0.001
		o.SubmitBurst = 1
	})
	f.submit(t, "https://example.com/v/1")
	resp := f.do(t, http.MethodPost, "/api/jobs", `{"url":"https://example.com/v/2"}`, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), func(o *api.Options) {
		o.Token = "s3cret"
	})

	body := `{"url":"https://example.com/v/1"}`
	if resp := f.do(t, http.MethodPost, "/api/jobs", body, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/jobs", body, map[string]string{"Authorization": "Bearer nope"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodPost, "/api/jobs", body, map[string]string{"Authorization": "Bearer s3cret"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("valid token: expected 202, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/health", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", resp.StatusCode)
	}
}

func TestHealthReportsCounts(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), func(o *api.Options) {
		o.DiskFree = func() (uint64, error) { return 4096, nil }
		o.Dependencies = func() []deps.Status {
			return []deps.Status{{Name: "yt-dlp", Available: false}}
		}
	})
	ack := f.submit(t, "https://example.com/v/1")
	f.wait(t, ack.JobID)

	resp := f.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	health := decode[api.HealthResponse](t, resp)
	if health.Artifacts != 1 || health.Jobs.Ready != 1 || health.Jobs.Total != 1 {
		t.Fatalf("unexpected counts %+v", health)
	}
	if health.DiskFreeBytes != 4096 {
		t.Fatalf("unexpected disk free %d", health.DiskFreeBytes)
	}
	if health.Status != "degraded" {
		t.Fatalf("missing required dependency should degrade status, got %q", health.Status)
	}
}

func TestShuttingDownReturns503(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	resp := f.do(t, http.MethodPost, "/api/jobs", `{"url":"https://example.com/v/1"}`, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), nil)
	resp := f.do(t, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "abc-123"})
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	resp = f.do(t, http.MethodGet, "/health", "", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, testsupport.NewFakeEngine(), nil)
	if resp := f.do(t, http.MethodDelete, "/api/jobs", "", nil); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
