package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"shuttle/internal/fetch"
	"shuttle/internal/jobid"
	"shuttle/internal/logging"
	"shuttle/internal/metrics"
	"shuttle/internal/services"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("job manager is shutting down")

const (
	defaultTimeout       = 15 * time.Minute
	defaultMaxConcurrent = 4
)

// Options wires a Manager to its collaborators. Engine and Store are
// required; everything else is optional.
type Options struct {
	Engine    fetch.Engine
	Store     ArtifactStore
	Processor Processor
	Journal   Journal
	Notifier  Notifier
	Metrics   metrics.JobMetrics
	Logger    *slog.Logger

	// Quality is the format directive handed to the engine.
	Quality string
	// Timeout bounds one job's work from metadata lookup to finalize.
	Timeout time.Duration
	// MaxDuration rejects longer media; zero disables the check.
	MaxDuration time.Duration
	// MaxConcurrent limits simultaneously running jobs; others stay pending.
	MaxConcurrent int
	Clock         func() time.Time
}

type record struct {
	id        string
	sourceURL string

	mu   sync.Mutex
	view View
	done chan struct{}
}

// Manager owns every job record and the goroutines that drive them.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*record

	engine      fetch.Engine
	store       ArtifactStore
	processor   Processor
	journal     Journal
	notifier    Notifier
	metrics     metrics.JobMetrics
	logger      *slog.Logger
	quality     string
	timeout     time.Duration
	maxDuration time.Duration
	now         func() time.Time

	slots   chan struct{}
	running atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewManager constructs a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Engine == nil || opts.Store == nil {
		return nil, errors.New("job manager requires an engine and an artifact store")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := opts.MaxConcurrent
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrent
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	var recorder metrics.JobMetrics = metrics.Noop{}
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		records:     make(map[string]*record),
		engine:      opts.Engine,
		store:       opts.Store,
		processor:   opts.Processor,
		journal:     opts.Journal,
		notifier:    opts.Notifier,
		metrics:     recorder,
		logger:      logging.NewComponentLogger(opts.Logger, "jobs"),
		quality:     opts.Quality,
		timeout:     timeout,
		maxDuration: opts.MaxDuration,
		now:         now,
		slots:       make(chan struct{}, concurrency),
		baseCtx:     ctx,
		cancel:      cancel,
	}, nil
}

// Submit validates and canonicalises sourceURL, records a pending job and
// starts its background task. It never waits on the network.
func (m *Manager) Submit(ctx context.Context, sourceURL string) (string, error) {
	if m.closed.Load() {
		return "", ErrShuttingDown
	}
	canonical, err := fetch.Canonicalize(sourceURL)
	if err != nil {
		return "", err
	}
	id, err := jobid.New()
	if err != nil {
		return "", services.Wrap(services.ErrStorageFailure, "jobs", "submit", "allocate id", err)
	}

	rec := &record{
		id:        id,
		sourceURL: canonical,
		view: View{
			ID:        id,
			State:     StatePending,
			SourceURL: canonical,
			CreatedAt: m.now(),
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	if _, exists := m.records[id]; exists {
		m.mu.Unlock()
		return "", services.Wrap(services.ErrStorageFailure, "jobs", "submit", "job id collision", nil)
	}
	m.records[id] = rec
	m.wg.Add(1)
	m.mu.Unlock()

	rec.mu.Lock()
	m.save(ctx, rec.view)
	rec.mu.Unlock()

	m.metrics.IncJobsSubmitted()
	m.logger.Info("job submitted",
		logging.JobID(id),
		logging.String("source_url", canonical),
		logging.EventType("job_submitted"),
	)

	go m.run(rec)
	return id, nil
}

func (m *Manager) run(rec *record) {
	defer m.wg.Done()
	ctx := services.WithComponent(services.WithJobID(m.baseCtx, rec.id), "jobs")

	var (
		size int64
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job task panicked",
				logging.JobID(rec.id),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.EventType("job_panic"),
			)
			_ = m.store.Discard(rec.id)
			size, err = 0, services.Wrap(services.ErrStorageFailure, "jobs", "run", fmt.Sprintf("panic: %v", r), nil)
		}
		m.finish(ctx, rec, size, err)
	}()

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		err = services.Wrap(services.ErrCancelled, "jobs", "queue", "service shutting down", ctx.Err())
		return
	}
	defer func() { <-m.slots }()

	m.markRunning(ctx, rec)

	taskCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	size, err = m.execute(taskCtx, rec)
}

func (m *Manager) execute(ctx context.Context, rec *record) (int64, error) {
	meta, err := m.engine.FetchMetadata(ctx, rec.sourceURL)
	if err != nil {
		return 0, m.classify(ctx, "metadata", err)
	}
	m.applyMetadata(rec, meta)

	if meta.IsLive {
		return 0, services.WithDetail(
			services.Wrap(services.ErrInvalidRequest, "jobs", "metadata", "live stream", nil),
			"live streams are not supported")
	}
	if m.maxDuration > 0 && meta.DurationSeconds > m.maxDuration.Seconds() {
		return 0, services.WithDetail(
			services.Wrap(services.ErrInvalidRequest, "jobs", "metadata", "media too long", nil),
			fmt.Sprintf("media is longer than the %s limit", m.maxDuration))
	}

	res, err := m.store.Reserve(rec.id)
	if err != nil {
		return 0, err
	}
	if err := m.engine.FetchMedia(ctx, rec.sourceURL, m.quality, res.Path); err != nil {
		m.discard(rec.id)
		return 0, m.classify(ctx, "download", err)
	}
	if m.processor != nil {
		if err := m.processor.Process(ctx, res.Path); err != nil {
			m.discard(rec.id)
			return 0, m.classify(ctx, "transcode", err)
		}
	}
	if ctx.Err() != nil {
		m.discard(rec.id)
		return 0, m.classify(ctx, "finalize", ctx.Err())
	}
	return m.store.Finalize(rec.id)
}

// classify tags err with the category the job should fail with. Deadline and
// shutdown take precedence over whatever the collaborator reported.
func (m *Manager) classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout):
		return services.Wrap(services.ErrTimeout, "jobs", op, fmt.Sprintf("exceeded %s", m.timeout), err)
	case m.baseCtx.Err() != nil && !errors.Is(err, services.ErrCancelled):
		return services.Wrap(services.ErrCancelled, "jobs", op, "service shutting down", err)
	case services.Category(err) == nil:
		return services.Wrap(services.ErrEngineFailure, "jobs", op, "", err)
	}
	return err
}

func (m *Manager) discard(id string) {
	if err := m.store.Discard(id); err != nil {
		logging.WarnWithContext(m.logger, "staging cleanup failed", "staging_cleanup_failed",
			logging.JobID(id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "partial download remains until the next sweep"),
		)
	}
}

func (m *Manager) applyMetadata(rec *record, meta fetch.Metadata) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.view.Title = meta.Title
	rec.view.DurationSeconds = meta.DurationSeconds
	rec.view.ThumbnailURL = meta.ThumbnailURL
}

func (m *Manager) markRunning(ctx context.Context, rec *record) {
	rec.mu.Lock()
	if rec.view.State != StatePending {
		rec.mu.Unlock()
		return
	}
	rec.view.State = StateRunning
	rec.view.StartedAt = m.now()
	m.save(ctx, rec.view)
	rec.mu.Unlock()

	m.metrics.SetJobsRunning(int(m.running.Add(1)))
	m.logger.Debug("job running", logging.JobID(rec.id), logging.String(logging.FieldJobState, string(StateRunning)))
}

// finish performs the single terminal transition and closes done.
func (m *Manager) finish(ctx context.Context, rec *record, size int64, err error) {
	rec.mu.Lock()
	if rec.view.State.Terminal() {
		rec.mu.Unlock()
		return
	}
	wasRunning := rec.view.State == StateRunning
	if err == nil && size <= 0 {
		err = services.Wrap(services.ErrEmptyArtifact, "jobs", "finish", "zero-size artifact", nil)
	}
	if err == nil {
		rec.view.State = StateReady
		rec.view.SizeBytes = size
	} else {
		rec.view.State = StateFailed
		rec.view.SizeBytes = 0
		rec.view.Error = services.PublicMessage(err)
	}
	rec.view.FinishedAt = m.now()
	m.save(ctx, rec.view)
	view := rec.view
	close(rec.done)
	rec.mu.Unlock()

	if wasRunning {
		m.metrics.SetJobsRunning(int(m.running.Add(-1)))
	}
	elapsed := view.FinishedAt.Sub(view.CreatedAt)
	m.metrics.IncJobsFinished(string(view.State))
	m.metrics.ObserveJobDuration(string(view.State), elapsed.Seconds())

	notifyCtx := context.WithoutCancel(ctx)
	if view.State == StateReady {
		m.metrics.AddArtifactBytes(view.SizeBytes)
		m.logger.Info("job ready",
			logging.JobID(view.ID),
			logging.String(logging.FieldJobState, string(view.State)),
			logging.Int64("size_bytes", view.SizeBytes),
			logging.Duration("duration", elapsed),
			logging.EventType("job_ready"),
		)
		if m.notifier != nil {
			m.notifier.JobReady(notifyCtx, view)
		}
		return
	}

	logging.WarnWithContext(m.logger, "job failed", "job_failed",
		logging.JobID(view.ID),
		logging.String(logging.FieldJobState, string(view.State)),
		logging.String("source_url", view.SourceURL),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, errorHint(err)),
		logging.String(logging.FieldImpact, "client receives a failed status"),
	)
	if m.notifier != nil {
		m.notifier.JobFailed(notifyCtx, view)
	}
}

func errorHint(err error) string {
	switch services.Category(err) {
	case services.ErrTimeout:
		return "raise fetch.timeout or check network throughput"
	case services.ErrEngineFailure:
		return "run yt-dlp manually against the source URL; update yt-dlp if extraction broke"
	case services.ErrStorageFailure:
		return "check paths.store_dir permissions and free space"
	case services.ErrInvalidRequest:
		return "the source was rejected by policy; no action needed"
	case services.ErrCancelled:
		return "job interrupted by shutdown; resubmit"
	default:
		return "check logs for details"
	}
}

// save persists view; callers hold the record lock so saves for one job are
// ordered. Journal failures are logged, never fatal.
func (m *Manager) save(ctx context.Context, view View) {
	if m.journal == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.journal.Save(context.WithoutCancel(ctx), view); err != nil {
		logging.WarnWithContext(m.logger, "job journal write failed", "journal_write_failed",
			logging.JobID(view.ID),
			logging.String(logging.FieldJobState, string(view.State)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job state may be stale after a restart"),
		)
	}
}

func (m *Manager) lookup(id string) *record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id]
}

func notFound() error {
	return services.Wrap(services.ErrNotFound, "jobs", "lookup", "unknown job", nil)
}

func expired() error {
	return services.Wrap(services.ErrExpired, "jobs", "lookup", "artifact expired", nil)
}

// Status returns a snapshot of the job. A ready job whose artifact has
// disappeared is converted to an expired tombstone before returning.
func (m *Manager) Status(id string) (View, error) {
	rec := m.lookup(id)
	if rec == nil {
		return View{}, notFound()
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.view.Expired() {
		return rec.view, expired()
	}
	if rec.view.State == StateReady && !m.store.Exists(id) {
		m.expireLocked(rec, "artifact missing at read time")
		return rec.view, expired()
	}
	return rec.view, nil
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (View, error) {
	done, ok := m.Done(id)
	if !ok {
		return View{}, notFound()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	return m.Status(id)
}

// Done returns a channel closed when the job reaches a terminal state. It is
// the non-blocking form of Wait for callers that select on several jobs.
func (m *Manager) Done(id string) (<-chan struct{}, bool) {
	rec := m.lookup(id)
	if rec == nil {
		return nil, false
	}
	return rec.done, true
}

// IsActive reports whether the job is pending or running.
func (m *Manager) IsActive(id string) bool {
	rec := m.lookup(id)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.view.State.Active()
}

// Reclaim runs del while holding the job's record lock, provided the job is
// not pending or running. A ready job becomes an expired tombstone once del
// succeeds. Unknown ids return ReclaimUnknown without calling del.
func (m *Manager) Reclaim(id string, del func() error) (ReclaimOutcome, error) {
	rec := m.lookup(id)
	if rec == nil {
		return ReclaimUnknown, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.view.State.Active() {
		return ReclaimSkipped, nil
	}
	if err := del(); err != nil {
		return ReclaimSkipped, err
	}
	if rec.view.State == StateReady && !rec.view.Expired() {
		m.expireLocked(rec, "retention lifetime elapsed")
	}
	return ReclaimDeleted, nil
}

func (m *Manager) expireLocked(rec *record, reason string) {
	rec.view.ExpiredAt = m.now()
	m.save(context.Background(), rec.view)
	m.logger.Info("job expired",
		logging.JobID(rec.id),
		logging.String("reason", reason),
		logging.EventType("job_expired"),
	)
}

// Prune forgets failed jobs finished before cutoff and tombstones expired
// before cutoff. It returns the number of records removed.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) int {
	var removed []string
	m.mu.Lock()
	for id, rec := range m.records {
		rec.mu.Lock()
		v := rec.view
		rec.mu.Unlock()
		stale := (v.Expired() && v.ExpiredAt.Before(cutoff)) ||
			(v.State == StateFailed && !v.FinishedAt.IsZero() && v.FinishedAt.Before(cutoff))
		if stale {
			delete(m.records, id)
			removed = append(removed, id)
		}
	}
	m.mu.Unlock()

	if m.journal != nil {
		for _, id := range removed {
			if err := m.journal.Delete(ctx, id); err != nil {
				m.logger.Debug("journal delete failed", logging.JobID(id), logging.Error(err))
			}
		}
	}
	return len(removed)
}

// List returns snapshots of all records, newest first.
func (m *Manager) List() []View {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	views := make([]View, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		views = append(views, rec.view)
		rec.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// Counts tallies records by state; expired tombstones are counted apart
// from ready jobs.
func (m *Manager) Counts() Counts {
	var c Counts
	for _, v := range m.List() {
		switch {
		case v.Expired():
			c.Expired++
		case v.State == StatePending:
			c.Pending++
		case v.State == StateRunning:
			c.Running++
		case v.State == StateReady:
			c.Ready++
		case v.State == StateFailed:
			c.Failed++
		}
	}
	return c
}

// Running returns the number of jobs currently executing.
func (m *Manager) Running() int {
	return int(m.running.Load())
}

// Restore loads journaled snapshots after a restart. Jobs that were pending
// or running when the previous process stopped are failed and their staging
// data discarded; ready jobs whose artifact is gone become tombstones.
func (m *Manager) Restore(ctx context.Context, views []View) int {
	restored := 0
	for _, v := range views {
		if !jobid.Valid(v.ID) || !v.State.Valid() {
			continue
		}
		if v.State.Active() {
			m.discard(v.ID)
			v.State = StateFailed
			v.SizeBytes = 0
			v.FinishedAt = m.now()
			v.Error = services.PublicMessage(services.Wrap(services.ErrCancelled, "jobs", "restore", "service restarted", nil))
			m.save(ctx, v)
		} else if v.State == StateReady && !v.Expired() && !m.store.Exists(v.ID) {
			v.ExpiredAt = m.now()
			m.save(ctx, v)
		}

		rec := &record{id: v.ID, sourceURL: v.SourceURL, view: v, done: make(chan struct{})}
		close(rec.done)

		m.mu.Lock()
		if _, exists := m.records[v.ID]; !exists {
			m.records[v.ID] = rec
			restored++
		}
		m.mu.Unlock()
	}
	if restored > 0 {
		m.logger.Info("jobs restored from journal", logging.Int("count", restored), logging.EventType("journal_restored"))
	}
	return restored
}

// Shutdown stops accepting work, cancels running jobs and waits for their
// goroutines to record a terminal state.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	first := !m.closed.Swap(true)
	m.mu.Unlock()
	if first {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
