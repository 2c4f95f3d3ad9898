package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shuttle/internal/artifact"
	"shuttle/internal/jobs"
	"shuttle/internal/logging"
	"shuttle/internal/metrics"
)

// Store is the subset of the artifact store the sweeper uses.
type Store interface {
	List() ([]artifact.Entry, error)
	Delete(id string) error
	Discard(id string) error
}

// Jobs is the subset of the job manager the sweeper uses. A nil Jobs treats
// every entry as an orphan, which is what the offline sweep wants.
type Jobs interface {
	Reclaim(id string, del func() error) (jobs.ReclaimOutcome, error)
	IsActive(id string) bool
	Prune(ctx context.Context, cutoff time.Time) int
}

// Options configures a Sweeper.
type Options struct {
	Store    Store
	Jobs     Jobs
	Lifetime time.Duration
	Interval time.Duration
	Clock    func() time.Time
	Logger   *slog.Logger
	Metrics  metrics.SweepMetrics
	// DryRun reports what would be removed without touching anything.
	DryRun bool
}

// Report summarizes one sweep.
type Report struct {
	Scanned  int
	Deleted  int
	Skipped  int
	Failed   int
	Orphans  int
	Pruned   int
	Removed  []string
	Duration time.Duration
}

// Sweeper deletes expired artifacts.
type Sweeper struct {
	store    Store
	jobs     Jobs
	lifetime time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  metrics.SweepMetrics
	dryRun   bool

	mu      sync.Mutex
	sweepMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Sweeper.
func New(opts Options) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, errors.New("sweeper requires an artifact store")
	}
	if opts.Lifetime <= 0 {
		return nil, errors.New("sweeper lifetime must be positive")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	var recorder metrics.SweepMetrics = metrics.Noop{}
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	return &Sweeper{
		store:    opts.Store,
		jobs:     opts.Jobs,
		lifetime: opts.Lifetime,
		interval: interval,
		now:      now,
		logger:   logging.NewComponentLogger(opts.Logger, "sweeper"),
		metrics:  recorder,
		dryRun:   opts.DryRun,
	}, nil
}

// Sweep runs one retention pass. Individual deletion failures are logged and
// counted; only a failure to list the store is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	started := time.Now()
	now := s.now()
	cutoff := now.Add(-s.lifetime)

	entries, err := s.store.List()
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		if !entry.ModTime.Before(cutoff) {
			continue
		}
		s.reclaim(entry, &report)
	}

	if s.jobs != nil && !s.dryRun {
		report.Pruned = s.jobs.Prune(ctx, cutoff)
	}
	report.Duration = time.Since(started)
	s.metrics.ObserveSweep(report.Deleted, report.Skipped, report.Failed, report.Duration.Seconds())

	attrs := []logging.Attr{
		logging.Int("scanned", report.Scanned),
		logging.Int("deleted", report.Deleted),
		logging.Int("skipped", report.Skipped),
		logging.Int("failed", report.Failed),
		logging.Int("orphans", report.Orphans),
		logging.Int("pruned", report.Pruned),
		logging.Bool("dry_run", s.dryRun),
		logging.EventType("sweep_complete"),
	}
	if report.Deleted > 0 || report.Failed > 0 || report.Pruned > 0 {
		s.logger.Info("retention sweep complete", logging.Args(attrs...)...)
	} else {
		s.logger.Debug("retention sweep complete", logging.Args(attrs...)...)
	}
	return report, nil
}

func (s *Sweeper) reclaim(entry artifact.Entry, report *Report) {
	del := func() error { return s.store.Delete(entry.ID) }
	if entry.Staged {
		del = func() error { return s.store.Discard(entry.ID) }
	}
	if s.dryRun {
		if s.jobs != nil && s.jobs.IsActive(entry.ID) {
			report.Skipped++
			return
		}
		report.Deleted++
		report.Removed = append(report.Removed, entry.ID)
		return
	}

	// Staging left behind by a job that is no longer active is garbage;
	// it must not turn a ready job into a tombstone.
	if entry.Staged {
		if s.jobs != nil && s.jobs.IsActive(entry.ID) {
			report.Skipped++
			return
		}
		s.record(entry, report, del(), true)
		return
	}

	if s.jobs == nil {
		report.Orphans++
		s.record(entry, report, del(), false)
		return
	}
	outcome, err := s.jobs.Reclaim(entry.ID, del)
	switch outcome {
	case jobs.ReclaimUnknown:
		report.Orphans++
		s.record(entry, report, del(), false)
	case jobs.ReclaimSkipped:
		if err != nil {
			s.record(entry, report, err, false)
			return
		}
		report.Skipped++
		s.logger.Debug("artifact still owned by an active job", logging.JobID(entry.ID))
	case jobs.ReclaimDeleted:
		s.record(entry, report, nil, false)
	}
}

func (s *Sweeper) record(entry artifact.Entry, report *Report, err error, staged bool) {
	if err != nil {
		report.Failed++
		logging.WarnWithContext(s.logger, "artifact deletion failed", "sweep_delete_failed",
			logging.JobID(entry.ID),
			logging.Bool("staged", staged),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store directory permissions"),
			logging.String(logging.FieldImpact, "artifact is retried on the next sweep"),
		)
		return
	}
	report.Deleted++
	report.Removed = append(report.Removed, entry.ID)
	s.logger.Debug("artifact deleted",
		logging.JobID(entry.ID),
		logging.Bool("staged", staged),
		logging.Int64("size_bytes", entry.Size),
		logging.Duration("age", s.now().Sub(entry.ModTime)),
	)
}

// Start launches the periodic loop. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.loop(loopCtx)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		logging.WarnWithContext(s.logger, "retention sweep failed; will retry", "sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the store directory exists and is readable"),
		)
	}
}
