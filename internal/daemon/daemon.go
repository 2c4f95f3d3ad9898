package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"shuttle/internal/api"
	"shuttle/internal/artifact"
	"shuttle/internal/config"
	"shuttle/internal/deps"
	"shuttle/internal/fetch"
	"shuttle/internal/jobs"
	"shuttle/internal/journal"
	"shuttle/internal/logging"
	"shuttle/internal/metrics"
	"shuttle/internal/notifications"
	"shuttle/internal/preflight"
	"shuttle/internal/services"
	"shuttle/internal/sweeper"
	"shuttle/internal/transcode"
)

const jobDrainTimeout = 30 * time.Second

// Options overrides collaborators, mainly for tests. Zero values select the
// production implementations.
type Options struct {
	Engine fetch.Engine
	Runner services.CommandRunner
	Clock  func() time.Time
}

// Daemon owns the long-lived components of a serving process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	runner services.CommandRunner
	now    func() time.Time

	store    *artifact.Store
	journal  *journal.Store
	jobs     *jobs.Manager
	sweeper  *sweeper.Sweeper
	metrics  *metrics.Prom
	notifier notifications.Service
	api      *apiServer

	depsMu   sync.RWMutex
	depState []deps.Status

	started time.Time
	running atomic.Bool
	stopped atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool          `json:"running"`
	Address      string        `json:"address,omitempty"`
	StoreDir     string        `json:"store_dir"`
	LockFilePath string        `json:"lock_file"`
	JournalPath  string        `json:"journal_path,omitempty"`
	Jobs         jobs.Counts   `json:"jobs"`
	Artifacts    int           `json:"artifacts"`
	Dependencies []deps.Status `json:"dependencies,omitempty"`
	Uptime       time.Duration `json:"uptime"`
}

// New constructs a daemon with initialized dependencies. Nothing listens and
// no lock is held until Start.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	runner := opts.Runner
	if runner == nil {
		runner = services.ExecRunner{}
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		runner:   runner,
		now:      now,
		metrics:  metrics.NewProm(),
		notifier: notifications.NewService(cfg, logger),
	}

	store, err := artifact.Open(cfg.Paths.StoreDir, artifact.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	d.store = store

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			return nil, fmt.Errorf("open job journal: %w", err)
		}
		d.journal = j
	}

	engine := opts.Engine
	if engine == nil {
		engine = fetch.NewYTDLP(cfg.FetchBinary(), cfg.Fetch.Retries, logger, fetch.WithRunner(runner))
	}

	jobOpts := jobs.Options{
		Engine:        engine,
		Store:         store,
		Notifier:      d.notifier,
		Metrics:       d.metrics,
		Logger:        logger,
		Quality:       cfg.Fetch.Quality,
		Timeout:       cfg.FetchTimeout(),
		MaxDuration:   cfg.MaxDuration(),
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		Clock:         now,
	}
	if d.journal != nil {
		jobOpts.Journal = d.journal
	}
	if cfg.Transcode.Enabled {
		jobOpts.Processor = transcode.New(transcode.Options{
			FFmpegBinary:  cfg.FFmpegBinary(),
			FFprobeBinary: cfg.FFprobeBinary(),
			Verify:        cfg.Transcode.Verify,
			Runner:        runner,
		}, logger)
	}
	mgr, err := jobs.NewManager(jobOpts)
	if err != nil {
		d.closeJournal()
		return nil, fmt.Errorf("create job manager: %w", err)
	}
	d.jobs = mgr

	sw, err := sweeper.New(sweeper.Options{
		Store:    store,
		Jobs:     mgr,
		Lifetime: cfg.FileLifetime(),
		Interval: cfg.CleanupInterval(),
		Clock:    now,
		Logger:   logger,
		Metrics:  d.metrics,
	})
	if err != nil {
		d.closeJournal()
		return nil, fmt.Errorf("create sweeper: %w", err)
	}
	d.sweeper = sw

	handler, err := api.NewHandler(api.Options{
		Jobs:           mgr,
		Store:          store,
		BaseURL:        cfg.API.BaseURL,
		Token:          cfg.API.Token,
		SubmitRate:     cfg.API.SubmitRate,
		SubmitBurst:    cfg.API.SubmitBurst,
		Metrics:        d.metrics,
		MetricsHandler: d.metrics.Handler(),
		Logger:         logger,
		DiskFree:       func() (uint64, error) { return preflight.DiskFree(store.Root()) },
		Dependencies:   d.Dependencies,
		Clock:          now,
	})
	if err != nil {
		d.closeJournal()
		return nil, fmt.Errorf("create api handler: %w", err)
	}
	d.api = newAPIServer(cfg.API.Bind, handler, logger)
	return d, nil
}

// Start acquires the store lock, restores journalled jobs, starts the
// sweeper and begins serving HTTP.
func (d *Daemon) Start(ctx context.Context) error {
	if d.stopped.Load() {
		return errors.New("daemon already stopped")
	}
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}

	if err := d.store.Lock(); err != nil {
		d.running.Store(false)
		if errors.Is(err, artifact.ErrStoreLocked) {
			return fmt.Errorf("another shuttle instance is using %s: %w", d.store.Root(), err)
		}
		return err
	}

	d.started = d.now()
	d.refreshDependencies(ctx)
	d.restoreJournal(ctx)
	d.logPreflight(ctx)

	d.sweeper.Start(ctx)
	if err := d.api.start(); err != nil {
		d.sweeper.Stop()
		_ = d.store.Unlock()
		d.running.Store(false)
		return err
	}

	d.logger.Info("shuttle daemon started",
		logging.String("store_dir", d.store.Root()),
		logging.String("lock", d.store.LockPath()),
		logging.String("address", d.api.addr()),
		logging.Duration("file_lifetime", d.cfg.FileLifetime()),
		logging.EventType("daemon_started"),
	)
	return nil
}

// Stop drains the façade, stops the sweeper, cancels running jobs and
// releases the store lock. It is safe to call more than once.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.Load() || d.stopped.Swap(true) {
		return
	}

	d.api.stop(ctx)
	d.sweeper.Stop()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobDrainTimeout)
	defer cancel()
	if err := d.jobs.Shutdown(drainCtx); err != nil {
		logging.WarnWithContext(d.logger, "jobs did not finish before shutdown deadline", "job_drain_timeout",
			logging.Error(err),
			logging.Int("running", d.jobs.Running()),
			logging.String(logging.FieldImpact, "staging files may remain until the next sweep"),
		)
	}

	if err := d.store.Unlock(); err != nil {
		d.logger.Warn("failed to release store lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("shuttle daemon stopped", logging.EventType("daemon_stopped"))
}

// Close stops the daemon and releases the journal.
func (d *Daemon) Close() error {
	d.Stop(context.Background())
	return d.closeJournal()
}

func (d *Daemon) closeJournal() error {
	if d.journal == nil {
		return nil
	}
	return d.journal.Close()
}

// Addr returns the address the façade is listening on.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Jobs exposes the job manager for in-process callers.
func (d *Daemon) Jobs() *jobs.Manager {
	return d.jobs
}

// Sweep runs one retention pass immediately.
func (d *Daemon) Sweep(ctx context.Context) (sweeper.Report, error) {
	return d.sweeper.Sweep(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

// Dependencies returns the dependency snapshot taken at start.
func (d *Daemon) Dependencies() []deps.Status {
	d.depsMu.RLock()
	defer d.depsMu.RUnlock()
	return append([]deps.Status(nil), d.depState...)
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		Address:      d.api.addr(),
		StoreDir:     d.store.Root(),
		LockFilePath: d.store.LockPath(),
		Jobs:         d.jobs.Counts(),
		Dependencies: d.Dependencies(),
	}
	if d.journal != nil {
		status.JournalPath = d.journal.Path()
	}
	if n, err := d.store.Count(); err == nil {
		status.Artifacts = n
	}
	if status.Running {
		status.Uptime = d.now().Sub(d.started)
	}
	return status
}

func (d *Daemon) refreshDependencies(ctx context.Context) {
	reqs := deps.Requirements(d.cfg)
	statuses := deps.CheckBinaries(reqs)
	deps.ProbeVersions(ctx, d.runner, reqs, statuses)

	d.depsMu.Lock()
	d.depState = statuses
	d.depsMu.Unlock()

	for _, status := range statuses {
		d.logger.Info("dependency snapshot",
			logging.String("dependency", status.Name),
			logging.String("command", status.Command),
			logging.Bool("available", status.Available),
			logging.Bool("optional", status.Optional),
			logging.String("version", status.Version),
			logging.EventType("dependency_snapshot"),
		)
	}
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logging.WarnWithContext(d.logger, "required dependencies missing", "dependency_missing",
			logging.Any("missing", missing),
			logging.String(logging.FieldErrorHint, "install the listed tools or point the config at them"),
			logging.String(logging.FieldImpact, "submitted jobs will fail"),
		)
	}
}

func (d *Daemon) restoreJournal(ctx context.Context) {
	if d.journal == nil {
		return
	}
	views, err := d.journal.LoadAll(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "job journal unreadable; starting empty", "journal_load_failed",
			logging.String("path", d.journal.Path()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "jobs from the previous run are not visible"),
		)
		return
	}
	d.jobs.Restore(ctx, views)
}

func (d *Daemon) logPreflight(ctx context.Context) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
}
