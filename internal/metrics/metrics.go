// Package metrics exposes Prometheus instrumentation for jobs, retention
// sweeps and the HTTP facade. Components depend on the small interfaces here
// and receive Noop in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "shuttle"

// JobMetrics records job lifecycle events.
type JobMetrics interface {
	IncJobsSubmitted()
	IncJobsFinished(state string)
	ObserveJobDuration(state string, durationSeconds float64)
	AddArtifactBytes(size int64)
	SetJobsRunning(n int)
}

// SweepMetrics records retention sweeper outcomes.
type SweepMetrics interface {
	ObserveSweep(deleted, skipped, failed int, durationSeconds float64)
}

// HTTPMetrics captures request metrics for the API.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) IncJobsSubmitted()                              {}
func (Noop) IncJobsFinished(string)                         {}
func (Noop) ObserveJobDuration(string, float64)             {}
func (Noop) AddArtifactBytes(int64)                         {}
func (Noop) SetJobsRunning(int)                             {}
func (Noop) ObserveSweep(int, int, int, float64)            {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements the metrics interfaces backed by a private registry so
// several instances (tests, embedded daemons) never collide.
type Prom struct {
	registry       *prometheus.Registry
	jobsSubmitted  prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	artifactBytes  prometheus.Counter
	jobsRunning    prometheus.Gauge
	sweeps         prometheus.Counter
	sweepOutcomes  *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	httpRequests   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// NewProm constructs and registers all collectors, including the Go runtime
// and process collectors.
func NewProm() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the manager",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state, by state",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}, []string{"state"}),
		artifactBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes of finalized artifacts",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sweeps_total",
			Help:      "Retention sweeps executed",
		}),
		sweepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sweep_artifacts_total",
			Help:      "Stale artifacts considered by the sweeper, by outcome",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Retention sweep duration",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.jobsSubmitted, p.jobsFinished, p.jobDuration, p.artifactBytes, p.jobsRunning,
		p.sweeps, p.sweepOutcomes, p.sweepDuration,
		p.httpRequests, p.requestLatency,
	)
	return p
}

func (p *Prom) IncJobsSubmitted() { p.jobsSubmitted.Inc() }

func (p *Prom) IncJobsFinished(state string) { p.jobsFinished.WithLabelValues(state).Inc() }

func (p *Prom) ObserveJobDuration(state string, durationSeconds float64) {
	p.jobDuration.WithLabelValues(state).Observe(durationSeconds)
}

func (p *Prom) AddArtifactBytes(size int64) {
	if size > 0 {
		p.artifactBytes.Add(float64(size))
	}
}

func (p *Prom) SetJobsRunning(n int) { p.jobsRunning.Set(float64(n)) }

func (p *Prom) ObserveSweep(deleted, skipped, failed int, durationSeconds float64) {
	p.sweeps.Inc()
	p.sweepOutcomes.WithLabelValues("deleted").Add(float64(deleted))
	p.sweepOutcomes.WithLabelValues("skipped").Add(float64(skipped))
	p.sweepOutcomes.WithLabelValues("failed").Add(float64(failed))
	p.sweepDuration.Observe(durationSeconds)
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.httpRequests.WithLabelValues(method, route, status).Inc()
	p.requestLatency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry for tests and embedding.
func (p *Prom) Registry() *prometheus.Registry { return p.registry }
