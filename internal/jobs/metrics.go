// Package jobmetrics instruments the authorization background jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	findings    *prometheus.GaugeVec
	warmed      prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer. A nil registerer shares one
// instance registered on the Prometheus default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = newMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return newMetrics(registerer)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	f := promauto.With(registerer)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alcaldia_jobs_total",
			Help: "Job executions by task type and status.",
		}, []string{"job", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alcaldia_job_duration_seconds",
			Help:    "Job execution time in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
		}, []string{"job"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alcaldia_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run of each job.",
		}, []string{"job"}),
		findings: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alcaldia_authz_integrity_findings",
			Help: "Grant and assignment rows ignored by permission resolution, by kind.",
		}, []string{"kind"}),
		warmed: f.NewCounter(prometheus.CounterOpts{
			Name: "alcaldia_authz_cache_warmed_total",
			Help: "Users whose permission sets were precomputed by the warmup job.",
		}),
	}
}

// Run measures one execution of a job.
type Run struct {
	metrics *Metrics
	job     string
	started time.Time
}

// Track starts measuring a run of job.
func (m *Metrics) Track(job string) *Run {
	return &Run{metrics: m, job: job, started: time.Now()}
}

// End records the outcome of the run and returns err unchanged.
func (r *Run) End(err error) error {
	if r == nil || r.metrics == nil {
		return err
	}
	m := r.metrics
	m.duration.WithLabelValues(r.job).Observe(time.Since(r.started).Seconds())
	if err != nil {
		m.runs.WithLabelValues(r.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(r.job, "success").Inc()
	m.lastSuccess.WithLabelValues(r.job).SetToCurrentTime()
	return nil
}

// SetIntegrityFindings records the latest count of ignored rows of one kind.
func (m *Metrics) SetIntegrityFindings(kind string, count int64) {
	if m != nil {
		m.findings.WithLabelValues(kind).Set(float64(count))
	}
}

// AddWarmed counts users whose permission sets were precomputed.
func (m *Metrics) AddWarmed(count int) {
	if m != nil && count > 0 {
		m.warmed.Add(float64(count))
	}
}
