// Package metrics exposes Prometheus collectors for composition jobs.
//
// Exposed series:
//
//	slideshow_jobs_submitted_total           jobs that entered ingestion
//	slideshow_jobs_succeeded_total           jobs that reached SUCCEEDED
//	slideshow_jobs_failed_total{kind}        jobs that reached FAILED, by failure kind
//	slideshow_render_duration_seconds{result} engine wall-clock time per attempt
//	slideshow_render_retries_total           timeout retries
//	slideshow_renders_in_flight              engine processes currently running
//	slideshow_workspaces_active              acquired, unreleased workspaces
//
// All methods are safe on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slideshow"

// Collector holds the job metrics and the registry they are exposed from.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted  prometheus.Counter
	jobsSucceeded  prometheus.Counter
	jobsFailed     *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	renderRetries  prometheus.Counter
	rendersRunning prometheus.Gauge
}

// NewCollector creates a Collector backed by its own registry, which also
// carries the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of composition jobs submitted",
		}),
		jobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_succeeded_total",
			Help:      "Total number of composition jobs that produced an artifact",
		}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of failed composition jobs by failure kind",
		}, []string{"kind"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Codec engine run time in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"result"}),
		renderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_retries_total",
			Help:      "Total number of renders retried after a timeout",
		}),
		rendersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renders_in_flight",
			Help:      "Number of codec engine processes currently running",
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsSucceeded,
		c.jobsFailed,
		c.renderDuration,
		c.renderRetries,
		c.rendersRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// WatchWorkspaces registers a gauge reading the active workspace count from fn.
func (c *Collector) WatchWorkspaces(fn func() int64) {
	if c == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workspaces_active",
		Help:      "Number of acquired, unreleased job workspaces",
	}, func() float64 {
		return float64(fn())
	}))
}

// JobSubmitted records a job entering ingestion.
func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// JobSucceeded records a job reaching SUCCEEDED.
func (c *Collector) JobSucceeded() {
	if c == nil {
		return
	}
	c.jobsSucceeded.Inc()
}

// JobFailed records a job reaching FAILED with the given failure kind.
func (c *Collector) JobFailed(kind string) {
	if c == nil {
		return
	}
	c.jobsFailed.WithLabelValues(kind).Inc()
}

// RenderStarted marks an engine process as running. The returned func records
// the attempt's duration under result and must be called exactly once.
func (c *Collector) RenderStarted() func(result string) {
	if c == nil {
		return func(string) {}
	}
	c.rendersRunning.Inc()
	start := time.Now()
	return func(result string) {
		c.rendersRunning.Dec()
		c.renderDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
}

// RenderRetried records a timeout retry.
func (c *Collector) RenderRetried() {
	if c == nil {
		return
	}
	c.renderRetries.Inc()
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
