// Package metrics holds the Prometheus instruments of meterstat.
//
// One Metrics value is created per process with its own registry. The batch
// command pushes it to a Pushgateway when a run ends; the serve command
// exposes it on /metrics. All methods are safe on a nil *Metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/derickschaefer/meterstat/internal/model"
)

const namespace = "meterstat"

// Metrics is the set of meterstat instruments.
type Metrics struct {
	Registry *prometheus.Registry

	ProjectsTotal   *prometheus.CounterVec
	ProjectDuration *prometheus.HistogramVec
	DaysProcessed   *prometheus.CounterVec
	FilesSkipped    prometheus.Counter
	LastRunSuccess  prometheus.Gauge
	LastRunTime     prometheus.Gauge

	StoreRequests *prometheus.CounterVec
	StoreLatency  *prometheus.HistogramVec

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New creates and registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		ProjectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recompute_projects_total",
				Help:      "Projects processed by the recompute scheduler, by terminal status",
			},
			[]string{"status"},
		),
		ProjectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recompute_project_duration_seconds",
				Help:      "Wall time spent on one project",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		DaysProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recompute_days_total",
				Help:      "Day profiles built, by class",
			},
			[]string{"class"},
		),
		FilesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_files_skipped_total",
				Help:      "Raw files skipped while building day profiles",
			},
		),
		LastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "recompute_last_run_success",
				Help:      "1 when the last batch run finished without project errors",
			},
		),
		LastRunTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "recompute_last_run_timestamp_seconds",
				Help:      "Unix time the last batch run finished",
			},
		),
		StoreRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objstore_requests_total",
				Help:      "Object store requests by operation and result",
			},
			[]string{"op", "result"},
		),
		StoreLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "objstore_request_duration_seconds",
				Help:      "Object store request latency including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP API latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	m.Registry.MustRegister(
		m.ProjectsTotal, m.ProjectDuration, m.DaysProcessed, m.FilesSkipped,
		m.LastRunSuccess, m.LastRunTime,
		m.StoreRequests, m.StoreLatency,
		m.HTTPRequests, m.HTTPLatency,
	)
	return m
}

// ObserveProject records one project's terminal status and duration.
func (m *Metrics) ObserveProject(status model.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.ProjectsTotal.WithLabelValues(string(status)).Inc()
	m.ProjectDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// AddDays counts day profiles built for a class ("weekday" or "weekend").
func (m *Metrics) AddDays(class string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DaysProcessed.WithLabelValues(class).Add(float64(n))
}

// AddSkippedFiles counts raw files that did not contribute to a profile.
func (m *Metrics) AddSkippedFiles(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesSkipped.Add(float64(n))
}

// ObserveRun records the end of a batch run.
func (m *Metrics) ObserveRun(r model.RunRecord) {
	if m == nil {
		return
	}
	ok := 1.0
	if r.Counts()[model.StatusError] > 0 {
		ok = 0
	}
	m.LastRunSuccess.Set(ok)
	m.LastRunTime.Set(float64(r.FinishedAt.Unix()))
}

// ObserveStore matches objstore.GuardOptions.Observe.
func (m *Metrics) ObserveStore(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreRequests.WithLabelValues(op, result).Inc()
	m.StoreLatency.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%d", code)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Push sends the registry to a Pushgateway under job, replacing any
// previous push of the same job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
