// Package metrics exposes Prometheus collectors for the orchestration engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hbkim/storecrawl/internal/batch"
)

var (
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	outboxPublishedTotal       *prometheus.CounterVec
	recoveryRowsTotal          *prometheus.CounterVec
	crawlRequestsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storecrawl_tasks_total",
				Help: "Total number of tasks executed, labeled by type and outcome.",
			},
			[]string{"task_type", "outcome"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storecrawl_task_duration_seconds",
				Help:    "Histogram of task execution latencies, labeled by type.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"task_type"},
		)

		outboxPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storecrawl_outbox_published_total",
				Help: "Total outbox rows settled by the publisher, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recoveryRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storecrawl_recovery_rows_total",
				Help: "Total rows touched by the recovery sweeps, labeled by sweep and outcome.",
			},
			[]string{"sweep", "outcome"},
		)

		crawlRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storecrawl_crawl_requests_total",
				Help: "Total outbound crawl requests, labeled by status code.",
			},
			[]string{"code"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storecrawl_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one task execution.
func ObserveTask(taskType, outcome string, duration time.Duration) {
	tasksTotal.WithLabelValues(taskType, outcome).Inc()
	taskDurationSeconds.WithLabelValues(taskType).Observe(duration.Seconds())
}

// ObserveOutboxPass records one publisher pass.
func ObserveOutboxPass(res batch.Result) {
	outboxPublishedTotal.WithLabelValues("succeeded").Add(float64(res.Succeeded))
	outboxPublishedTotal.WithLabelValues("failed").Add(float64(res.Failed))
}

// ObserveRecoveryPass records one recovery sweep pass.
func ObserveRecoveryPass(sweep string, res batch.Result) {
	recoveryRowsTotal.WithLabelValues(sweep, "succeeded").Add(float64(res.Succeeded))
	recoveryRowsTotal.WithLabelValues(sweep, "failed").Add(float64(res.Failed))
}

// ObserveCrawlRequest increments the outbound request counter.
func ObserveCrawlRequest(code int) {
	crawlRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
