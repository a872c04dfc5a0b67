// Package metrics exposes Prometheus collectors for the ingest worker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	listingsTotal              *prometheus.CounterVec
	pagesScrapedTotal          prometheus.Counter
	recordMismatchTotal        prometheus.Counter
	sweptJobsTotal             prometheus.Counter
	sweepErrorsTotal           prometheus.Counter
	queueMessagesTotal         *prometheus.CounterVec
	queuePollErrorsTotal       *prometheus.CounterVec
	activeSessions             prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total number of scrape jobs handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_job_duration_seconds",
				Help:    "Histogram of scrape job wall-clock durations, labeled by final status.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_listings_total",
				Help: "Total number of listing upserts, labeled by result.",
			},
			[]string{"result"},
		)

		pagesScrapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_pages_scraped_total",
				Help: "Total number of result pages extracted.",
			},
		)

		recordMismatchTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_record_count_mismatch_total",
				Help: "Jobs whose extracted count differed from the advertised total.",
			},
		)

		sweptJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_swept_jobs_total",
				Help: "Total number of stuck jobs force-failed by the sweeper.",
			},
		)

		sweepErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_sweep_errors_total",
				Help: "Total number of sweeper runs that returned an error.",
			},
		)

		queueMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_queue_messages_total",
				Help: "Total queue messages handled, labeled by queue and result.",
			},
			[]string{"queue", "result"},
		)

		queuePollErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_queue_poll_errors_total",
				Help: "Total failed queue reads, labeled by queue.",
			},
			[]string{"queue"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_browser_sessions",
				Help: "Number of browser sessions currently open.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delay_seconds",
				Help:    "Time a job waited for its portal host rate limit.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"host"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a handled job. outcome is a final status or "skipped".
func ObserveJob(outcome string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		jobDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// ObserveListings adds upsert results for one job.
func ObserveListings(inserted, failed int) {
	Init()
	listingsTotal.WithLabelValues("inserted").Add(float64(inserted))
	listingsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObservePage counts one extracted result page.
func ObservePage() {
	Init()
	pagesScrapedTotal.Inc()
}

// ObserveRecordMismatch counts one advertised/extracted count mismatch.
func ObserveRecordMismatch() {
	Init()
	recordMismatchTotal.Inc()
}

// ObserveSweep records the outcome of one sweeper pass.
func ObserveSweep(swept int, err error) {
	Init()
	if err != nil {
		sweepErrorsTotal.Inc()
		return
	}
	sweptJobsTotal.Add(float64(swept))
}

// ObserveQueueMessage counts a handled message by result (ack, retry, ...).
func ObserveQueueMessage(queue, result string) {
	Init()
	queueMessagesTotal.WithLabelValues(queue, result).Inc()
}

// ObservePollError counts a failed read.
func ObservePollError(queue string) {
	Init()
	queuePollErrorsTotal.WithLabelValues(queue).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a portal host token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// IncActiveSessions increments the open browser session gauge.
func IncActiveSessions() {
	Init()
	activeSessions.Inc()
}

// DecActiveSessions decrements the open browser session gauge.
func DecActiveSessions() {
	Init()
	activeSessions.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
