// Package metrics exposes Prometheus collectors for the harvest service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal      *prometheus.CounterVec
	fetchRetriesTotal      *prometheus.CounterVec
	rateLimitDelaySeconds  *prometheus.HistogramVec
	runsCompletedTotal     *prometheus.CounterVec
	itemsCreatedTotal      prometheus.Counter
	duplicateRecordsTotal  prometheus.Counter
	activeRuns             prometheus.Gauge
	robotsDeniedTotal      *prometheus.CounterVec
	scheduledTriggersTotal prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_pages_fetched_total",
				Help: "Pages fetched, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)
		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_fetch_retries_total",
				Help: "Fetch retry attempts, labeled by domain.",
			},
			[]string{"domain"},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webharvest_rate_limit_delay_seconds",
				Help:    "Delay introduced by the per-domain rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"domain"},
		)
		runsCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_runs_completed_total",
				Help: "Runs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)
		itemsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_items_created_total",
				Help: "Deduplicated items persisted.",
			},
		)
		duplicateRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_duplicate_records_total",
				Help: "Records dropped as duplicates within their job scope.",
			},
		)
		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webharvest_active_runs",
				Help: "Runs currently executing.",
			},
		)
		robotsDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_robots_denied_total",
				Help: "Fetches denied by robots.txt, labeled by domain.",
			},
			[]string{"domain"},
		)
		scheduledTriggersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_scheduled_triggers_total",
				Help: "Runs triggered by the schedule sweeper.",
			},
		)
	})
}

// ObservePageFetched records the terminal outcome of one page fetch.
func ObservePageFetched(domain, outcome string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(domain, outcome).Inc()
	}
}

// ObserveFetchRetry counts one retry attempt against a domain.
func ObserveFetchRetry(domain string) {
	if fetchRetriesTotal != nil {
		fetchRetriesTotal.WithLabelValues(domain).Inc()
	}
}

// ObserveRateLimitDelay records time spent waiting on the limiter.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.WithLabelValues(domain).Observe(d.Seconds())
	}
}

// ObserveRunCompleted counts a finished run by terminal status.
func ObserveRunCompleted(status string) {
	if runsCompletedTotal != nil {
		runsCompletedTotal.WithLabelValues(status).Inc()
	}
}

// AddItemsCreated counts persisted items.
func AddItemsCreated(n int) {
	if itemsCreatedTotal != nil && n > 0 {
		itemsCreatedTotal.Add(float64(n))
	}
}

// AddDuplicates counts records dropped by deduplication.
func AddDuplicates(n int) {
	if duplicateRecordsTotal != nil && n > 0 {
		duplicateRecordsTotal.Add(float64(n))
	}
}

// RunStarted and RunFinished track the active-run gauge.
func RunStarted() {
	if activeRuns != nil {
		activeRuns.Inc()
	}
}

// RunFinished decrements the active-run gauge.
func RunFinished() {
	if activeRuns != nil {
		activeRuns.Dec()
	}
}

// ObserveRobotsDenied counts a robots.txt denial.
func ObserveRobotsDenied(domain string) {
	if robotsDeniedTotal != nil {
		robotsDeniedTotal.WithLabelValues(domain).Inc()
	}
}

// ObserveScheduledTrigger counts a sweep-triggered run.
func ObserveScheduledTrigger() {
	if scheduledTriggersTotal != nil {
		scheduledTriggersTotal.Inc()
	}
}
