// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiCallsTotal         *prometheus.CounterVec
	apiRetriesTotal       prometheus.Counter
	rateLimitWaitSeconds  prometheus.Histogram
	reposFetchedTotal     prometheus.Counter
	recordsPersistedTotal prometheus.Counter
	batchesFlushedTotal   prometheus.Counter
	batchFlushSeconds     prometheus.Histogram
	recordsTruncatedTotal prometheus.Counter

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		apiCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starcrawl_api_calls_total",
				Help: "Total GitHub search API calls, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		apiRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "starcrawl_api_retries_total",
				Help: "Total retried GitHub search API calls.",
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "starcrawl_rate_limit_wait_seconds",
				Help:    "Histogram of delays imposed by rate limiting and backoff.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		)

		reposFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "starcrawl_repos_fetched_total",
				Help: "Total repository records fetched from the search API.",
			},
		)

		recordsPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "starcrawl_records_persisted_total",
				Help: "Total repository records written to storage.",
			},
		)

		batchesFlushedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "starcrawl_batches_flushed_total",
				Help: "Total persisted batches.",
			},
		)

		batchFlushSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "starcrawl_batch_flush_seconds",
				Help:    "Histogram of batch write latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		recordsTruncatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "starcrawl_records_truncated_total",
				Help: "Records known to be unreachable because a minimum-width window exceeded the search cap.",
			},
		)
	})
}

// ObserveAPICall records the outcome ("ok", "error") of one search API call.
func ObserveAPICall(kind, outcome string) {
	if apiCallsTotal != nil {
		apiCallsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// ObserveRetry counts one retried API call.
func ObserveRetry() {
	if apiRetriesTotal != nil {
		apiRetriesTotal.Inc()
	}
}

// ObserveRateLimitWait records time spent waiting on backoff or rate limits.
func ObserveRateLimitWait(d time.Duration) {
	if rateLimitWaitSeconds != nil {
		rateLimitWaitSeconds.Observe(d.Seconds())
	}
}

// ObserveFetched counts repository records received from the API.
func ObserveFetched(n int) {
	if reposFetchedTotal != nil {
		reposFetchedTotal.Add(float64(n))
	}
}

// ObserveBatchFlush records one persisted batch of n records.
func ObserveBatchFlush(n int, d time.Duration) {
	if batchesFlushedTotal != nil {
		batchesFlushedTotal.Inc()
		recordsPersistedTotal.Add(float64(n))
		batchFlushSeconds.Observe(d.Seconds())
	}
}

// ObserveTruncated counts records dropped by unsplittable over-cap windows.
func ObserveTruncated(n int) {
	if recordsTruncatedTotal != nil {
		recordsTruncatedTotal.Add(float64(n))
	}
}
