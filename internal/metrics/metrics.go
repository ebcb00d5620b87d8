// Package metrics provides Prometheus metrics for the collector pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts feed fetches by outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nichefeed",
			Name:      "fetch_total",
			Help:      "Total number of feed fetches",
		},
		[]string{"status"},
	)

	// ItemsTotal counts classified items by category and priority.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nichefeed",
			Name:      "items_total",
			Help:      "Total number of new items classified",
		},
		[]string{"category", "priority"},
	)

	// ExcludedTotal counts items dropped by exclude keywords.
	ExcludedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nichefeed",
			Name:      "excluded_total",
			Help:      "Total number of items excluded by keyword rules",
		},
		[]string{"category"},
	)

	// PayloadsTotal counts webhook payloads by outcome.
	PayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nichefeed",
			Name:      "payloads_total",
			Help:      "Total number of webhook payloads sent",
		},
		[]string{"status"},
	)

	// ArticlesCommittedTotal counts articles durably marked as seen.
	ArticlesCommittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nichefeed",
			Name:      "articles_committed_total",
			Help:      "Total number of articles committed after delivery",
		},
	)

	// SummariesTotal counts summary attempts by outcome.
	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nichefeed",
			Name:      "summaries_total",
			Help:      "Total number of article summaries generated",
		},
		[]string{"status"},
	)

	// PassDuration measures full pipeline pass duration.
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nichefeed",
			Name:      "pass_duration_seconds",
			Help:      "Duration of pipeline passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RecordFetches records feed fetch outcomes for one pass.
func RecordFetches(status string, count int) {
	FetchTotal.WithLabelValues(status).Add(float64(count))
}

// RecordItem records one classified item.
func RecordItem(category, priority string) {
	ItemsTotal.WithLabelValues(category, priority).Inc()
}

// RecordExcluded records one excluded item.
func RecordExcluded(category string) {
	ExcludedTotal.WithLabelValues(category).Inc()
}

// RecordPayload records one payload send outcome.
func RecordPayload(status string) {
	PayloadsTotal.WithLabelValues(status).Inc()
}

// RecordCommitted records articles committed after a confirmed send.
func RecordCommitted(count int) {
	ArticlesCommittedTotal.Add(float64(count))
}

// RecordSummary records one summary attempt outcome.
func RecordSummary(status string) {
	SummariesTotal.WithLabelValues(status).Inc()
}

// RecordPass records the duration of one pipeline pass.
func RecordPass(seconds float64) {
	PassDuration.Observe(seconds)
}
