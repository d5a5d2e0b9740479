// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes used as the "result" label of FeedFetches.
const (
	ResultOK          = "ok"
	ResultNotModified = "not_modified"
	ResultCache       = "cache_fallback"
	ResultError       = "error"
)

var (
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcal",
		Name:      "feed_fetches_total",
		Help:      "Remote feed fetches by URL kind and result.",
	}, []string{"feed", "result"})

	SkippedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventcal",
		Name:      "feed_skipped_records_total",
		Help:      "Raw feed records dropped by the transformer.",
	})

	RemoteEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventcal",
		Name:      "remote_events",
		Help:      "Events in the current remote snapshot.",
	})

	Refetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcal",
		Name:      "refetches_total",
		Help:      "Store refetch attempts by outcome.",
	}, []string{"result"})

	PersistenceRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcal",
		Name:      "persistence_recoveries_total",
		Help:      "Corrupt persisted values replaced by defaults, by key.",
	}, []string{"key"})

	StatusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventcal",
		Name:      "status_subscribers",
		Help:      "Active status tick subscribers.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
