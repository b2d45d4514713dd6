// Package metrics exposes Prometheus instrumentation for the online pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts classifier outcomes by the rule that decided them.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentinel_decisions_total",
			Help: "Total number of anomaly decisions by deciding rule",
		},
		[]string{"rule", "anomaly"},
	)

	ClassifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logsentinel_classify_duration_seconds",
			Help:    "Time spent classifying a single event",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10µs to ~160ms
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentinel_distance_cache_lookups_total",
			Help: "Distance cache lookups by result",
		},
		[]string{"result"}, // hit/miss
	)

	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentinel_events_appended_total",
			Help: "Total number of classified events appended to the event log",
		},
		[]string{"origin", "status"}, // origin: http/watcher/inject
	)

	Incidents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logsentinel_incidents",
			Help: "Incidents produced by the last aggregation run",
		},
		[]string{"origin", "severity", "suppressed"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentinel_notifications_total",
			Help: "Total number of incident notifications sent",
		},
		[]string{"status"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsentinel_ingest_rate_limited_total",
			Help: "Ingest requests rejected by the rate limiter",
		},
	)
)
