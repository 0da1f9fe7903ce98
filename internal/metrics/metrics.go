// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cronguard"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)
)

var (
	// PingsTotal counts accepted check-ins by kind.
	PingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pings_total",
			Help:      "Check-in pings received",
		},
		[]string{"kind"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "status_transitions_total",
			Help:      "Monitor status transitions",
		},
		[]string{"from", "to"},
	)

	IncidentsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "incidents_opened_total",
			Help:      "Incidents opened by type",
		},
		[]string{"type"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating all monitors in one tick",
			Buckets:   prometheus.DefBuckets,
		},
	)

	RemediationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "remediations_total",
			Help:      "Container remediation attempts",
		},
		[]string{"action", "result"},
	)
)

var (
	UptimeCalculations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uptime",
			Name:      "calculations_total",
			Help:      "Uptime reports computed by surface",
		},
		[]string{"surface"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uptime",
			Name:      "cache_hits_total",
			Help:      "Uptime report cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uptime",
			Name:      "cache_misses_total",
			Help:      "Uptime report cache misses",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Monitor events handed to the publisher",
		},
		[]string{"type", "result"},
	)
)
