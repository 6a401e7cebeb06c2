// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IntakeDatagramsTotal counts datagrams received per listener
	IntakeDatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lappd_intake_datagrams_total",
			Help: "Total number of datagrams received",
		},
		[]string{"listener", "kind"},
	)

	// IntakeDropsTotal counts datagrams or fragments dropped, by reason
	IntakeDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lappd_intake_drops_total",
			Help: "Total number of datagrams dropped during reconstruction",
		},
		[]string{"listener", "reason"},
	)

	// EventsCompletedTotal counts reconstructed events handed off
	EventsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lappd_events_completed_total",
			Help: "Total number of events reconstructed",
		},
		[]string{"listener"},
	)

	// EventsEvictedTotal counts incomplete events discarded to bound memory
	EventsEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lappd_events_evicted_total",
			Help: "Total number of incomplete events evicted from the tracker",
		},
		[]string{"listener"},
	)

	// EventsInFlight tracks events waiting for hits
	EventsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lappd_events_in_flight",
			Help: "Number of incomplete events tracked",
		},
		[]string{"listener"},
	)

	// OrphanFragments tracks hit fragments waiting for their event header
	OrphanFragments = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lappd_orphan_fragments",
			Help: "Number of hit fragments waiting for an event header",
		},
		[]string{"listener"},
	)

	// HandoffDropsTotal counts completed events lost because the queue was full
	HandoffDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lappd_handoff_drops_total",
			Help: "Total number of completed events dropped at hand-off",
		},
	)

	// EventLatencySeconds measures header-to-completion time
	EventLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lappd_event_latency_seconds",
			Help:    "Time from event registration to completion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// ReporterErrorsTotal counts reporter errors by name
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lappd_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter"},
	)

	// ReportedEventsTotal counts events delivered by each reporter
	ReportedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lappd_reported_events_total",
			Help: "Total number of events delivered by reporters",
		},
		[]string{"reporter"},
	)
)

// Drop reasons
const (
	ReasonFormat       = "format"
	ReasonDuplicate    = "duplicate_fragment"
	ReasonInconsistent = "inconsistent_hit"
	ReasonEmpty        = "empty_payload"
	ReasonDupHeader    = "duplicate_header"
	ReasonOrphanLimit  = "orphan_limit"
	ReasonOther        = "other"
)
