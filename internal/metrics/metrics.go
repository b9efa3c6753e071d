// Package metrics holds the Prometheus collectors exported on the control API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsTotal counts platform notifications by kind and what the monitor did with them.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applimit_events_total",
			Help: "Foreground notifications received, by kind and result",
		},
		[]string{"kind", "result"},
	)

	// SessionsTotal counts tracker transitions.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applimit_sessions_total",
			Help: "Session tracker outcomes",
		},
		[]string{"outcome"},
	)

	EnforcementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "applimit_enforcements_total",
			Help: "Budget breaches enforced",
		},
	)

	BrowserDetectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "applimit_browser_detections_total",
			Help: "Restricted service detected in a browser",
		},
	)

	LaunchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "applimit_launch_failures_total",
			Help: "Companion launch attempts that failed",
		},
	)

	LedgerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applimit_ledger_errors_total",
			Help: "Ledger store failures, by operation",
		},
		[]string{"op"},
	)

	UsedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "applimit_used_seconds",
			Help: "Committed usage of the restricted app",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsTotal,
		SessionsTotal,
		EnforcementsTotal,
		BrowserDetectionsTotal,
		LaunchFailuresTotal,
		LedgerErrorsTotal,
		UsedSeconds,
	)
}
