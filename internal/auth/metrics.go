package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionSyncTotal counts session synchronizer outcomes.
	// Labels:
	//   - outcome: "no_cookies", "no_config", "ok", "cleared", "error",
	//     "verified" (skipped after the edge gate)
	SessionSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viso_session_sync_total",
			Help: "Total number of session synchronizer runs by outcome",
		},
		[]string{"outcome"},
	)

	// EdgeGateDecisions counts edge gate decisions.
	// Labels:
	//   - status: "no-cookies", "no-config", "auth-error", "no-user", "ok"
	EdgeGateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viso_edge_gate_decisions_total",
			Help: "Total number of edge gate decisions by status",
		},
		[]string{"status"},
	)

	// ProviderRequestDuration measures identity provider and REST latency.
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viso_provider_request_duration_seconds",
			Help:    "Duration of identity provider and REST requests in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "outcome"},
	)
)
