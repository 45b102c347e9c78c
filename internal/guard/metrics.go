package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decisions counts guard results.
// Labels:
//   - result: "authorized", "login", "no_access", "role_override", "no_permission"
var Decisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "viso_guard_decisions_total",
		Help: "Total number of access guard decisions by result",
	},
	[]string{"result"},
)
