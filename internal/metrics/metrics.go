// Package metrics is the single source of truth for the Prometheus metric
// names, labels and help strings exposed on /metrics. All collectors are
// registered with the default registry at init time via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trainops"

// LoginsTotal counts login attempts by outcome ("ok", "rejected").
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of login attempts, by outcome.",
	},
	[]string{"outcome"},
)

// TokenRotationsTotal counts renewable-credential rotations by outcome
// ("ok", "invalid"). A replayed token lands in "invalid".
var TokenRotationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_rotations_total",
		Help:      "Total number of refresh token rotations, by outcome.",
	},
	[]string{"outcome"},
)

// EnrollmentsTotal counts enrollment attempts by outcome
// ("ok", "full", "duplicate", "not_found", "error").
var EnrollmentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrollments_total",
		Help:      "Total number of enrollment attempts, by outcome.",
	},
	[]string{"outcome"},
)

// ConversionsTotal counts lead-to-deal conversions by outcome
// ("ok", "closed", "not_found", "error").
var ConversionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lead_conversions_total",
		Help:      "Total number of lead conversion attempts, by outcome.",
	},
	[]string{"outcome"},
)

// CacheRequestsTotal counts aggregate-cache lookups by result ("hit", "miss").
var CacheRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Total number of stats cache lookups, by result.",
	},
	[]string{"result"},
)
