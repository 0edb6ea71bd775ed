// Package metrics exposes Prometheus counters for host activity. The
// registerer is injected so embedders can scope metrics to their own
// registry instead of the process default.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the host's metric instruments.
type Metrics struct {
	Activations       *prometheus.CounterVec
	UnitTerminations  *prometheus.CounterVec
	APICalls          *prometheus.CounterVec
	PermissionDenials *prometheus.CounterVec
}

// New creates and registers the host metrics on reg. Passing nil registers
// nothing, which keeps metric calls cheap no-ops in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridlet",
			Name:      "extension_activations_total",
			Help:      "Number of successful extension activations.",
		}, []string{"extension"}),
		UnitTerminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridlet",
			Name:      "unit_terminations_total",
			Help:      "Number of execution unit terminations, any cause.",
		}, []string{"extension"}),
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridlet",
			Name:      "api_calls_total",
			Help:      "Capability calls dispatched, by method and outcome.",
		}, []string{"extension", "method", "outcome"}),
		PermissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridlet",
			Name:      "permission_denials_total",
			Help:      "Permission requests refused by the user or by policy.",
		}, []string{"extension"}),
	}
	if reg != nil {
		reg.MustRegister(m.Activations, m.UnitTerminations, m.APICalls, m.PermissionDenials)
	}
	return m
}
