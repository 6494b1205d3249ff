// Package metrics exposes Prometheus collectors for slot usage, bytes
// served, and search replies sent — ambient observability spec.md's
// non-goals don't exclude (they name features, not instrumentation).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the collectors registered against one registry.
type Metrics struct {
	SlotsInUse       prometheus.Gauge
	BytesServed      prometheus.Counter
	SearchReplies    prometheus.Counter
	HubReconnects    prometheus.Counter
	CCSessionsActive prometheus.Gauge
}

// New registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry across parallel test binaries.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ncdc",
			Name:      "slots_in_use",
			Help:      "Number of client-to-client sessions currently streaming a file.",
		}),
		BytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncdc",
			Name:      "bytes_served_total",
			Help:      "Total bytes streamed to peers via ADCGET file/tthl replies.",
		}),
		SearchReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncdc",
			Name:      "search_replies_total",
			Help:      "Total $SR / RES search reply records sent.",
		}),
		HubReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncdc",
			Name:      "hub_reconnects_total",
			Help:      "Total times the 30-second hub reconnect timer fired.",
		}),
		CCSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ncdc",
			Name:      "cc_sessions_active",
			Help:      "Number of client-to-client sessions currently registered.",
		}),
	}
	reg.MustRegister(m.SlotsInUse, m.BytesServed, m.SearchReplies, m.HubReconnects, m.CCSessionsActive)
	return m
}

// Noop returns a Metrics whose collectors are registered against a
// private registry, safe to use in tests that don't care about
// observability but need a non-nil *Metrics to construct a runtime.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
