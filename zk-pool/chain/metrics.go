package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Calls      *prometheus.CounterVec
	RateLimits *prometheus.CounterVec
	Retries    prometheus.Counter
	Cooling    prometheus.Gauge
}

// NewMetrics registers the executor collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkpool",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Outbound rpc calls by method and outcome.",
		}, []string{"method", "outcome"}),
		RateLimits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkpool",
			Subsystem: "rpc",
			Name:      "rate_limited_total",
			Help:      "Rate-limit responses by endpoint.",
		}, []string{"endpoint"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "zkpool",
			Subsystem: "rpc",
			Name:      "retries_total",
			Help:      "Transient-error retries on the same endpoint.",
		}),
		Cooling: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "zkpool",
			Subsystem: "rpc",
			Name:      "endpoints_cooling",
			Help:      "Endpoints currently in rate-limit cooldown.",
		}),
	}
}
