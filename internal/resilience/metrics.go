package resilience

import "github.com/prometheus/client_golang/prometheus"

const subsystem = "outbound"

// Collectors for outbound calls, keyed by the breaker or client target.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "breaker_state",
		Help:      "Breaker state per target: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "breaker_transitions_total",
		Help:      "Breaker state changes per target.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "breaker_opened_total",
		Help:      "Times a target's breaker tripped open.",
	}, []string{"target"})

	OutboundAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "http_attempts_total",
		Help:      "Outbound HTTP attempts per target; result is ok, error, status or rejected.",
	}, []string{"target", "result"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, OutboundAttempts)
}
