package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentRedirectTotal counts hosted-page redirect builds by method and result.
	PaymentRedirectTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts processor notifications by method, channel and result.
	PaymentWebhookTotal *prometheus.CounterVec
	// EnrollmentTaskTotal counts enrollment task outcomes.
	EnrollmentTaskTotal *prometheus.CounterVec
	// EnrollmentForwardLatency records enrollment hook call latency in milliseconds.
	EnrollmentForwardLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific
// collectors once per process.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentRedirectTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_redirect_total",
			Help:      "Count of hosted payment page redirect builds by outcome.",
		}, []string{"method", "result"}))
		PaymentWebhookTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment notifications by outcome.",
		}, []string{"method", "channel", "result"}))
		EnrollmentTaskTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_task_total",
			Help:      "Count of enrollment task outcomes.",
		}, []string{"result"}))
		EnrollmentForwardLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrollment_forward_duration_ms",
			Help:      "Latency of enrollment hook calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"}))
	})
}
