package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/kashier-bridge/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("kashier", []float64{10, 1}, registry)
	router := chi.NewRouter()
	router.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	router.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, target := range []string{"/orders/1", "/orders/2", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/orders/{id}", "204")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("kashier", nil, registry)
	second := obs.NewHTTPMetrics("kashier", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5}, obs.ParseBucketsCSV(" 5, x, 10.5, -1, 0"))
	require.Empty(t, obs.ParseBucketsCSV(""))
}

func TestDomainMetricsRegistered(t *testing.T) {
	obs.MustRegisterDomainMetrics("kashier_test", prometheus.NewRegistry())
	require.NotNil(t, obs.PaymentRedirectTotal)
	require.NotNil(t, obs.PaymentWebhookTotal)
	require.NotNil(t, obs.EnrollmentTaskTotal)

	obs.PaymentWebhookTotal.WithLabelValues("kashier_card", "callback", "paid").Inc()
	require.GreaterOrEqual(t, testutil.ToFloat64(obs.PaymentWebhookTotal.WithLabelValues("kashier_card", "callback", "paid")), 1.0)
}

func TestTracingNamesSpanAfterRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	router := chi.NewRouter()
	router.Use(obs.Tracing)
	router.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/9", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "GET /orders/{id}", spans[0].Name())
}
