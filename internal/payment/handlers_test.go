package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newCheckoutRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		Mount(r, h.Hooks()...)
	})
	return r
}

func checkout(router http.Handler, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	return rec
}

func TestListMethods(t *testing.T) {
	router := newCheckoutRouter(&Handler{Links: testLinks()})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payment-methods", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []methodResp `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, len(Methods()))
	first := resp.Data[0]
	require.Equal(t, "kashier_aman", first.Key)
	require.Equal(t, "Aman (Kashier)", first.Label)
	require.Equal(t, "https://api.example.com/api/v1/webhooks/kashier/kashier_aman", first.WebhookURL)
}

func newCheckoutHandler(orders *fakeOrders) *Handler {
	return &Handler{Builder: newTestBuilder(orders), Orders: orders, Links: testLinks()}
}

func TestCheckoutReturnsSignedRedirect(t *testing.T) {
	orders := newFakeOrders(482)
	router := newCheckoutRouter(newCheckoutHandler(orders))

	rec := checkout(router, "/api/v1/checkout/kashier/kashier_card", `{"orderId":482,"amount":"100.00","customerEmail":"jane@example.com","customerName":"Jane"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp checkoutResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "482-1700000000", resp.ProcessorOrderID)
	require.Equal(t, "kashier_card", resp.Method)
	u, err := url.Parse(resp.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "0b5b36d9e363894d8ceb4f953ad9ea9eae896f0ba8575a61ef7169dc6af5fe86", u.Query().Get("hash"))
}

func TestCheckoutPricesFromStoredOrder(t *testing.T) {
	orders := newFakeOrders(700).priced(700, "1000.00", "egp")
	router := newCheckoutRouter(newCheckoutHandler(orders))

	rec := checkout(router, "/api/v1/checkout/kashier/kashier_card", `{"orderId":700}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp checkoutResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	u, err := url.Parse(resp.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "1000", q.Get("amount"))
	require.Equal(t, "EGP", q.Get("currency"))
	require.Equal(t, Sign("MID-123-45", resp.ProcessorOrderID, "1000", "EGP", testAPIKey), q.Get("hash"))
}

func TestCheckoutRejectsTamperedAmount(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"lower amount", `{"orderId":700,"amount":"1"}`},
		{"numeric lower amount", `{"orderId":700,"amount":999.99}`},
		{"other currency", `{"orderId":700,"amount":"1000","currency":"USD"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := newFakeOrders(700).priced(700, "1000.00", "EGP")
			router := newCheckoutRouter(newCheckoutHandler(orders))

			rec := checkout(router, "/api/v1/checkout/kashier/kashier_card", tc.body)
			require.Equal(t, http.StatusConflict, rec.Code)
			require.Contains(t, rec.Body.String(), "AMOUNT_MISMATCH")
			require.Empty(t, orders.get(700).transactionID, "no processor order id is issued")
		})
	}
}

func TestCheckoutRedirectMode(t *testing.T) {
	router := newCheckoutRouter(newCheckoutHandler(newFakeOrders(482)))

	rec := checkout(router, "/api/v1/checkout/kashier/kashier_valu?redirect=1", `{"orderId":482,"amount":100}`)
	require.Equal(t, http.StatusFound, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://payments.kashier.io?"))
}

func TestCheckoutErrors(t *testing.T) {
	notConfigured := newCheckoutHandler(newFakeOrders(482))
	settings := testSettings()
	settings.settings.TestAPIKey = ""
	notConfigured.Builder.Settings = settings

	unreachable := newFakeOrders(482)
	unreachable.existsErr = errors.New("connection refused")

	cases := []struct {
		name    string
		handler *Handler
		target  string
		body    string
		status  int
		code    string
	}{
		{"unknown method", newCheckoutHandler(newFakeOrders(482)), "/api/v1/checkout/kashier/kashier_bitcoin", `{"orderId":482}`, http.StatusNotFound, "INVALID_PAYMENT_METHOD"},
		{"not configured", notConfigured, "/api/v1/checkout/kashier/kashier_card", `{"orderId":482}`, http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED"},
		{"no builder", &Handler{}, "/api/v1/checkout/kashier/kashier_card", `{"orderId":482}`, http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED"},
		{"no order source", &Handler{Builder: newTestBuilder(newFakeOrders(482))}, "/api/v1/checkout/kashier/kashier_card", `{"orderId":482}`, http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED"},
		{"bad json", newCheckoutHandler(newFakeOrders(482)), "/api/v1/checkout/kashier/kashier_card", `{`, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing order id", newCheckoutHandler(newFakeOrders(482)), "/api/v1/checkout/kashier/kashier_card", `{"amount":1}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad email", newCheckoutHandler(newFakeOrders(482)), "/api/v1/checkout/kashier/kashier_card", `{"orderId":482,"customerEmail":"x"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown order", newCheckoutHandler(newFakeOrders()), "/api/v1/checkout/kashier/kashier_card", `{"orderId":482}`, http.StatusNotFound, "ORDER_NOT_FOUND"},
		{"store down", &Handler{Builder: newTestBuilder(unreachable), Orders: unreachable}, "/api/v1/checkout/kashier/kashier_card", `{"orderId":482}`, http.StatusInternalServerError, "INTERNAL"},
		{"negative stored amount", newCheckoutHandler(newFakeOrders(482).priced(482, "-5", "")), "/api/v1/checkout/kashier/kashier_card", `{"orderId":482}`, http.StatusBadRequest, "INVALID_ORDER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := checkout(newCheckoutRouter(tc.handler), tc.target, tc.body)
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), tc.code)
		})
	}
}
