package order_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kashier-bridge/internal/order"
)

func newOrderRouter(store order.Store) http.Handler {
	r := chi.NewRouter()
	h := &order.Handler{Store: store}
	r.Route("/api/v1/orders", h.Routes)
	return r
}

func TestHandlerCreateAndGet(t *testing.T) {
	store := order.NewMemoryStore()
	router := newOrderRouter(store)

	body := `{"id":482,"amount":"99.50","currency":"egp","customerEmail":"jane@example.com","customerName":"Jane Doe"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/api/v1/orders/482", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/482", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, int64(482), got.ID)
	require.True(t, got.Amount.Equal(decimal.RequireFromString("99.5")))
	require.Equal(t, "EGP", got.Currency)
	require.Equal(t, order.PaymentPending, got.PaymentStatus)
}

func TestHandlerCreateValidation(t *testing.T) {
	router := newOrderRouter(order.NewMemoryStore())

	cases := map[string]string{
		"bad json":        `{"amount":`,
		"bad email":       `{"amount":"1","customerEmail":"nope"}`,
		"bad currency":    `{"amount":"1","currency":"EGPX"}`,
		"negative amount": `{"amount":"-1"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlerGetErrors(t *testing.T) {
	store := order.NewMemoryStore()
	_, err := store.Create(context.Background(), order.Order{Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	router := newOrderRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/99", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "ORDER_NOT_FOUND")
}
