package payment

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kashier-bridge/internal/events"
	"github.com/noah-isme/kashier-bridge/internal/obs"
)

const testAPIKey = "test-api-key"

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	os.Exit(m.Run())
}

type staticSettings struct {
	settings GatewaySettings
	err      error
}

func (s staticSettings) Settings(context.Context) (GatewaySettings, error) {
	return s.settings, s.err
}

func testSettings() staticSettings {
	return staticSettings{settings: GatewaySettings{
		MerchantID:    "MID-123-45",
		Environment:   EnvironmentTest,
		TestAPIKey:    testAPIKey,
		TestSecretKey: "test-secret",
		LiveAPIKey:    "live-api-key",
		LiveSecretKey: "live-secret",
	}}
}

type fakeOrder struct {
	amount        decimal.Decimal
	currency      string
	email         string
	transactionID string
	status        string
	meta          map[string]string
}

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[int64]*fakeOrder
	existsErr error
	writeErr  error
}

func newFakeOrders(ids ...int64) *fakeOrders {
	f := &fakeOrders{orders: make(map[int64]*fakeOrder)}
	for _, id := range ids {
		f.orders[id] = &fakeOrder{amount: decimal.NewFromInt(100), meta: map[string]string{}}
	}
	return f
}

// priced overrides the stored amount and currency of order id.
func (f *fakeOrders) priced(id int64, amount, currency string) *fakeOrders {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.amount = decimal.RequireFromString(amount)
	o.currency = currency
	return f
}

func (f *fakeOrders) OrderRef(_ context.Context, id int64) (OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return OrderRef{}, f.existsErr
	}
	o, ok := f.orders[id]
	if !ok {
		return OrderRef{}, ErrOrderNotFound
	}
	return OrderRef{ID: id, Amount: o.amount, Currency: o.currency, CustomerEmail: o.email}, nil
}

func (f *fakeOrders) OrderExists(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.orders[id]
	return ok, nil
}

func (f *fakeOrders) UpdateOrderTransactionID(_ context.Context, id int64, txn string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return false, f.writeErr
	}
	o, ok := f.orders[id]
	if !ok {
		return false, nil
	}
	o.transactionID = txn
	return true, nil
}

func (f *fakeOrders) SetOrderMeta(_ context.Context, id int64, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	o, ok := f.orders[id]
	if !ok {
		return errors.New("missing order")
	}
	o.meta[key] = value
	return nil
}

func (f *fakeOrders) UpdatePaymentStatus(_ context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	o, ok := f.orders[id]
	if !ok {
		return errors.New("missing order")
	}
	o.status = status
	return nil
}

func (f *fakeOrders) get(id int64) fakeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := *f.orders[id]
	meta := make(map[string]string, len(o.meta))
	for k, v := range o.meta {
		meta[k] = v
	}
	o.meta = meta
	return o
}

type emitted struct {
	topic       string
	aggregateID int64
	payload     events.PaymentPaid
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (f *fakeEmitter) Emit(_ context.Context, topic string, aggregateID int64, payload any) (events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return events.Event{}, f.err
	}
	paid, _ := payload.(events.PaymentPaid)
	f.events = append(f.events, emitted{topic: topic, aggregateID: aggregateID, payload: paid})
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

func testLinks() Links {
	return Links{SiteURL: "https://shop.example.com", PublicBaseURL: "https://api.example.com"}
}
