package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/kashier-bridge/internal/events"
)

// Environment names accepted by the processor.
const (
	EnvironmentTest = "test"
	EnvironmentLive = "live"
)

// GatewaySettings carries the merchant credentials for the hosted payment page.
type GatewaySettings struct {
	MerchantID    string `validate:"omitempty,max=64"`
	Environment   string `validate:"omitempty,oneof=test live"`
	TestAPIKey    string
	LiveAPIKey    string
	TestSecretKey string
	LiveSecretKey string
}

// IsTest reports whether the test credential pair is active.
func (s GatewaySettings) IsTest() bool {
	return strings.EqualFold(strings.TrimSpace(s.Environment), EnvironmentTest)
}

// Mode returns the value sent as the processor "mode" parameter.
func (s GatewaySettings) Mode() string {
	if s.IsTest() {
		return EnvironmentTest
	}
	return EnvironmentLive
}

// ActiveAPIKey returns the API key for the current environment.
func (s GatewaySettings) ActiveAPIKey() string {
	if s.IsTest() {
		return strings.TrimSpace(s.TestAPIKey)
	}
	return strings.TrimSpace(s.LiveAPIKey)
}

// ActiveSecretKey returns the secret key for the current environment. The
// processor signature only uses the API key; the secret key is still required
// for the gateway to count as configured.
func (s GatewaySettings) ActiveSecretKey() string {
	if s.IsTest() {
		return strings.TrimSpace(s.TestSecretKey)
	}
	return strings.TrimSpace(s.LiveSecretKey)
}

// Configured reports whether merchant id and the active key pair are present.
func (s GatewaySettings) Configured() bool {
	return strings.TrimSpace(s.MerchantID) != "" && s.ActiveAPIKey() != "" && s.ActiveSecretKey() != ""
}

// OrderRef identifies the local order a redirect is built for.
type OrderRef struct {
	ID            int64
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerName  string
}

// Status is the normalised payment status produced by the reconciler.
type Status string

// StatusPaid is the only status the reconciler settles on. An outcome that
// did not settle the order carries no status.
const StatusPaid Status = "paid"

// Outcome is the result of reconciling a single notification.
type Outcome struct {
	OrderID       int64  `json:"orderId"`
	Status        Status `json:"status,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
}

// Empty reports whether no order was matched.
func (o Outcome) Empty() bool { return o.OrderID == 0 }

// SettingsProvider supplies the gateway credentials.
type SettingsProvider interface {
	Settings(ctx context.Context) (GatewaySettings, error)
}

// OrderStore is the slice of the host order storage the bridge needs. Writes
// are expected to be idempotent.
type OrderStore interface {
	OrderExists(ctx context.Context, id int64) (bool, error)
	UpdateOrderTransactionID(ctx context.Context, id int64, transactionID string) (bool, error)
	SetOrderMeta(ctx context.Context, id int64, key, value string) error
	UpdatePaymentStatus(ctx context.Context, id int64, status string) error
}

// OrderSource loads the stored order a checkout is priced from. A missing
// order is reported as ErrOrderNotFound.
type OrderSource interface {
	OrderRef(ctx context.Context, id int64) (OrderRef, error)
}

// EventEmitter publishes domain events for downstream consumers such as enrollment.
type EventEmitter interface {
	Emit(ctx context.Context, topic string, aggregateID int64, payload any) (events.Event, error)
}
