// Package order is the local order record the payment bridge reconciles
// against, backed by PostgreSQL or memory.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no order has the requested id.
var ErrNotFound = errors.New("order: not found")

// Payment statuses recorded on an order.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Order is the host order as seen by the payment bridge.
type Order struct {
	ID            int64             `json:"id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	CustomerName  string            `json:"customerName,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	PaymentStatus string            `json:"paymentStatus"`
	PaidAt        *time.Time        `json:"paidAt,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Paid reports whether the order has a recorded successful payment.
func (o Order) Paid() bool { return o.PaymentStatus == PaymentPaid }

// Store is the full order storage contract. It satisfies payment.OrderStore.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id int64) (Order, error)
	OrderExists(ctx context.Context, id int64) (bool, error)
	UpdateOrderTransactionID(ctx context.Context, id int64, transactionID string) (bool, error)
	SetOrderMeta(ctx context.Context, id int64, key, value string) error
	UpdatePaymentStatus(ctx context.Context, id int64, status string) error
}
