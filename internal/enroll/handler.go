package enroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kashier-bridge/internal/events"
	"github.com/noah-isme/kashier-bridge/internal/obs"
	"github.com/noah-isme/kashier-bridge/internal/order"
	"github.com/noah-isme/kashier-bridge/internal/payment"
	"github.com/noah-isme/kashier-bridge/internal/queue"
)

// MetaEnrolledAt marks an order whose enrollment was delivered.
const MetaEnrolledAt = "_enrollment_forwarded_at"

// Orders is the order access the worker needs.
type Orders interface {
	Get(ctx context.Context, id int64) (order.Order, error)
	SetOrderMeta(ctx context.Context, id int64, key, value string) error
}

// Locker is implemented by lock.Locker.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// Handler processes enrollment tasks.
type Handler struct {
	Orders    Orders
	Locker    Locker
	Forwarder Forwarder
	LockTTL   time.Duration
	Logger    *zerolog.Logger
	Now       func() time.Time
}

var nopLogger = zerolog.Nop()

// Handle is a queue.Worker handler. Only delivery failures are returned;
// tasks that can never succeed are logged and dropped.
func (h *Handler) Handle(ctx context.Context, task queue.Task) error {
	log := h.logger()
	var event events.Event
	var paid events.PaymentPaid
	if err := json.Unmarshal(task.Payload, &event); err != nil || json.Unmarshal(event.Payload, &paid) != nil || paid.OrderID <= 0 {
		log.Error().Err(err).Msg("enrollment task: invalid payload")
		count("invalid")
		return nil
	}

	run := func(ctx context.Context) error {
		result, err := h.enroll(ctx, paid)
		count(result)
		return err
	}
	if h.Locker == nil {
		return run(ctx)
	}
	return h.Locker.WithLock(ctx, "order:"+strconv.FormatInt(paid.OrderID, 10), h.LockTTL, run)
}

func (h *Handler) enroll(ctx context.Context, paid events.PaymentPaid) (string, error) {
	log := h.logger().With().Int64("order_id", paid.OrderID).Logger()
	if h.Orders == nil || h.Forwarder == nil {
		return "error", errors.New("enroll: handler not configured")
	}

	o, err := h.Orders.Get(ctx, paid.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		log.Warn().Msg("enrollment skipped: order not found")
		return "skipped", nil
	}
	if err != nil {
		return "error", fmt.Errorf("enroll: load order %d: %w", paid.OrderID, err)
	}

	method := paid.Method
	if method == "" {
		method = o.Meta[payment.MetaPaymentMethod]
	}
	if !payment.IsKashierMethod(method) {
		log.Info().Str("method", method).Msg("enrollment skipped: not a kashier payment")
		return "skipped", nil
	}
	if !o.Paid() {
		log.Warn().Str("payment_status", o.PaymentStatus).Msg("enrollment skipped: order not paid")
		return "skipped", nil
	}
	if o.Meta[MetaEnrolledAt] != "" {
		return "duplicate", nil
	}

	transactionID := paid.TransactionID
	if transactionID == "" {
		transactionID = o.TransactionID
	}
	kashierOrderID := paid.KashierOrderID
	if kashierOrderID == "" {
		kashierOrderID = o.Meta[payment.MetaKashierOrderID]
	}
	if err := h.Forwarder.Forward(ctx, Enrollment{
		OrderID:        o.ID,
		TransactionID:  transactionID,
		KashierOrderID: kashierOrderID,
		Method:         method,
		Amount:         o.Amount,
		Currency:       o.Currency,
		CustomerEmail:  o.CustomerEmail,
		CustomerName:   o.CustomerName,
		PaidAt:         o.PaidAt,
	}); err != nil {
		return "forward_failed", err
	}

	if err := h.Orders.SetOrderMeta(ctx, o.ID, MetaEnrolledAt, h.now().Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Msg("record enrollment marker")
	}
	log.Info().Str("method", method).Msg("enrollment forwarded")
	return "enrolled", nil
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *Handler) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return &nopLogger
}

func count(result string) {
	if obs.EnrollmentTaskTotal != nil {
		obs.EnrollmentTaskTotal.WithLabelValues(result).Inc()
	}
}
