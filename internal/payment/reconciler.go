package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/kashier-bridge/internal/events"
	"github.com/noah-isme/kashier-bridge/internal/obs"
)

// MetaKashierOrderID is the order meta key holding the processor's own order id.
const MetaKashierOrderID = "_kashier_order_id"

const (
	eventPay      = "pay"
	statusSuccess = "SUCCESS"

	channelCallback = "callback"
	channelRedirect = "redirect"
)

// Reconciler applies processor notifications to local orders.
type Reconciler struct {
	Settings SettingsProvider
	Orders   OrderStore
	Events   EventEmitter
	Links    Links
	Logger   *zerolog.Logger
}

type callbackEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleCallback processes a server-to-server notification. The returned
// error only classifies why no payment was recorded; callers must still
// acknowledge the delivery.
func (r *Reconciler) HandleCallback(ctx context.Context, body []byte, signature string) (Outcome, error) {
	ctx, span := otel.Tracer("payment.Reconciler").Start(ctx, "Reconciler.HandleCallback")
	defer span.End()
	log := r.logger()

	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Error().Err(err).Msg("kashier callback: invalid json")
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	data, ok := decodeObject(env.Data)
	if !ok {
		log.Error().Msg("kashier callback: missing data object")
		return Outcome{}, ErrMalformedNotification
	}

	merchantOrderID, _ := fieldString(data["merchantOrderId"])
	orderID, err := r.resolveOrder(ctx, merchantOrderID)
	if err != nil {
		log.Error().Err(err).Str("merchant_order_id", merchantOrderID).Msg("kashier callback: order not found")
		return Outcome{}, err
	}
	span.SetAttributes(attribute.Int64("order.id", orderID))

	signature = strings.TrimSpace(signature)
	rawKeys := data["signatureKeys"]
	hasKeys := rawKeys != nil
	switch {
	case signature != "" && hasKeys:
		keys, ok := stringList(rawKeys)
		if !ok || !Verify(keys, data, signature, r.apiKey(ctx)) {
			span.SetAttributes(attribute.Bool("payment.signature.valid", false))
			log.Error().Int64("order_id", orderID).Msg("kashier callback: invalid signature")
			return Outcome{OrderID: orderID}, ErrSignatureInvalid
		}
		span.SetAttributes(attribute.Bool("payment.signature.valid", true))
	default:
		// Unsigned deliveries are still applied; surfaced for review.
		log.Warn().
			Int64("order_id", orderID).
			Bool("has_signature", signature != "").
			Bool("has_signature_keys", hasKeys).
			Msg("kashier callback: signature not verified")
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(normaliseLabel(MethodFromContext(ctx)), channelCallback, "unsigned").Inc()
		}
	}

	status, _ := fieldString(data["status"])
	if env.Event != eventPay || !strings.EqualFold(strings.TrimSpace(status), statusSuccess) {
		log.Info().
			Int64("order_id", orderID).
			Str("event", env.Event).
			Str("status", status).
			Msg("kashier callback: no terminal status")
		return Outcome{OrderID: orderID}, ErrNoTerminalStatus
	}

	transactionID, _ := fieldString(data["transactionId"])
	kashierOrderID, _ := fieldString(data["kashierOrderId"])
	r.markPaid(ctx, orderID, transactionID, channelCallback)
	if r.Orders != nil {
		if err := r.Orders.SetOrderMeta(ctx, orderID, MetaKashierOrderID, kashierOrderID); err != nil {
			log.Warn().Err(err).Int64("order_id", orderID).Msg("kashier callback: store kashier order id")
		}
	}
	r.emitPaid(ctx, orderID, transactionID, kashierOrderID, channelCallback)

	log.Info().Int64("order_id", orderID).Str("transaction_id", transactionID).Msg("payment successful")
	return Outcome{OrderID: orderID, Status: StatusPaid, TransactionID: transactionID}, nil
}

// HandleRedirect processes the customer's browser return. The query string
// is not signed, so it is treated as a lower-trust hint.
func (r *Reconciler) HandleRedirect(ctx context.Context, query url.Values) (Outcome, error) {
	ctx, span := otel.Tracer("payment.Reconciler").Start(ctx, "Reconciler.HandleRedirect")
	defer span.End()
	log := r.logger()

	orderID, err := r.resolveOrder(ctx, query.Get("merchantOrderId"))
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(attribute.Int64("order.id", orderID))

	if !strings.EqualFold(strings.TrimSpace(query.Get("paymentStatus")), statusSuccess) {
		return Outcome{OrderID: orderID, RedirectURL: r.Links.Failure(orderID)}, nil
	}

	transactionID := query.Get("transactionId")
	r.markPaid(ctx, orderID, transactionID, channelRedirect)
	r.emitPaid(ctx, orderID, transactionID, "", channelRedirect)

	log.Info().Int64("order_id", orderID).Str("transaction_id", transactionID).Msg("payment redirect successful")
	return Outcome{
		OrderID:       orderID,
		Status:        StatusPaid,
		TransactionID: transactionID,
		RedirectURL:   r.Links.Success(orderID),
	}, nil
}

func (r *Reconciler) resolveOrder(ctx context.Context, merchantOrderID string) (int64, error) {
	orderID, ok := ExtractOrderID(merchantOrderID)
	if !ok {
		return 0, ErrOrderNotFound
	}
	if r.Orders == nil {
		return 0, ErrOrderNotFound
	}
	exists, err := r.Orders.OrderExists(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	if !exists {
		return 0, ErrOrderNotFound
	}
	return orderID, nil
}

func (r *Reconciler) markPaid(ctx context.Context, orderID int64, transactionID, channel string) {
	if r.Orders == nil {
		return
	}
	log := r.logger()
	if _, err := r.Orders.UpdateOrderTransactionID(ctx, orderID, transactionID); err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Str("channel", channel).Msg("store transaction id")
	}
	if err := r.Orders.UpdatePaymentStatus(ctx, orderID, string(StatusPaid)); err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Str("channel", channel).Msg("record payment status")
	}
}

func (r *Reconciler) emitPaid(ctx context.Context, orderID int64, transactionID, kashierOrderID, channel string) {
	if r.Events == nil {
		return
	}
	payload := events.PaymentPaid{
		OrderID:        orderID,
		TransactionID:  transactionID,
		KashierOrderID: kashierOrderID,
		Method:         MethodFromContext(ctx),
		Channel:        channel,
	}
	if _, err := r.Events.Emit(ctx, events.TopicPaymentPaid, orderID, payload); err != nil {
		r.logger().Warn().Err(err).Int64("order_id", orderID).Msg("emit payment event")
	}
}

func (r *Reconciler) apiKey(ctx context.Context) string {
	if r.Settings == nil {
		return ""
	}
	settings, err := r.Settings.Settings(ctx)
	if err != nil {
		r.logger().Error().Err(err).Msg("load gateway settings")
		return ""
	}
	return settings.ActiveAPIKey()
}

func (r *Reconciler) logger() *zerolog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return &nopLogger
}

func stringList(value any) ([]string, bool) {
	items, ok := value.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
