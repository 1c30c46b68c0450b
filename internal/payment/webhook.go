package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kashier-bridge/internal/common"
	"github.com/noah-isme/kashier-bridge/internal/obs"
)

// SignatureHeader carries the processor's callback signature.
const SignatureHeader = "X-Kashier-Signature"

// ReplayStore remembers callback bodies already processed.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Webhook serves the per-method notification endpoint. POST is the server
// callback, GET is the customer's browser coming back from the hosted page.
type Webhook struct {
	Reconciler *Reconciler
	Replay     ReplayStore
	ReplayTTL  time.Duration
	Links      Links
	Logger     *zerolog.Logger
}

type callbackAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

// Callback acknowledges every delivery with 200 once the method is known, so
// the processor does not retry notifications that can never succeed.
func (h *Webhook) Callback(w http.ResponseWriter, r *http.Request) {
	method, ok := h.method(w, r)
	if !ok {
		return
	}
	log := h.logger()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	ctx := WithMethod(r.Context(), method.Key)

	signature := r.Header.Get(SignatureHeader)
	replayKey := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = replayKeyFor(signature, body)
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("kashier callback: replay guard unavailable")
			replayKey = ""
		case !fresh:
			h.count(method.Key, channelCallback, "duplicate")
			common.JSON(w, http.StatusOK, callbackAck{Received: true, Status: "duplicate"})
			return
		}
	}

	outcome, err := h.Reconciler.HandleCallback(ctx, body, signature)
	label := resultLabel(err)
	h.count(method.Key, channelCallback, label)
	if replayKey != "" && retryable(err) {
		if delErr := h.Replay.Del(context.WithoutCancel(ctx), replayKey).Err(); delErr != nil {
			log.Warn().Err(delErr).Msg("kashier callback: release replay key")
		}
	}
	if err != nil {
		log.Info().Err(err).Int64("order_id", outcome.OrderID).Str("method", method.Key).Msg("kashier callback not applied")
	}
	common.JSON(w, http.StatusOK, callbackAck{Received: true, Status: label})
}

// Return sends the customer to the storefront page matching the outcome.
func (h *Webhook) Return(w http.ResponseWriter, r *http.Request) {
	method, ok := h.method(w, r)
	if !ok {
		return
	}
	ctx := WithMethod(r.Context(), method.Key)
	outcome, err := h.Reconciler.HandleRedirect(ctx, r.URL.Query())
	if err != nil {
		h.count(method.Key, channelRedirect, resultLabel(err))
		http.Redirect(w, r, h.Links.Home(), http.StatusFound)
		return
	}
	h.count(method.Key, channelRedirect, outcomeLabel(outcome))
	target := outcome.RedirectURL
	if target == "" {
		target = h.Links.Home()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Webhook) method(w http.ResponseWriter, r *http.Request) (Method, bool) {
	if h == nil || h.Reconciler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return Method{}, false
	}
	key := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "method")))
	method, ok := LookupMethod(key)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "INVALID_PAYMENT_METHOD", "unknown payment method", nil)
		return Method{}, false
	}
	return method, true
}

func (h *Webhook) count(method, channel, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(method, channel, result).Inc()
	}
}

func (h *Webhook) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return &nopLogger
}

// replayKeyFor keys a delivery by signature and body, so a rejected copy of a
// body never shadows a correctly signed one.
func replayKeyFor(signature string, body []byte) string {
	return "wh:kashier:" + common.DigestKey(strings.TrimSpace(signature), string(body))
}

func outcomeLabel(outcome Outcome) string {
	if outcome.Status == "" {
		return "not_paid"
	}
	return string(outcome.Status)
}

// retryable reports whether a redelivery of the same body could succeed.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrMalformedNotification) &&
		!errors.Is(err, ErrSignatureInvalid) &&
		!errors.Is(err, ErrNoTerminalStatus)
}
