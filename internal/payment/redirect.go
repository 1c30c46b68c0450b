package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/kashier-bridge/internal/obs"
)

const (
	defaultPaymentBaseURL = "https://payments.kashier.io"
	defaultCurrency       = "EGP"
	defaultPlatformTag    = "kashier-bridge"
)

// ErrInvalidOrder is returned when the order reference cannot be paid.
var ErrInvalidOrder = errors.New("payment: invalid order reference")

// MetaPaymentMethod is the order meta key holding the chosen method key.
const MetaPaymentMethod = "_payment_method"

var nopLogger = zerolog.Nop()

// Redirect is the signed hosted-page URL for one checkout attempt.
type Redirect struct {
	URL              string
	ProcessorOrderID string
	Method           Method
}

// Builder assembles signed redirect URLs to the Kashier hosted payment page.
type Builder struct {
	Settings        SettingsProvider
	Orders          OrderStore
	Links           Links
	IDs             *OrderIDGenerator
	BaseURL         string
	PlatformTag     string
	SiteLanguage    string
	DefaultCurrency string
	Logger          *zerolog.Logger
}

type redirectMetadata struct {
	EcommercePlatform string `json:"ecommercePlatform"`
	OrderID           int64  `json:"OrderId"`
	CustomerEmail     string `json:"CustomerEmail"`
	CustomerName      string `json:"CustomerName"`
}

// Build validates configuration, records the processor order id on the order
// and returns the signed redirect.
func (b *Builder) Build(ctx context.Context, ref OrderRef, methodKey string) (Redirect, error) {
	if b == nil || b.Settings == nil {
		return Redirect{}, ErrNotConfigured
	}
	ctx, span := otel.Tracer("payment.Builder").Start(ctx, "RedirectBuilder.Build")
	defer span.End()

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.method", methodKey),
			attribute.Int64("order.id", ref.ID),
			attribute.Float64("payment.redirect.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.redirect.result", result),
		)
		if obs.PaymentRedirectTotal != nil {
			obs.PaymentRedirectTotal.WithLabelValues(normaliseLabel(methodKey), result).Inc()
		}
	}()

	settings, err := b.Settings.Settings(ctx)
	if err != nil {
		span.RecordError(err)
		return Redirect{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if !settings.Configured() {
		result = "not_configured"
		return Redirect{}, ErrNotConfigured
	}
	method, ok := LookupMethod(methodKey)
	if !ok {
		result = "unknown_method"
		return Redirect{}, fmt.Errorf("%w: %q", ErrUnknownMethod, methodKey)
	}
	if ref.ID <= 0 || ref.Amount.IsNegative() {
		result = "invalid_order"
		return Redirect{}, ErrInvalidOrder
	}

	ids := b.IDs
	if ids == nil {
		ids = &OrderIDGenerator{}
		b.IDs = ids
	}
	processorOrderID := ids.Next(ref.ID)
	span.SetAttributes(attribute.String("payment.processor_order_id", processorOrderID))

	log := b.logger()
	if b.Orders != nil {
		if _, err := b.Orders.UpdateOrderTransactionID(ctx, ref.ID, processorOrderID); err != nil {
			span.RecordError(err)
			log.Warn().Err(err).Int64("order_id", ref.ID).Msg("store processor order id")
		}
		if err := b.Orders.SetOrderMeta(ctx, ref.ID, MetaPaymentMethod, method.Key); err != nil {
			log.Warn().Err(err).Int64("order_id", ref.ID).Msg("store payment method")
		}
	}

	currency := b.currencyOf(ref)
	amount := FormatAmount(ref.Amount)
	hash := Sign(settings.MerchantID, processorOrderID, amount, currency, settings.ActiveAPIKey())

	metadata, err := b.metadata(ref)
	if err != nil {
		span.RecordError(err)
		return Redirect{}, fmt.Errorf("encode metadata: %w", err)
	}

	params := url.Values{}
	params.Set("merchantId", settings.MerchantID)
	params.Set("orderId", processorOrderID)
	params.Set("amount", amount)
	params.Set("currency", currency)
	params.Set("hash", hash)
	params.Set("mode", settings.Mode())
	params.Set("metaData", metadata)
	params.Set("merchantRedirect", b.Links.Success(ref.ID))
	params.Set("failureRedirect", "true")
	params.Set("redirectMethod", "get")
	params.Set("display", displayLanguage(b.SiteLanguage))
	params.Set("serverWebhook", b.Links.Webhook(method.Key))
	params.Set("allowedMethods", method.AllowedMethods())
	if method.BNPL() {
		params.Set("defaultMethod", method.AllowedMethods())
	}

	redirect := Redirect{
		URL:              b.baseURL() + "?" + params.Encode(),
		ProcessorOrderID: processorOrderID,
		Method:           method,
	}
	result = "success"
	log.Info().
		Int64("order_id", ref.ID).
		Str("processor_order_id", processorOrderID).
		Str("method", method.Key).
		Str("mode", settings.Mode()).
		Msg("redirecting to kashier")
	return redirect, nil
}

func (b *Builder) metadata(ref OrderRef) (string, error) {
	tag := strings.TrimSpace(b.PlatformTag)
	if tag == "" {
		tag = defaultPlatformTag
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(redirectMetadata{
		EcommercePlatform: tag,
		OrderID:           ref.ID,
		CustomerEmail:     strings.TrimSpace(ref.CustomerEmail),
		CustomerName:      strings.ReplaceAll(strings.TrimSpace(ref.CustomerName), " ", "-"),
	}); err != nil {
		return "", err
	}
	return encodeURIComponent(strings.TrimRight(buf.String(), "\n")), nil
}

func (b *Builder) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(b.BaseURL), "/?")
	if base == "" {
		return defaultPaymentBaseURL
	}
	return base
}

// currencyOf is the currency ref is charged in.
func (b *Builder) currencyOf(ref OrderRef) string {
	if c := strings.ToUpper(strings.TrimSpace(ref.Currency)); c != "" {
		return c
	}
	return b.defaultCurrency()
}

func (b *Builder) defaultCurrency() string {
	if c := strings.ToUpper(strings.TrimSpace(b.DefaultCurrency)); c != "" {
		return c
	}
	return defaultCurrency
}

func (b *Builder) logger() *zerolog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return &nopLogger
}

// displayLanguage picks the hosted page UI language from the site locale.
func displayLanguage(siteLanguage string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(siteLanguage)), "ar") {
		return "ar"
	}
	return "en"
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
