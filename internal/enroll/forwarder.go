package enroll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kashier-bridge/internal/common"
	"github.com/noah-isme/kashier-bridge/internal/obs"
	"github.com/noah-isme/kashier-bridge/internal/resilience"
)

// Enrollment is the request sent to the host platform for a paid order.
type Enrollment struct {
	OrderID        int64           `json:"orderId"`
	TransactionID  string          `json:"transactionId,omitempty"`
	KashierOrderID string          `json:"kashierOrderId,omitempty"`
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	CustomerEmail  string          `json:"customerEmail,omitempty"`
	CustomerName   string          `json:"customerName,omitempty"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
}

// Forwarder delivers an enrollment to the host platform.
type Forwarder interface {
	Forward(ctx context.Context, e Enrollment) error
}

const (
	tokenIssuer   = "kashier-bridge"
	tokenAudience = "enrollment-hook"
	tokenTTL      = 5 * time.Minute

	// BodyDigestClaim carries the hex SHA-256 of the request body.
	BodyDigestClaim = "body_sha256"
)

// HTTPForwarder posts enrollments as JSON through a retrying client. When
// Secret is set each request carries an HS256 bearer token bound to the body.
type HTTPForwarder struct {
	URL    string
	Client resilience.HTTPClient
	Secret []byte
	Now    func() time.Time
}

// Forward posts e. Any non-2xx response is an error so the task is retried.
func (f HTTPForwarder) Forward(ctx context.Context, e Enrollment) error {
	start := time.Now()
	result := "error"
	defer func() {
		if obs.EnrollmentForwardLatency != nil {
			obs.EnrollmentForwardLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("enroll: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(e.OrderID))
	if len(f.Secret) > 0 {
		token, err := f.sign(e.OrderID, body)
		if err != nil {
			return fmt.Errorf("enroll: sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.Client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("enroll: forward order %d: %w", e.OrderID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("enroll: forward order %d: %w", e.OrderID, &resilience.StatusError{StatusCode: resp.StatusCode})
	}
	result = "success"
	return nil
}

func (f HTTPForwarder) sign(orderID int64, body []byte) (string, error) {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	tok, err := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Audience([]string{tokenAudience}).
		Subject(strconv.FormatInt(orderID, 10)).
		IssuedAt(now).
		Expiration(now.Add(tokenTTL)).
		Claim(BodyDigestClaim, common.Sha256Hex(string(body))).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, f.Secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// LogForwarder records enrollments in the log when no hook is configured.
type LogForwarder struct {
	Logger zerolog.Logger
}

func (f LogForwarder) Forward(_ context.Context, e Enrollment) error {
	f.Logger.Info().
		Int64("order_id", e.OrderID).
		Str("method", e.Method).
		Str("transaction_id", e.TransactionID).
		Msg("enrollment ready; no hook configured")
	return nil
}
