package payment

import (
	"net/url"
	"strconv"
	"strings"
)

const defaultWebhookPath = "/api/v1/webhooks/kashier"

// Links builds the storefront return URLs and the per-method webhook URL.
type Links struct {
	SiteURL       string
	PublicBaseURL string
	WebhookPath   string
}

// Home returns the storefront root.
func (l Links) Home() string {
	return strings.TrimRight(strings.TrimSpace(l.SiteURL), "/") + "/"
}

// Success is where the customer lands after a successful payment.
func (l Links) Success(orderID int64) string {
	return l.placement("success", orderID)
}

// Failure is where the customer lands after a failed or cancelled payment.
func (l Links) Failure(orderID int64) string {
	return l.placement("failed", orderID)
}

// Webhook returns the server callback URL for a payment method key.
func (l Links) Webhook(methodKey string) string {
	base := strings.TrimRight(strings.TrimSpace(l.PublicBaseURL), "/")
	path := l.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}
	return base + "/" + strings.Trim(path, "/") + "/" + url.PathEscape(methodKey)
}

func (l Links) placement(result string, orderID int64) string {
	home := l.Home()
	u, err := url.Parse(home)
	if err != nil {
		return home
	}
	q := u.Query()
	q.Set("order_placement", result)
	q.Set("order_id", strconv.FormatInt(orderID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}
