package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kashier-bridge/internal/common"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Hook is a named route the payment bridge registers on the host router.
type Hook struct {
	Name    string
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// Mount registers hooks on r.
func Mount(r chi.Router, hooks ...Hook) {
	for _, hook := range hooks {
		r.Method(hook.Method, hook.Pattern, hook.Handler)
	}
}

// Handler exposes the method catalog and checkout endpoints. Checkout is
// priced from Orders, never from the request body.
type Handler struct {
	Builder *Builder
	Orders  OrderSource
	Links   Links
}

type methodResp struct {
	Key                  string `json:"key"`
	Label                string `json:"label"`
	Code                 string `json:"method"`
	Description          string `json:"description"`
	Icon                 string `json:"icon"`
	SupportsSubscription bool   `json:"supportsSubscription"`
	WebhookURL           string `json:"webhookUrl"`
}

type checkoutReq struct {
	OrderID       int64               `json:"orderId" validate:"required,gt=0"`
	Amount        decimal.NullDecimal `json:"amount" validate:"-"`
	Currency      string              `json:"currency" validate:"omitempty,len=3,alpha"`
	CustomerEmail string              `json:"customerEmail" validate:"omitempty,email"`
	CustomerName  string              `json:"customerName" validate:"max=200"`
}

type checkoutResp struct {
	RedirectURL      string `json:"redirectUrl"`
	ProcessorOrderID string `json:"processorOrderId"`
	Method           string `json:"method"`
}

// Hooks lists the customer-facing payment routes.
func (h *Handler) Hooks() []Hook {
	return []Hook{
		{Name: "payment_methods", Method: http.MethodGet, Pattern: "/payment-methods", Handler: h.ListMethods},
		{Name: "kashier_checkout", Method: http.MethodPost, Pattern: "/checkout/kashier/{method}", Handler: h.Checkout},
	}
}

// Hooks lists the processor notification routes.
func (h *Webhook) Hooks() []Hook {
	return []Hook{
		{Name: "kashier_callback", Method: http.MethodPost, Pattern: "/webhooks/kashier/{method}", Handler: h.Callback},
		{Name: "kashier_return", Method: http.MethodGet, Pattern: "/webhooks/kashier/{method}", Handler: h.Return},
	}
}

// ListMethods returns the catalog with each method's webhook URL.
func (h *Handler) ListMethods(w http.ResponseWriter, _ *http.Request) {
	methods := Methods()
	out := make([]methodResp, 0, len(methods))
	for _, m := range methods {
		out = append(out, methodResp{
			Key:                  m.Key,
			Label:                m.DisplayLabel(),
			Code:                 m.Code,
			Description:          m.Description,
			Icon:                 m.Icon,
			SupportsSubscription: m.SupportsSubscription,
			WebhookURL:           h.Links.Webhook(m.Key),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Checkout builds the signed hosted-page redirect for an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Builder == nil {
		common.WriteError(w, userError(ErrNotConfigured))
		return
	}
	methodKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "method")))
	if _, ok := LookupMethod(methodKey); !ok {
		common.WriteError(w, userError(ErrUnknownMethod))
		return
	}
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid checkout request", validationDetails(err))
		return
	}

	ctx := r.Context()
	if h.Orders == nil {
		common.WriteError(w, userError(ErrNotConfigured))
		return
	}
	ref, err := h.Orders.OrderRef(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			common.WriteError(w, userError(err))
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if err := h.matchOrder(ref, req); err != nil {
		common.WriteError(w, userError(err))
		return
	}
	if ref.CustomerEmail == "" {
		ref.CustomerEmail = req.CustomerEmail
	}
	if ref.CustomerName == "" {
		ref.CustomerName = req.CustomerName
	}

	redirect, err := h.Builder.Build(ctx, ref, methodKey)
	if err != nil {
		common.WriteError(w, userError(err))
		return
	}
	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, redirect.URL, http.StatusFound)
		return
	}
	common.JSON(w, http.StatusOK, checkoutResp{
		RedirectURL:      redirect.URL,
		ProcessorOrderID: redirect.ProcessorOrderID,
		Method:           redirect.Method.Key,
	})
}

// matchOrder rejects an amount or currency in the request that differs from
// the stored order. Both fields are optional.
func (h *Handler) matchOrder(ref OrderRef, req checkoutReq) error {
	if req.Amount.Valid && !req.Amount.Decimal.Round(2).Equal(ref.Amount.Round(2)) {
		return fmt.Errorf("%w: order %d is %s, request sent %s",
			ErrAmountMismatch, ref.ID, FormatAmount(ref.Amount), FormatAmount(req.Amount.Decimal))
	}
	if c := strings.TrimSpace(req.Currency); c != "" && !strings.EqualFold(c, h.Builder.currencyOf(ref)) {
		return fmt.Errorf("%w: order %d currency %s, request sent %s",
			ErrAmountMismatch, ref.ID, h.Builder.currencyOf(ref), strings.ToUpper(c))
	}
	return nil
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
