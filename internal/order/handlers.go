package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kashier-bridge/internal/common"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler exposes order intake for the host platform.
type Handler struct {
	Store Store
}

type createRequest struct {
	ID            int64             `json:"id" validate:"gte=0"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency" validate:"omitempty,len=3,alpha"`
	CustomerEmail string            `json:"customerEmail" validate:"omitempty,email"`
	CustomerName  string            `json:"customerName" validate:"max=200"`
	Meta          map[string]string `json:"meta"`
}

// Routes mounts the order endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid order", validationDetails(err))
		return
	}
	if req.Amount.IsNegative() {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "amount must not be negative", nil)
		return
	}
	created, err := h.Store.Create(r.Context(), Order{
		ID:            req.ID,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		Meta:          req.Meta,
	})
	if err != nil {
		common.JSONError(w, http.StatusConflict, "ORDER_CREATE_FAILED", "failed to create order", nil)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+strconv.FormatInt(created.ID, 10))
	common.JSON(w, http.StatusCreated, created)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	o, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, o)
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
