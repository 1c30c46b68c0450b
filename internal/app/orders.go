package app

import (
	"context"
	"errors"

	"github.com/noah-isme/kashier-bridge/internal/order"
	"github.com/noah-isme/kashier-bridge/internal/payment"
)

// storedOrders prices checkouts from the order store.
type storedOrders struct {
	store order.Store
}

func (s storedOrders) OrderRef(ctx context.Context, id int64) (payment.OrderRef, error) {
	o, err := s.store.Get(ctx, id)
	if errors.Is(err, order.ErrNotFound) {
		return payment.OrderRef{}, payment.ErrOrderNotFound
	}
	if err != nil {
		return payment.OrderRef{}, err
	}
	return payment.OrderRef{
		ID:            o.ID,
		Amount:        o.Amount,
		Currency:      o.Currency,
		CustomerEmail: o.CustomerEmail,
		CustomerName:  o.CustomerName,
	}, nil
}
