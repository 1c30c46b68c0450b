package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps orders in process memory. Used by ORDER_STORE=memory
// and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	orders map[int64]*Order
	Now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[int64]*Order)}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create stores o. A zero ID is assigned the next free id.
func (s *MemoryStore) Create(_ context.Context, o Order) (Order, error) {
	if o.Amount.IsNegative() {
		return Order{}, errors.New("order: amount must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders == nil {
		s.orders = make(map[int64]*Order)
	}
	if o.ID == 0 {
		s.nextID++
		for s.orders[s.nextID] != nil {
			s.nextID++
		}
		o.ID = s.nextID
	} else if _, exists := s.orders[o.ID]; exists {
		return Order{}, errors.New("order: id already exists")
	} else if o.ID > s.nextID {
		s.nextID = o.ID
	}
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	o.CreatedAt = s.now()
	o.Meta = cloneMeta(o.Meta)
	stored := o
	s.orders[o.ID] = &stored
	return copyOrder(&stored), nil
}

// Get returns a copy of the order.
func (s *MemoryStore) Get(_ context.Context, id int64) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) OrderExists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orders[id]
	return ok, nil
}

// UpdateOrderTransactionID reports false when the order does not exist.
func (s *MemoryStore) UpdateOrderTransactionID(_ context.Context, id int64, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	o.TransactionID = transactionID
	return true, nil
}

func (s *MemoryStore) SetOrderMeta(_ context.Context, id int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	o.Meta[key] = value
	return nil
}

// UpdatePaymentStatus records status. The first transition to paid stamps PaidAt.
func (s *MemoryStore) UpdatePaymentStatus(_ context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = status
	if status == PaymentPaid && o.PaidAt == nil {
		at := s.now()
		o.PaidAt = &at
	}
	return nil
}

func copyOrder(o *Order) Order {
	out := *o
	out.Meta = cloneMeta(o.Meta)
	if o.PaidAt != nil {
		at := *o.PaidAt
		out.PaidAt = &at
	}
	return out
}

func cloneMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
