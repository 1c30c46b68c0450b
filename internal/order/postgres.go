package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists orders in PostgreSQL.
type PGStore struct {
	DB DB
}

const (
	insertOrderSQL = `
INSERT INTO orders (amount, currency, customer_email, customer_name, payment_status)
VALUES ($1::numeric, $2, $3, $4, $5)
RETURNING id, created_at`

	insertOrderWithIDSQL = `
INSERT INTO orders (id, amount, currency, customer_email, customer_name, payment_status)
VALUES ($1, $2::numeric, $3, $4, $5, $6)
RETURNING id, created_at`

	selectOrderSQL = `
SELECT id, amount::text, currency, customer_email, customer_name, transaction_id, payment_status, paid_at, created_at
FROM orders WHERE id = $1`

	selectMetaSQL = `SELECT meta_key, meta_value FROM order_meta WHERE order_id = $1`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	updateTransactionSQL = `UPDATE orders SET transaction_id = $2, updated_at = now() WHERE id = $1`

	upsertMetaSQL = `
INSERT INTO order_meta (order_id, meta_key, meta_value)
VALUES ($1, $2, $3)
ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = now()`

	updateStatusSQL = `
UPDATE orders
SET payment_status = $2,
    paid_at = CASE WHEN $2 = 'paid' THEN COALESCE(paid_at, now()) ELSE paid_at END,
    updated_at = now()
WHERE id = $1`
)

func (s *PGStore) Create(ctx context.Context, o Order) (Order, error) {
	if o.Amount.IsNegative() {
		return Order{}, errors.New("order: amount must not be negative")
	}
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	var row pgx.Row
	if o.ID > 0 {
		row = s.DB.QueryRow(ctx, insertOrderWithIDSQL, o.ID, o.Amount.String(), o.Currency, o.CustomerEmail, o.CustomerName, o.PaymentStatus)
	} else {
		row = s.DB.QueryRow(ctx, insertOrderSQL, o.Amount.String(), o.Currency, o.CustomerEmail, o.CustomerName, o.PaymentStatus)
	}
	if err := row.Scan(&o.ID, &o.CreatedAt); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	for key, value := range o.Meta {
		if err := s.SetOrderMeta(ctx, o.ID, key, value); err != nil {
			return Order{}, err
		}
	}
	return o, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (Order, error) {
	var (
		o      Order
		amount string
		paidAt *time.Time
	)
	err := s.DB.QueryRow(ctx, selectOrderSQL, id).Scan(
		&o.ID, &amount, &o.Currency, &o.CustomerEmail, &o.CustomerName,
		&o.TransactionID, &o.PaymentStatus, &paidAt, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("select order: %w", err)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return Order{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	o.Currency = strings.TrimSpace(o.Currency)
	o.PaidAt = paidAt

	rows, err := s.DB.Query(ctx, selectMetaSQL, id)
	if err != nil {
		return Order{}, fmt.Errorf("select order meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Order{}, fmt.Errorf("scan order meta: %w", err)
		}
		if o.Meta == nil {
			o.Meta = make(map[string]string)
		}
		o.Meta[key] = value
	}
	return o, rows.Err()
}

func (s *PGStore) OrderExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := s.DB.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("order exists: %w", err)
	}
	return exists, nil
}

func (s *PGStore) UpdateOrderTransactionID(ctx context.Context, id int64, transactionID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, updateTransactionSQL, id, transactionID)
	if err != nil {
		return false, fmt.Errorf("update transaction id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) SetOrderMeta(ctx context.Context, id int64, key, value string) error {
	if _, err := s.DB.Exec(ctx, upsertMetaSQL, id, key, value); err != nil {
		return fmt.Errorf("set order meta %s: %w", key, err)
	}
	return nil
}

func (s *PGStore) UpdatePaymentStatus(ctx context.Context, id int64, status string) error {
	tag, err := s.DB.Exec(ctx, updateStatusSQL, id, status)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
