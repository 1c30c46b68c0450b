package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kashier-bridge/internal/order"
)

func TestMemoryStoreCreateAssignsIDs(t *testing.T) {
	store := order.NewMemoryStore()
	ctx := context.Background()

	first, err := store.Create(ctx, order.Order{Amount: decimal.NewFromInt(100), Currency: "egp"})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)
	require.Equal(t, "EGP", first.Currency)
	require.Equal(t, order.PaymentPending, first.PaymentStatus)

	explicit, err := store.Create(ctx, order.Order{ID: 482, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	require.Equal(t, int64(482), explicit.ID)

	_, err = store.Create(ctx, order.Order{ID: 482})
	require.Error(t, err)

	next, err := store.Create(ctx, order.Order{Amount: decimal.Zero})
	require.NoError(t, err)
	require.Equal(t, int64(483), next.ID)

	_, err = store.Create(ctx, order.Order{Amount: decimal.NewFromInt(-1)})
	require.Error(t, err)
}

func TestMemoryStorePaymentLifecycle(t *testing.T) {
	paidAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store := order.NewMemoryStore()
	store.Now = func() time.Time { return paidAt }
	ctx := context.Background()

	o, err := store.Create(ctx, order.Order{ID: 7, Amount: decimal.RequireFromString("99.50")})
	require.NoError(t, err)

	exists, err := store.OrderExists(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.OrderExists(ctx, 8)
	require.NoError(t, err)
	require.False(t, exists)

	updated, err := store.UpdateOrderTransactionID(ctx, 7, "TX-1")
	require.NoError(t, err)
	require.True(t, updated)

	updated, err = store.UpdateOrderTransactionID(ctx, 8, "TX-1")
	require.NoError(t, err)
	require.False(t, updated)

	require.NoError(t, store.SetOrderMeta(ctx, 7, "_kashier_order_id", "K-1"))
	require.ErrorIs(t, store.SetOrderMeta(ctx, 8, "k", "v"), order.ErrNotFound)

	require.NoError(t, store.UpdatePaymentStatus(ctx, 7, order.PaymentPaid))
	store.Now = func() time.Time { return paidAt.Add(time.Hour) }
	require.NoError(t, store.UpdatePaymentStatus(ctx, 7, order.PaymentPaid))

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, got.Paid())
	require.Equal(t, "TX-1", got.TransactionID)
	require.Equal(t, "K-1", got.Meta["_kashier_order_id"])
	require.NotNil(t, got.PaidAt)
	require.True(t, got.PaidAt.Equal(paidAt))

	got.Meta["_kashier_order_id"] = "mutated"
	again, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "K-1", again.Meta["_kashier_order_id"])

	_, err = store.Get(ctx, 8)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestMemoryStoreConcurrentWrites(t *testing.T) {
	store := order.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(ctx, order.Order{Amount: decimal.NewFromInt(1)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for id := int64(1); id <= 20; id++ {
		exists, err := store.OrderExists(ctx, id)
		require.NoError(t, err)
		require.True(t, exists)
	}
}
