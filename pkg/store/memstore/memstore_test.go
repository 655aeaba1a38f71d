package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

func seedProduct(t *testing.T, s *Store, sku string, stock int) models.Product {
	t.Helper()
	p := &models.Product{SKU: sku, Name: sku, Price: decimal.RequireFromString("10.00"), StockQuantity: stock}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return *p
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	p := seedProduct(t, s, "SKU-1", 5)

	hookRan, rolledBack := false, false
	boom := errors.New("boom")
	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockProduct(ctx, p.ID)
		require.NoError(t, err)
		require.NoError(t, tx.DecrementStock(ctx, p.ID, 3))
		tx.AfterCommit(func() { hookRan = true })
		tx.AfterRollback(func() { rolledBack = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, rolledBack)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
	assert.False(t, hookRan)
}

func TestCommitAppliesWritesAndRunsHooks(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	p := seedProduct(t, s, "SKU-1", 5)

	var orderID int64
	hookRan, rolledBack := false, false
	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockProduct(ctx, p.ID); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, p.ID, 2); err != nil {
			return err
		}
		order := &models.Order{Owner: "session:abc", Status: models.StatusPending, PaymentIdempotencyKey: "k1"}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		orderID = order.ID
		tx.AfterCommit(func() { hookRan = true })
		tx.AfterRollback(func() { rolledBack = true })
		return tx.CreateOrderLines(ctx, []models.OrderLine{{OrderID: order.ID, ProductID: p.ID, Quantity: 2, UnitPrice: p.Price}})
	})
	require.NoError(t, err)
	assert.True(t, hookRan)
	assert.False(t, rolledBack)

	got, _ := s.GetProduct(ctx, p.ID)
	assert.Equal(t, 3, got.StockQuantity)

	order, lines, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestDecrementRequiresLock(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	p := seedProduct(t, s, "SKU-1", 5)

	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DecrementStock(ctx, p.ID, 1)
	})
	assert.Error(t, err)
}

func TestLockWaitTimesOutAsTransient(t *testing.T) {
	ctx := context.Background()
	s := New(50 * time.Millisecond)
	p := seedProduct(t, s, "SKU-1", 5)

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.LockProduct(ctx, p.ID)
			close(locked)
			<-done
			return err
		})
	}()
	<-locked
	defer close(done)

	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockProduct(ctx, p.ID)
		return err
	})
	assert.True(t, store.IsTransient(err), "got %v", err)
}

func TestTransitionOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)

	var id int64
	require.NoError(t, s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		o := &models.Order{Owner: "account:1", Status: models.StatusPending, PaymentIdempotencyKey: "k"}
		err := tx.CreateOrder(ctx, o)
		id = o.ID
		return err
	}))

	changed, err := s.TransitionOrder(ctx, id, models.StatusPaid)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.TransitionOrder(ctx, id, models.StatusFailed)
	require.NoError(t, err)
	assert.False(t, changed)

	o, _, _ := s.GetOrder(ctx, id)
	assert.Equal(t, models.StatusPaid, o.Status)
}

func TestAccountCartMergeSums(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)

	require.NoError(t, s.AddAccountCartLines(ctx, 7, []models.CartLine{{ProductID: 2, Quantity: 1}}))
	require.NoError(t, s.AddAccountCartLines(ctx, 7, []models.CartLine{{ProductID: 2, Quantity: 3}, {ProductID: 1, Quantity: 1}}))

	lines, err := s.AccountCartLines(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 4}}, lines)

	require.NoError(t, s.SetAccountCartLine(ctx, 7, 2, 0))
	lines, _ = s.AccountCartLines(ctx, 7)
	assert.Equal(t, []models.CartLine{{ProductID: 1, Quantity: 1}}, lines)
}
