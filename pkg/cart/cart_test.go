package cart

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/megamart/pkg/logger"
	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/pricing"
	"julianmorley.ca/con-plar/megamart/pkg/redis"
	"julianmorley.ca/con-plar/megamart/pkg/store"
	"julianmorley.ca/con-plar/megamart/pkg/store/memstore"
)

type fixture struct {
	svc   *Service
	store *memstore.Store
	carts *redis.Carts
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := memstore.New(time.Second)
	carts := redis.NewCarts(client, time.Hour)
	sessions := redis.NewSessions(client, time.Hour)
	return &fixture{
		svc:   NewService(st, carts, sessions, logger.Nop()),
		store: st,
		carts: carts,
		mr:    mr,
	}
}

func (f *fixture) product(t *testing.T, sku, price string, stock int) models.Product {
	t.Helper()
	p := &models.Product{SKU: sku, Name: sku, Price: decimal.RequireFromString(price), StockQuantity: stock}
	require.NoError(t, f.store.CreateProduct(context.Background(), p))
	return *p
}

func TestAddSumsAndChecksAdvisoryStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "SKU-A", "10.00", 3)

	for _, owner := range []models.Owner{models.SessionOwner("s1"), models.AccountOwner(9)} {
		t.Run(owner.String(), func(t *testing.T) {
			require.NoError(t, f.svc.Add(ctx, owner, p.ID, 2))

			err := f.svc.Add(ctx, owner, p.ID, 2)
			var stockErr *models.InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
			assert.Equal(t, 4, stockErr.Requested)
			assert.Equal(t, 3, stockErr.Available)

			require.NoError(t, f.svc.Add(ctx, owner, p.ID, 1))
			lines, err := f.svc.Lines(ctx, owner)
			require.NoError(t, err)
			assert.Equal(t, []models.CartLine{{ProductID: p.ID, Quantity: 3}}, lines)
		})
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := models.SessionOwner("s1")

	assert.ErrorIs(t, f.svc.Add(ctx, owner, 1, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, f.svc.Add(ctx, owner, 404, 1), ErrProductNotFound)
}

func TestUpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "SKU-A", "10.00", 10)
	owner := models.AccountOwner(1)

	assert.ErrorIs(t, f.svc.Update(ctx, owner, p.ID, 2), ErrLineNotFound)

	require.NoError(t, f.svc.Add(ctx, owner, p.ID, 1))
	require.NoError(t, f.svc.Update(ctx, owner, p.ID, 5))
	lines, _ := f.svc.Lines(ctx, owner)
	assert.Equal(t, []models.CartLine{{ProductID: p.ID, Quantity: 5}}, lines)

	require.NoError(t, f.svc.Update(ctx, owner, p.ID, 0))
	lines, _ = f.svc.Lines(ctx, owner)
	assert.Empty(t, lines)
}

func TestViewPricesWithPromoPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.product(t, "SKU-A", "1000.00", 5)
	b := f.product(t, "SKU-B", "500.00", 5)
	require.NoError(t, f.store.CreatePromo(ctx, &models.PromoCode{
		Code: "SALE10", DiscountType: models.DiscountPercent, Value: decimal.NewFromInt(10), IsActive: true, MaxUses: 10,
	}))

	owner := models.SessionOwner("s1")
	require.NoError(t, f.svc.Add(ctx, owner, a.ID, 2))
	require.NoError(t, f.svc.Add(ctx, owner, b.ID, 1))

	view, err := f.svc.View(ctx, owner, "sale10")
	require.NoError(t, err)
	assert.Equal(t, 3, view.ItemCount)
	assert.Equal(t, "2500", view.TotalAmount.String())
	assert.Equal(t, "250", view.DiscountAmount.String())
	assert.Equal(t, "2250", view.FinalAmount.String())
	assert.Equal(t, "SALE10", view.PromoCode)
	assert.Nil(t, view.PromoRejection)

	view, err = f.svc.View(ctx, owner, "NOPE")
	require.NoError(t, err)
	require.NotNil(t, view.PromoRejection)
	assert.Equal(t, pricing.RejectNotFound, view.PromoRejection.Code)
	assert.True(t, view.FinalAmount.Equal(view.TotalAmount))

	_, err = f.svc.View(ctx, owner, "bad code!")
	assert.ErrorIs(t, err, pricing.ErrMalformedPromo)
}

func TestViewEmptyCart(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.View(context.Background(), models.SessionOwner("s1"), "")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.True(t, view.FinalAmount.IsZero())
}

func TestLoginMergesSessionCartBySumming(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.product(t, "SKU-A", "10.00", 50)
	b := f.product(t, "SKU-B", "10.00", 50)

	require.NoError(t, f.svc.Add(ctx, models.AccountOwner(7), a.ID, 1))
	require.NoError(t, f.svc.Add(ctx, models.SessionOwner("s1"), a.ID, 2))
	require.NoError(t, f.svc.Add(ctx, models.SessionOwner("s1"), b.ID, 4))
	f.mr.HSet("cart:s1", "999", "1")

	merged, err := f.svc.Login(ctx, "s1", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	lines, err := f.svc.Lines(ctx, models.AccountOwner(7))
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: a.ID, Quantity: 3}, {ProductID: b.ID, Quantity: 4}}, lines)
	assert.False(t, f.mr.Exists("cart:s1"))

	owner, err := f.svc.Identify(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.AccountOwner(7), owner)

	merged, err = f.svc.Merge(ctx, "s1", 7)
	require.NoError(t, err)
	assert.Zero(t, merged)

	require.NoError(t, f.svc.Logout(ctx, "s1"))
	owner, err = f.svc.Identify(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionOwner("s1"), owner)
}

func TestSessionCartClearsOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "SKU-A", "10.00", 5)
	require.NoError(t, f.svc.Add(ctx, models.SessionOwner("s1"), p.ID, 1))
	src := f.svc.Source(models.SessionOwner("s1"))

	err := f.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := src.Lines(ctx, tx)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		require.NoError(t, src.Clear(ctx, tx, []int64{p.ID}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	lines, _ := f.carts.Lines(ctx, "s1")
	assert.Equal(t, []models.CartLine{{ProductID: p.ID, Quantity: 1}}, lines)
	assert.False(t, f.mr.Exists("cart-checkout:s1"))

	require.NoError(t, f.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := src.Lines(ctx, tx)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		return src.Clear(ctx, tx, []int64{p.ID})
	}))
	lines, _ = f.carts.Lines(ctx, "s1")
	assert.Empty(t, lines)
	assert.False(t, f.mr.Exists("cart-checkout:s1"))
}

func TestSessionCartRejectsSecondClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.product(t, "SKU-A", "10.00", 5)
	b := f.product(t, "SKU-B", "4.00", 5)
	require.NoError(t, f.svc.Add(ctx, models.SessionOwner("s1"), a.ID, 2))
	require.NoError(t, f.svc.Add(ctx, models.SessionOwner("s1"), b.ID, 1))
	first := f.svc.Source(models.SessionOwner("s1"))
	second := f.svc.Source(models.SessionOwner("s1"))

	require.NoError(t, f.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := first.Lines(ctx, tx)
		require.NoError(t, err)
		require.Len(t, got, 2)

		err = f.store.Transact(ctx, func(ctx context.Context, inner store.Tx) error {
			_, err := second.Lines(ctx, inner)
			return err
		})
		assert.ErrorIs(t, err, ErrCheckoutInProgress)
		return first.Clear(ctx, tx, []int64{a.ID})
	}))

	lines, err := f.carts.Lines(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: b.ID, Quantity: 1}}, lines)
}

func TestAccountCartClearsWithinTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "SKU-A", "10.00", 5)
	require.NoError(t, f.svc.Add(ctx, models.AccountOwner(3), p.ID, 2))
	src := f.svc.Source(models.AccountOwner(3))
	assert.Equal(t, models.AccountOwner(3), src.Owner())

	require.NoError(t, f.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		lines, err := src.Lines(ctx, tx)
		if err != nil {
			return err
		}
		assert.Equal(t, []models.CartLine{{ProductID: p.ID, Quantity: 2}}, lines)
		return src.Clear(ctx, tx, []int64{p.ID})
	}))
	lines, _ := f.svc.Lines(ctx, models.AccountOwner(3))
	assert.Empty(t, lines)
}
