package memstore

import (
	"context"
	"fmt"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

// tx stages writes and applies them at commit. Reads see committed state
// only, which is all the checkout flow needs since every row it writes is
// read under a lock first.
type tx struct {
	s     *Store
	held  []string
	owned map[string]bool

	orders      []*models.Order
	lines       []models.OrderLine
	stock       map[int64]int
	promoUses   map[string]int
	cartDeletes map[int64][]int64
	hooks       []func()
	rollbacks   []func()
}

func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	t := &tx{
		s:           s,
		owned:       make(map[string]bool),
		stock:       make(map[int64]int),
		promoUses:   make(map[string]int),
		cartDeletes: make(map[int64][]int64),
	}
	defer t.releaseAll()

	err = fn(ctx, t)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = t.commit()
	}
	t.releaseAll()
	if err != nil {
		runHooks(t.rollbacks)
		return err
	}
	runHooks(t.hooks)
	return nil
}

func runHooks(hooks []func()) {
	for _, hook := range hooks {
		hook()
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.owned[key] {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return err
	}
	t.owned[key] = true
	t.held = append(t.held, key)
	return nil
}

func (t *tx) releaseAll() {
	for _, key := range t.held {
		t.s.locks.release(key)
	}
	t.held = nil
	t.owned = map[string]bool{}
}

func (t *tx) requireLock(key string) error {
	if !t.owned[key] {
		return fmt.Errorf("write to %s without holding its lock", key)
	}
	return nil
}

func (t *tx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *tx) AfterRollback(fn func()) {
	t.rollbacks = append(t.rollbacks, fn)
}

func (t *tx) LockAccountCart(ctx context.Context, accountID int64) ([]models.CartLine, error) {
	if err := t.lock(ctx, cartKey(accountID)); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.cartLinesLocked(accountID), nil
}

func (t *tx) DeleteAccountCartLines(_ context.Context, accountID int64, productIDs []int64) error {
	if err := t.requireLock(cartKey(accountID)); err != nil {
		return err
	}
	t.cartDeletes[accountID] = append(t.cartDeletes[accountID], productIDs...)
	return nil
}

func (t *tx) LockProduct(ctx context.Context, productID int64) (models.Product, error) {
	if err := t.lock(ctx, productKey(productID)); err != nil {
		return models.Product{}, err
	}
	return t.s.GetProduct(ctx, productID)
}

func (t *tx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := t.requireLock(productKey(productID)); err != nil {
		return err
	}
	p, err := t.s.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p.StockQuantity-t.stock[productID] < quantity {
		return fmt.Errorf("decrement stock of product %d: %w", productID, store.ErrConflict)
	}
	t.stock[productID] += quantity
	return nil
}

func (t *tx) LockPromo(ctx context.Context, code string) (models.PromoCode, error) {
	if err := t.lock(ctx, promoKey(code)); err != nil {
		return models.PromoCode{}, err
	}
	return t.s.GetPromo(ctx, code)
}

func (t *tx) IncrementPromoUsage(ctx context.Context, code string) error {
	if err := t.requireLock(promoKey(code)); err != nil {
		return err
	}
	p, err := t.s.GetPromo(ctx, code)
	if err != nil {
		return err
	}
	if p.TimesUsed+t.promoUses[code] >= p.MaxUses {
		return fmt.Errorf("increment usage of promo %s: %w", code, store.ErrConflict)
	}
	t.promoUses[code]++
	return nil
}

func (t *tx) CreateOrder(_ context.Context, order *models.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.idemKeys[order.PaymentIdempotencyKey]; ok {
		return fmt.Errorf("order idempotency key: %w", store.ErrConflict)
	}
	t.s.nextOrderID++
	order.ID = t.s.nextOrderID
	staged := *order
	t.orders = append(t.orders, &staged)
	return nil
}

func (t *tx) CreateOrderLines(_ context.Context, lines []models.OrderLine) error {
	t.lines = append(t.lines, lines...)
	return nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, qty := range t.stock {
		p, ok := s.products[productID]
		if !ok || p.StockQuantity < qty {
			return fmt.Errorf("commit stock of product %d: %w", productID, store.ErrConflict)
		}
	}

	for productID, qty := range t.stock {
		p := s.products[productID]
		p.StockQuantity -= qty
		s.products[productID] = p
	}
	for code, n := range t.promoUses {
		p := s.promos[code]
		p.TimesUsed += n
		s.promos[code] = p
	}
	for accountID, ids := range t.cartDeletes {
		for _, id := range ids {
			delete(s.carts[accountID], id)
		}
	}
	for _, o := range t.orders {
		s.orders[o.ID] = *o
		s.idemKeys[o.PaymentIdempotencyKey] = o.ID
	}
	for _, l := range t.lines {
		s.orderLines[l.OrderID] = append(s.orderLines[l.OrderID], l)
	}
	return nil
}
