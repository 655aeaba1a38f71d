// Package memstore keeps the whole store in process memory. Row locks are
// real and block like their SQL counterparts, so the checkout engine behaves
// the same against it. It backs the "memory" driver and the tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

type Store struct {
	mu          sync.RWMutex
	locks       *lockTable
	lockTimeout time.Duration

	nextProductID int64
	nextAccountID int64
	nextOrderID   int64

	products   map[int64]models.Product
	skus       map[string]int64
	promos     map[string]models.PromoCode
	accounts   map[int64]models.Account
	emails     map[string]int64
	carts      map[int64]map[int64]int
	orders     map[int64]models.Order
	orderLines map[int64][]models.OrderLine
	idemKeys   map[string]int64
}

var _ store.Store = (*Store)(nil)

func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
		products:    make(map[int64]models.Product),
		skus:        make(map[string]int64),
		promos:      make(map[string]models.PromoCode),
		accounts:    make(map[int64]models.Account),
		emails:      make(map[string]int64),
		carts:       make(map[int64]map[int64]int),
		orders:      make(map[int64]models.Order),
		orderLines:  make(map[int64][]models.OrderLine),
		idemKeys:    make(map[string]int64),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func notFound(kind string, key interface{}) error {
	return fmt.Errorf("%s %v: %w", kind, key, store.ErrNotFound)
}

func cartKey(accountID int64) string    { return fmt.Sprintf("cart:%d", accountID) }
func productKey(productID int64) string { return fmt.Sprintf("product:%d", productID) }
func promoKey(code string) string       { return "promo:" + code }

func (s *Store) CreateProduct(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skus[product.SKU]; ok {
		return fmt.Errorf("sku %s: %w", product.SKU, store.ErrConflict)
	}
	s.nextProductID++
	product.ID = s.nextProductID
	s.products[product.ID] = *product
	s.skus[product.SKU] = product.ID
	return nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return models.Product{}, notFound("product", id)
	}
	return p, nil
}

func (s *Store) GetProducts(_ context.Context, ids []int64) (map[int64]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// SetStock is an administrative write and takes the product row lock.
func (s *Store) SetStock(ctx context.Context, id int64, quantity int) error {
	if err := s.locks.acquire(ctx, productKey(id), s.lockTimeout); err != nil {
		return err
	}
	defer s.locks.release(productKey(id))

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return notFound("product", id)
	}
	p.StockQuantity = quantity
	s.products[id] = p
	return nil
}

func (s *Store) CreatePromo(_ context.Context, promo *models.PromoCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.promos[promo.Code]; ok {
		return fmt.Errorf("promo %s: %w", promo.Code, store.ErrConflict)
	}
	s.promos[promo.Code] = *promo
	return nil
}

func (s *Store) GetPromo(_ context.Context, code string) (models.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.promos[code]
	if !ok {
		return models.PromoCode{}, notFound("promo", code)
	}
	return p, nil
}

func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if _, ok := s.emails[account.Email]; ok {
		return fmt.Errorf("account %s: %w", account.Email, store.ErrConflict)
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	s.nextAccountID++
	account.ID = s.nextAccountID
	s.accounts[account.ID] = *account
	s.emails[account.Email] = account.ID
	return nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, notFound("account", id)
	}
	return a, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return models.Account{}, notFound("account", email)
	}
	return s.accounts[id], nil
}

func (s *Store) AccountCartLines(_ context.Context, accountID int64) ([]models.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cartLinesLocked(accountID), nil
}

func (s *Store) cartLinesLocked(accountID int64) []models.CartLine {
	cart := s.carts[accountID]
	lines := make([]models.CartLine, 0, len(cart))
	for productID, qty := range cart {
		lines = append(lines, models.CartLine{ProductID: productID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (s *Store) AddAccountCartLines(ctx context.Context, accountID int64, lines []models.CartLine) error {
	for _, l := range lines {
		if l.Quantity < 1 {
			return fmt.Errorf("cart line for product %d: quantity must be positive", l.ProductID)
		}
	}
	return s.withCart(ctx, accountID, func(cart map[int64]int) {
		for _, l := range lines {
			cart[l.ProductID] += l.Quantity
		}
	})
}

func (s *Store) SetAccountCartLine(ctx context.Context, accountID, productID int64, quantity int) error {
	return s.withCart(ctx, accountID, func(cart map[int64]int) {
		if quantity <= 0 {
			delete(cart, productID)
			return
		}
		cart[productID] = quantity
	})
}

// withCart mutates an account cart while holding its row lock, the same
// lock a checkout takes.
func (s *Store) withCart(ctx context.Context, accountID int64, fn func(cart map[int64]int)) error {
	key := cartKey(accountID)
	if err := s.locks.acquire(ctx, key, s.lockTimeout); err != nil {
		return err
	}
	defer s.locks.release(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[accountID]
	if !ok {
		cart = make(map[int64]int)
		s.carts[accountID] = cart
	}
	fn(cart)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (models.Order, []models.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, nil, notFound("order", id)
	}
	return o, append([]models.OrderLine(nil), s.orderLines[id]...), nil
}

func (s *Store) SetPaymentReference(_ context.Context, orderID int64, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return notFound("order", orderID)
	}
	o.PaymentReference = &reference
	s.orders[orderID] = o
	return nil
}

func (s *Store) TransitionOrder(_ context.Context, orderID int64, status models.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != models.StatusPending {
		return false, nil
	}
	o.Status = status
	s.orders[orderID] = o
	return true, nil
}

func (s *Store) ListPendingWithoutPayment(_ context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.Status == models.StatusPending && !o.HasPaymentReference() && o.CreatedAt.Before(createdBefore) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
