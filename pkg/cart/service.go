package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/pricing"
	"julianmorley.ca/con-plar/megamart/pkg/redis"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("product is not in the cart")
)

// Service backs the cart endpoints. Stock checks here are advisory; the
// checkout transaction is the only place stock is enforced.
type Service struct {
	store    store.Store
	carts    *redis.Carts
	sessions *redis.Sessions
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st store.Store, carts *redis.Carts, sessions *redis.Sessions, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		carts:    carts,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Identify resolves a session id to the account bound to it, if any.
func (s *Service) Identify(ctx context.Context, sessionID string) (models.Owner, error) {
	accountID, ok, err := s.sessions.AccountID(ctx, sessionID)
	if err != nil {
		return models.Owner{}, err
	}
	if ok {
		return models.AccountOwner(accountID), nil
	}
	return models.SessionOwner(sessionID), nil
}

func (s *Service) Source(owner models.Owner) Source {
	if owner.IsAccount() {
		return NewAccountCart(owner.AccountID)
	}
	return NewSessionCart(owner.SessionID, s.carts, s.logger)
}

// Lines reads the cart without taking any lock.
func (s *Service) Lines(ctx context.Context, owner models.Owner) ([]models.CartLine, error) {
	if owner.IsAccount() {
		return s.store.AccountCartLines(ctx, owner.AccountID)
	}
	return s.carts.Lines(ctx, owner.SessionID)
}

func (s *Service) quantity(ctx context.Context, owner models.Owner, productID int64) (int, error) {
	if !owner.IsAccount() {
		return s.carts.Quantity(ctx, owner.SessionID, productID)
	}
	lines, err := s.store.AccountCartLines(ctx, owner.AccountID)
	if err != nil {
		return 0, err
	}
	for _, l := range lines {
		if l.ProductID == productID {
			return l.Quantity, nil
		}
	}
	return 0, nil
}

func (s *Service) product(ctx context.Context, productID int64) (models.Product, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return p, ErrProductNotFound
	}
	return p, err
}

// Add sums quantity into the product's line.
func (s *Service) Add(ctx context.Context, owner models.Owner, productID int64, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	current, err := s.quantity(ctx, owner, productID)
	if err != nil {
		return err
	}
	if want := current + quantity; !p.CanFulfil(want) {
		return &models.InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Requested: want, Available: p.StockQuantity}
	}

	if owner.IsAccount() {
		return s.store.AddAccountCartLines(ctx, owner.AccountID, []models.CartLine{{ProductID: p.ID, Quantity: quantity}})
	}
	_, err = s.carts.Add(ctx, owner.SessionID, p.ID, quantity)
	return err
}

// Update overwrites a line's quantity; zero removes it.
func (s *Service) Update(ctx context.Context, owner models.Owner, productID int64, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	current, err := s.quantity(ctx, owner, productID)
	if err != nil {
		return err
	}
	if current == 0 {
		return ErrLineNotFound
	}
	if quantity == 0 {
		return s.Remove(ctx, owner, productID)
	}

	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if !p.CanFulfil(quantity) {
		return &models.InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Requested: quantity, Available: p.StockQuantity}
	}

	if owner.IsAccount() {
		return s.store.SetAccountCartLine(ctx, owner.AccountID, productID, quantity)
	}
	return s.carts.Set(ctx, owner.SessionID, productID, quantity)
}

func (s *Service) Remove(ctx context.Context, owner models.Owner, productID int64) error {
	if owner.IsAccount() {
		return s.store.SetAccountCartLine(ctx, owner.AccountID, productID, 0)
	}
	return s.carts.Remove(ctx, owner.SessionID, productID)
}

// View prices the cart at current prices with an optional promo preview.
// Lines whose product has been removed from the catalog are left out.
func (s *Service) View(ctx context.Context, owner models.Owner, promoCode string) (models.CartView, error) {
	code := models.NormalizePromoCode(promoCode)
	if err := pricing.CheckCode(code); err != nil {
		return models.CartView{}, err
	}

	lines, err := s.Lines(ctx, owner)
	if err != nil {
		return models.CartView{}, err
	}
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return models.CartView{}, err
	}

	view := models.CartView{
		Owner:          owner.String(),
		Items:          make([]models.CartItemView, 0, len(lines)),
		TotalAmount:    decimal.Zero,
		DiscountAmount: decimal.Zero,
		FinalAmount:    decimal.Zero,
	}
	priced := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			continue
		}
		line := pricing.Line{ProductID: p.ID, Price: p.Price, Quantity: l.Quantity}
		priced = append(priced, line)
		view.ItemCount += l.Quantity
		view.Items = append(view.Items, models.CartItemView{
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  l.Quantity,
			Subtotal:  pricing.Round(line.Subtotal()),
			InStock:   p.CanFulfil(l.Quantity),
		})
	}
	if len(priced) == 0 {
		return view, nil
	}

	var promo *models.PromoCode
	if code != "" {
		p, err := s.store.GetPromo(ctx, code)
		switch {
		case err == nil:
			promo = &p
		case !errors.Is(err, store.ErrNotFound):
			return models.CartView{}, err
		}
	}

	quote, err := pricing.Evaluate(priced, code, promo, s.now())
	if err != nil {
		return models.CartView{}, err
	}
	view.TotalAmount = quote.Total
	view.DiscountAmount = quote.Discount
	view.FinalAmount = quote.Final
	view.PromoCode = quote.AppliedCode
	view.PromoRejection = quote.Rejection
	return view, nil
}

// Merge moves the session cart into the account cart, summing quantities on
// shared products. Lines for products no longer in the catalog are dropped.
// The session cart is deleted only after the account write,
// so a retried merge never double counts.
func (s *Service) Merge(ctx context.Context, sessionID string, accountID int64) (int, error) {
	lines, err := s.carts.Lines(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return 0, err
	}
	kept := lines[:0]
	for _, l := range lines {
		if _, ok := products[l.ProductID]; ok {
			kept = append(kept, l)
		}
	}
	lines = kept

	if len(lines) == 0 {
		return 0, s.carts.Clear(ctx, sessionID)
	}
	if err := s.store.AddAccountCartLines(ctx, accountID, lines); err != nil {
		return 0, fmt.Errorf("merge session cart into account %d: %w", accountID, err)
	}
	if err := s.carts.Clear(ctx, sessionID); err != nil {
		return 0, err
	}
	s.logger.Info("merged session cart",
		slog.String("session_id", sessionID),
		slog.Int64("account_id", accountID),
		slog.Int("lines", len(lines)))
	return len(lines), nil
}

// Login binds the session to the account and merges the session cart.
func (s *Service) Login(ctx context.Context, sessionID string, accountID int64) (int, error) {
	if err := s.sessions.Bind(ctx, sessionID, accountID); err != nil {
		return 0, err
	}
	return s.Merge(ctx, sessionID, accountID)
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Unbind(ctx, sessionID)
}
