// Package checkout turns a cart into a durable order. Stock is decremented
// under exclusive product row locks inside one transaction, and payment is
// initiated once that transaction has committed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"julianmorley.ca/con-plar/megamart/pkg/cart"
	"julianmorley.ca/con-plar/megamart/pkg/events"
	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/payment"
	"julianmorley.ca/con-plar/megamart/pkg/pricing"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

const maxAddressLength = 500

type Config struct {
	// MaxAttempts bounds how often a transaction failing with a transient
	// storage error is run.
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Service struct {
	store   store.Store
	gateway payment.Gateway
	events  events.Publisher
	logger  *slog.Logger
	cfg     Config

	now    func() time.Time
	newKey func() string
}

func NewService(st store.Store, gateway payment.Gateway, publisher events.Publisher, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Service{
		store:   st,
		gateway: gateway,
		events:  publisher,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		newKey:  uuid.NewString,
	}
}

type Request struct {
	Source          cart.Source
	ShippingAddress string
	PromoCode       string
}

type Result struct {
	Order models.Order
	Lines []models.OrderLine
	// PromoRejection is set when the supplied code was dropped and the order
	// placed at full price.
	PromoRejection *models.PromoRejection
	PaymentURL     string
	// PaymentErr is set when the order committed but payment could not be
	// initiated. The order stays Pending and can be paid later.
	PaymentErr error
}

// placement is what one successful transaction produced.
type placement struct {
	order     models.Order
	lines     []models.OrderLine
	rejection *models.PromoRejection
	event     []models.EventLine
}

// PlaceOrder validates the request, runs the placement transaction with
// bounded retry on transient storage errors, then initiates payment.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (Result, error) {
	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" || utf8.RuneCountInString(address) > maxAddressLength {
		return Result{}, ErrInvalidAddress
	}
	code := models.NormalizePromoCode(req.PromoCode)
	if err := pricing.CheckCode(code); err != nil {
		return Result{}, err
	}

	placed, err := s.placeWithRetry(ctx, req.Source, address, code)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("order placed",
		slog.Int64("order_id", placed.order.ID),
		slog.String("owner", placed.order.Owner),
		slog.String("final_amount", placed.order.FinalAmount.StringFixed(2)))
	s.events.Publish(models.OrderEvent{
		Type:        models.EventOrderPlaced,
		OrderID:     placed.order.ID,
		Owner:       placed.order.Owner,
		Status:      placed.order.Status,
		FinalAmount: placed.order.FinalAmount,
		Lines:       placed.event,
		OccurredAt:  placed.order.CreatedAt,
	})

	res := Result{Order: placed.order, Lines: placed.lines, PromoRejection: placed.rejection}
	res.PaymentURL, res.PaymentErr = s.initiate(ctx, &res.Order)
	return res, nil
}

func (s *Service) placeWithRetry(ctx context.Context, src cart.Source, address, code string) (placement, error) {
	for attempt := 1; ; attempt++ {
		placed, err := s.place(ctx, src, address, code)
		if err == nil {
			return placed, nil
		}
		if !store.IsTransient(err) {
			return placement{}, err
		}
		if attempt >= s.cfg.MaxAttempts {
			s.logger.Error("checkout retries exhausted",
				slog.String("owner", src.Owner().String()),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return placement{}, fmt.Errorf("%w: %w", ErrTransient, err)
		}

		s.logger.Warn("retrying checkout after transient error",
			slog.String("owner", src.Owner().String()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		timer := time.NewTimer(s.cfg.RetryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return placement{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// place runs one attempt. Locks are taken in a fixed order: the account
// cart, products by ascending id, then the promo row.
func (s *Service) place(ctx context.Context, src cart.Source, address, code string) (placement, error) {
	var out placement
	err := s.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		cartLines, err := src.Lines(ctx, tx)
		if err != nil {
			return err
		}
		if len(cartLines) == 0 {
			return ErrEmptyCart
		}
		cartLines = append([]models.CartLine(nil), cartLines...)
		sort.Slice(cartLines, func(i, j int) bool { return cartLines[i].ProductID < cartLines[j].ProductID })

		locked := make([]models.Product, len(cartLines))
		priced := make([]pricing.Line, len(cartLines))
		for i, l := range cartLines {
			p, err := tx.LockProduct(ctx, l.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return &ProductUnavailableError{ProductID: l.ProductID}
			}
			if err != nil {
				return err
			}
			if p.StockQuantity < l.Quantity {
				return &InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   l.Quantity,
					Available:   p.StockQuantity,
				}
			}
			locked[i] = p
			priced[i] = pricing.Line{ProductID: p.ID, Price: p.Price, Quantity: l.Quantity}
		}

		var promo *models.PromoCode
		if code != "" {
			p, err := tx.LockPromo(ctx, code)
			switch {
			case err == nil:
				promo = &p
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		now := s.now().UTC()
		quote, err := pricing.Evaluate(priced, code, promo, now)
		if err != nil {
			return err
		}

		order := &models.Order{
			Owner:                 src.Owner().String(),
			Status:                models.StatusPending,
			TotalAmount:           quote.Total,
			DiscountAmount:        quote.Discount,
			FinalAmount:           quote.Final,
			ShippingAddress:       address,
			PaymentIdempotencyKey: s.newKey(),
			CreatedAt:             now,
		}
		if quote.AppliedCode != "" {
			applied := quote.AppliedCode
			order.PromoCode = &applied
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		lines := make([]models.OrderLine, len(cartLines))
		eventLines := make([]models.EventLine, len(cartLines))
		purchased := make([]int64, len(cartLines))
		for i, l := range cartLines {
			p := locked[i]
			if err := tx.DecrementStock(ctx, p.ID, l.Quantity); err != nil {
				return err
			}
			lines[i] = models.OrderLine{OrderID: order.ID, ProductID: p.ID, Quantity: l.Quantity, UnitPrice: p.Price}
			eventLines[i] = models.EventLine{
				ProductID:   p.ID,
				SKU:         p.SKU,
				Quantity:    l.Quantity,
				UnitPrice:   p.Price,
				StockBefore: p.StockQuantity,
				StockAfter:  p.StockQuantity - l.Quantity,
			}
			purchased[i] = p.ID
		}
		if err := tx.CreateOrderLines(ctx, lines); err != nil {
			return err
		}
		if err := src.Clear(ctx, tx, purchased); err != nil {
			return err
		}
		if quote.AppliedCode != "" {
			if err := tx.IncrementPromoUsage(ctx, quote.AppliedCode); err != nil {
				return err
			}
		}

		out = placement{order: *order, lines: lines, rejection: quote.Rejection, event: eventLines}
		return nil
	})
	return out, err
}
