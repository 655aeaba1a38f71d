package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/payment"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

// initiate asks the gateway for a payment using the order's stored
// idempotency key, so repeating it never creates a second charge. Orders
// that owe nothing are marked Paid directly.
func (s *Service) initiate(ctx context.Context, order *models.Order) (string, error) {
	log := s.logger.With(slog.Int64("order_id", order.ID))

	if order.FinalAmount.IsZero() {
		changed, err := s.store.TransitionOrder(ctx, order.ID, models.StatusPaid)
		if err != nil {
			log.Error("failed to settle zero amount order", slog.Any("error", err))
			return "", fmt.Errorf("%w: %w", ErrPaymentGateway, err)
		}
		if changed {
			order.Status = models.StatusPaid
			s.events.Publish(models.NewStatusEvent(order))
		}
		return "", nil
	}

	p, err := s.gateway.CreatePayment(ctx, payment.CreateRequest{
		OrderID:        order.ID,
		Amount:         order.FinalAmount,
		Description:    fmt.Sprintf("Order #%d", order.ID),
		IdempotencyKey: order.PaymentIdempotencyKey,
	})
	if err != nil {
		log.Warn("payment initiation failed, order left pending", slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}

	if err := s.store.SetPaymentReference(ctx, order.ID, p.ID); err != nil {
		log.Error("failed to record payment reference",
			slog.String("payment_id", p.ID),
			slog.Any("error", err))
		return "", fmt.Errorf("%w: record reference: %w", ErrPaymentGateway, err)
	}
	order.PaymentReference = &p.ID
	log.Info("payment initiated", slog.String("payment_id", p.ID))
	return p.ConfirmationURL, nil
}

// Order returns an order to its owner. Other owners get ErrOrderNotFound.
func (s *Service) Order(ctx context.Context, orderID int64, owner models.Owner) (models.Order, []models.OrderLine, error) {
	order, lines, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Order{}, nil, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, nil, err
	}
	if !order.OwnedBy(owner) {
		return models.Order{}, nil, ErrOrderNotFound
	}
	return order, lines, nil
}

// InitiatePayment retries payment for a Pending order. Stock and promo
// usage are untouched.
func (s *Service) InitiatePayment(ctx context.Context, orderID int64, owner models.Owner) (models.Order, string, error) {
	order, _, err := s.Order(ctx, orderID, owner)
	if err != nil {
		return models.Order{}, "", err
	}
	if !order.CanInitiatePayment() {
		return order, "", ErrOrderNotPending
	}
	url, err := s.initiate(ctx, &order)
	return order, url, err
}

type RetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryPendingPayments initiates payment for Pending orders that never got a
// payment reference and are older than olderThan.
func (s *Service) RetryPendingPayments(ctx context.Context, olderThan time.Duration, limit, concurrency int) (RetryReport, error) {
	orders, err := s.store.ListPendingWithoutPayment(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return RetryReport{}, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, order := range orders {
		g.Go(func() error {
			if _, err := s.initiate(gctx, &order); err != nil {
				failed.Add(1)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RetryReport{}, err
	}

	report := RetryReport{Attempted: len(orders), Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	s.logger.Info("pending payment retry finished",
		slog.Int("attempted", report.Attempted),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed))
	return report, nil
}
