// Package webhook applies payment gateway notifications to orders. Every
// notification is acknowledged except when storage is temporarily
// unavailable, in which case the gateway is asked to redeliver.
package webhook

import (
	"context"
	"errors"
	"log/slog"

	"julianmorley.ca/con-plar/megamart/pkg/events"
	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeStale        Outcome = "stale"
	OutcomeUnknownOrder Outcome = "unknown_order"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeFailed       Outcome = "failed"
	OutcomeRetry        Outcome = "retry"
)

// Retry reports whether the gateway should redeliver.
func (o Outcome) Retry() bool {
	return o == OutcomeRetry
}

type Handler struct {
	orders store.Orders
	events events.Publisher
	logger *slog.Logger
}

func NewHandler(orders store.Orders, publisher events.Publisher, logger *slog.Logger) *Handler {
	return &Handler{orders: orders, events: publisher, logger: logger}
}

func (h *Handler) Process(ctx context.Context, body []byte) Outcome {
	event, err := Parse(body)
	switch {
	case errors.Is(err, ErrUnsupportedEvent):
		h.logger.Info("ignoring webhook event", slog.String("event", event.Name))
		return OutcomeIgnored
	case err != nil:
		h.logger.Warn("malformed webhook payload", slog.Any("error", err))
		return OutcomeMalformed
	}

	log := h.logger.With(
		slog.Int64("order_id", event.OrderID),
		slog.String("event", event.Name),
		slog.String("payment_id", event.PaymentID))

	order, _, err := h.orders.GetOrder(ctx, event.OrderID)
	if err != nil {
		return h.storageFailure(log, "look up order", err)
	}

	if order.Status.IsTerminal() {
		log.Info("webhook for settled order acknowledged", slog.String("status", string(order.Status)))
		return OutcomeDuplicate
	}
	if order.HasPaymentReference() && event.PaymentID != "" && *order.PaymentReference != event.PaymentID {
		log.Warn("webhook for superseded payment attempt", slog.String("current_payment_id", *order.PaymentReference))
		return OutcomeStale
	}

	changed, err := h.orders.TransitionOrder(ctx, order.ID, event.Status)
	if err != nil {
		return h.storageFailure(log, "transition order", err)
	}
	if !changed {
		log.Info("order settled concurrently, webhook acknowledged")
		return OutcomeDuplicate
	}

	order.Status = event.Status
	log.Info("order status updated", slog.String("status", string(order.Status)))
	h.events.Publish(models.NewStatusEvent(&order))
	return OutcomeApplied
}

func (h *Handler) storageFailure(log *slog.Logger, op string, err error) Outcome {
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("webhook references unknown order")
		return OutcomeUnknownOrder
	case store.IsTransient(err):
		log.Warn("transient storage error, asking gateway to retry", slog.String("op", op), slog.Any("error", err))
		return OutcomeRetry
	default:
		log.Error("webhook storage error", slog.String("op", op), slog.Any("error", err))
		return OutcomeFailed
	}
}
