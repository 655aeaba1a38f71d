package events

import (
	"context"
	"log/slog"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

// LogSink writes events to the service log. It is the only sink when no
// broker or audit store is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(ctx context.Context, event models.OrderEvent) error {
	s.Logger.InfoContext(ctx, "order event",
		slog.String("type", string(event.Type)),
		slog.Int64("order_id", event.OrderID),
		slog.String("owner", event.Owner),
		slog.String("status", string(event.Status)),
		slog.String("final_amount", event.FinalAmount.StringFixed(2)))
	return nil
}
