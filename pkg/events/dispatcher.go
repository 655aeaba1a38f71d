// Package events fans committed order events out to notification and audit
// sinks without ever blocking the request that produced them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

// Sink receives every published event. Errors are logged by the dispatcher.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event models.OrderEvent) error
}

// Publisher is the producer side handed to checkout and the webhook.
type Publisher interface {
	Publish(event models.OrderEvent) bool
}

type Dispatcher struct {
	queue   chan models.OrderEvent
	sinks   []Sink
	workers int
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Publisher = (*Dispatcher)(nil)

func NewDispatcher(logger *slog.Logger, workers, buffer int, sinks ...Sink) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		queue:   make(chan models.OrderEvent, buffer),
		sinks:   sinks,
		workers: workers,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Publish enqueues event and reports whether it was accepted. A full buffer
// or a closed dispatcher drops the event.
func (d *Dispatcher) Publish(event models.OrderEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("event dropped after shutdown",
			slog.String("type", string(event.Type)),
			slog.Int64("order_id", event.OrderID))
		return false
	}
	select {
	case d.queue <- event:
		return true
	default:
		d.logger.Warn("event buffer full, dropping event",
			slog.String("type", string(event.Type)),
			slog.Int64("order_id", event.OrderID))
		return false
	}
}

// Run delivers events until Close has been called and the buffer is
// drained, or until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-d.queue:
					if !ok {
						return nil
					}
					d.deliver(ctx, event)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, event models.OrderEvent) {
	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(sinkCtx, event)
		cancel()
		if err != nil {
			d.logger.Error("event delivery failed",
				slog.String("sink", sink.Name()),
				slog.String("type", string(event.Type)),
				slog.Int64("order_id", event.OrderID),
				slog.Any("error", err))
		}
	}
}

// Close stops accepting events. Run returns once the buffer is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}
