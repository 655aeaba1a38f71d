package events

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/megamart/pkg/logger"
	"julianmorley.ca/con-plar/megamart/pkg/models"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []models.OrderEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, event models.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("broker down")}
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher(logger.Nop(), 2, 16, failing, ok)

	for i := int64(1); i <= 5; i++ {
		require.True(t, d.Publish(models.OrderEvent{Type: models.EventOrderPaid, OrderID: i}))
	}
	d.Close()
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, 5, failing.count())
	assert.Equal(t, 5, ok.count())
}

func TestPublishNeverBlocks(t *testing.T) {
	d := NewDispatcher(logger.Nop(), 1, 1)

	assert.True(t, d.Publish(models.OrderEvent{OrderID: 1}))
	assert.False(t, d.Publish(models.OrderEvent{OrderID: 2}))

	d.Close()
	d.Close()
	assert.False(t, d.Publish(models.OrderEvent{OrderID: 3}))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := NewDispatcher(logger.Nop(), 3, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: logger.New(logger.Options{Service: "test", Output: &buf})}
	require.NoError(t, sink.Deliver(context.Background(), models.OrderEvent{Type: models.EventOrderPlaced, OrderID: 9}))
	assert.Contains(t, buf.String(), `"order_id":9`)
	assert.Contains(t, buf.String(), `"type":"order.placed"`)
}
