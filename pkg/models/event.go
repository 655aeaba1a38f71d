package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderPlaced EventType = "order.placed"
	EventOrderPaid   EventType = "order.paid"
	EventOrderFailed EventType = "order.failed"
)

type EventLine struct {
	ProductID   int64           `json:"product_id" bson:"product_id"`
	SKU         string          `json:"sku" bson:"sku"`
	Quantity    int             `json:"quantity" bson:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" bson:"-"`
	StockBefore int             `json:"stock_before" bson:"stock_before"`
	StockAfter  int             `json:"stock_after" bson:"stock_after"`
}

// OrderEvent is published after a state change has been committed.
type OrderEvent struct {
	Type        EventType       `json:"type"`
	OrderID     int64           `json:"order_id"`
	Owner       string          `json:"owner"`
	Status      OrderStatus     `json:"status"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Lines       []EventLine     `json:"lines,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func NewStatusEvent(order *Order) OrderEvent {
	eventType := EventOrderFailed
	if order.Status == StatusPaid {
		eventType = EventOrderPaid
	}
	return OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		Owner:       order.Owner,
		Status:      order.Status,
		FinalAmount: order.FinalAmount,
		OccurredAt:  time.Now().UTC(),
	}
}
