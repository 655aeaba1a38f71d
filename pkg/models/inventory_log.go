package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const ChangeTypeSale = "sale"

// InventoryLog represents a record of inventory changes for audit trail
type InventoryLog struct {
	ID              bson.ObjectID `bson:"_id,omitempty" json:"id"`
	ProductID       int64         `bson:"product_id" json:"product_id"`
	SKU             string        `bson:"sku" json:"sku"`
	OrderID         int64         `bson:"order_id,omitempty" json:"order_id,omitempty"`
	ChangeType      string        `bson:"change_type" json:"change_type"`
	QuantityBefore  int           `bson:"quantity_before" json:"quantity_before"`
	QuantityAfter   int           `bson:"quantity_after" json:"quantity_after"`
	QuantityChanged int           `bson:"quantity_changed" json:"quantity_changed"` // Can be positive or negative
	Reason          string        `bson:"reason" json:"reason"`
	PerformedBy     string        `bson:"performed_by" json:"performed_by"` // Owner string or "system"
	Timestamp       time.Time     `bson:"timestamp" json:"timestamp"`
}

// SetTimestamp sets the creation timestamp
func (il *InventoryLog) SetTimestamp() {
	if il.Timestamp.IsZero() {
		il.Timestamp = time.Now().UTC()
	}
}

// CalculateQuantityChanged calculates the difference between before and after
func (il *InventoryLog) CalculateQuantityChanged() {
	il.QuantityChanged = il.QuantityAfter - il.QuantityBefore
}

// GetChangeDescription returns a human-readable description of the change
func (il *InventoryLog) GetChangeDescription() string {
	switch {
	case il.QuantityChanged > 0:
		return fmt.Sprintf("increased by %d units", il.QuantityChanged)
	case il.QuantityChanged < 0:
		return fmt.Sprintf("decreased by %d units", -il.QuantityChanged)
	}
	return "unchanged"
}
