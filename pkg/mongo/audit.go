package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

type OrderEventDoc struct {
	ID          bson.ObjectID      `bson:"_id,omitempty" json:"id"`
	Type        models.EventType   `bson:"type" json:"type"`
	OrderID     int64              `bson:"order_id" json:"order_id"`
	Owner       string             `bson:"owner" json:"owner"`
	Status      models.OrderStatus `bson:"status" json:"status"`
	FinalAmount bson.Decimal128    `bson:"final_amount" json:"final_amount"`
	Lines       []models.EventLine `bson:"lines,omitempty" json:"lines,omitempty"`
	OccurredAt  time.Time          `bson:"occurred_at" json:"occurred_at"`
}

// AuditSink keeps the order audit trail: one order_events document per event
// and, for placed orders, one inventory_logs sale entry per line.
type AuditSink struct {
	db *mongo.Database
}

func NewAuditSink(db *mongo.Database) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Name() string { return "mongo-audit" }

func (s *AuditSink) Deliver(ctx context.Context, event models.OrderEvent) error {
	doc, err := toEventDoc(event)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(OrderEventsCollection).InsertOne(ctx, doc); err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert order event: %w", err)
	}

	logs := inventoryLogs(event)
	if len(logs) == 0 {
		return nil
	}
	_, err = s.db.Collection(InventoryLogsCollection).InsertMany(ctx, logs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert inventory logs: %w", err)
	}
	return nil
}

func toEventDoc(event models.OrderEvent) (OrderEventDoc, error) {
	amount, err := bson.ParseDecimal128(event.FinalAmount.StringFixed(2))
	if err != nil {
		return OrderEventDoc{}, fmt.Errorf("convert final amount: %w", err)
	}
	return OrderEventDoc{
		Type:        event.Type,
		OrderID:     event.OrderID,
		Owner:       event.Owner,
		Status:      event.Status,
		FinalAmount: amount,
		Lines:       event.Lines,
		OccurredAt:  event.OccurredAt,
	}, nil
}

// inventoryLogs turns the lines of a placed order into sale entries.
func inventoryLogs(event models.OrderEvent) []models.InventoryLog {
	if event.Type != models.EventOrderPlaced {
		return nil
	}
	logs := make([]models.InventoryLog, 0, len(event.Lines))
	for _, l := range event.Lines {
		entry := models.InventoryLog{
			ProductID:      l.ProductID,
			SKU:            l.SKU,
			OrderID:        event.OrderID,
			ChangeType:     models.ChangeTypeSale,
			QuantityBefore: l.StockBefore,
			QuantityAfter:  l.StockAfter,
			PerformedBy:    event.Owner,
			Timestamp:      event.OccurredAt,
		}
		entry.CalculateQuantityChanged()
		entry.Reason = fmt.Sprintf("order %d: %s", event.OrderID, entry.GetChangeDescription())
		entry.SetTimestamp()
		logs = append(logs, entry)
	}
	return logs
}

// InventoryHistory returns a product's most recent inventory changes.
func (s *AuditSink) InventoryHistory(ctx context.Context, productID int64, limit int64) ([]models.InventoryLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	cursor, err := s.db.Collection(InventoryLogsCollection).Find(ctx, bson.D{{Key: "product_id", Value: productID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := []models.InventoryLog{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// OrderEvents returns the recorded events of one order, oldest first.
func (s *AuditSink) OrderEvents(ctx context.Context, orderID int64) ([]OrderEventDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}})
	cursor, err := s.db.Collection(OrderEventsCollection).Find(ctx, bson.D{{Key: "order_id", Value: orderID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := []OrderEventDoc{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

var errNoAudit = errors.New("audit store is not configured")

// History is the read side of the audit trail used by the admin endpoints.
type History interface {
	InventoryHistory(ctx context.Context, productID int64, limit int64) ([]models.InventoryLog, error)
	OrderEvents(ctx context.Context, orderID int64) ([]OrderEventDoc, error)
}

// NoHistory answers every query with an error when Mongo is disabled.
type NoHistory struct{}

func (NoHistory) InventoryHistory(context.Context, int64, int64) ([]models.InventoryLog, error) {
	return nil, errNoAudit
}

func (NoHistory) OrderEvents(context.Context, int64) ([]OrderEventDoc, error) {
	return nil, errNoAudit
}

func IsNotConfigured(err error) bool {
	return errors.Is(err, errNoAudit)
}
