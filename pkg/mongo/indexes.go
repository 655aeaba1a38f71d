package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	InventoryLogsCollection = "inventory_logs"
	OrderEventsCollection   = "order_events"
)

type IndexConfig struct {
	CollectionName string
	IndexModel     mongo.IndexModel
}

var requiredIndexes = []IndexConfig{
	// Recent inventory changes across the catalog
	{
		CollectionName: InventoryLogsCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "timestamp", Value: -1},
				{Key: "sku", Value: 1},
			},
			Options: options.Index().SetName("idx_inventory_time"),
		},
	},
	// Per-product history
	{
		CollectionName: InventoryLogsCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "product_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("idx_product_history"),
		},
	},
	// One sale entry per order line, so a redelivered event is a no-op
	{
		CollectionName: InventoryLogsCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "order_id", Value: 1},
				{Key: "product_id", Value: 1},
				{Key: "change_type", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_order_line_unique"),
		},
	},
	// One document per order and event type
	{
		CollectionName: OrderEventsCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "order_id", Value: 1},
				{Key: "type", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_order_event_unique"),
		},
	},
	{
		CollectionName: OrderEventsCollection,
		IndexModel: mongo.IndexModel{
			Keys:    bson.D{{Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("idx_event_time"),
		},
	},
}

func EnsureIndexes(ctx context.Context, db *mongo.Database, logger *slog.Logger) error {
	for _, idxConfig := range requiredIndexes {
		indexName, err := db.Collection(idxConfig.CollectionName).Indexes().CreateOne(ctx, idxConfig.IndexModel)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", idxConfig.CollectionName, err)
		}
		logger.Debug("ensured index",
			slog.String("collection", idxConfig.CollectionName),
			slog.String("index", indexName))
	}
	logger.Info("mongo indexes ready", slog.Int("count", len(requiredIndexes)))
	return nil
}
