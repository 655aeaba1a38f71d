package main

import (
	"context"
	"fmt"
	"log/slog"

	"julianmorley.ca/con-plar/megamart/internal/router"
	"julianmorley.ca/con-plar/megamart/pkg/events"
	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/kafka"
	"julianmorley.ca/con-plar/megamart/pkg/logger"
	"julianmorley.ca/con-plar/megamart/pkg/mongo"
	"julianmorley.ca/con-plar/megamart/pkg/payment"
	"julianmorley.ca/con-plar/megamart/pkg/store"
	"julianmorley.ca/con-plar/megamart/pkg/store/memstore"
	"julianmorley.ca/con-plar/megamart/pkg/store/sqlstore"
)

// app holds what both the server and the maintenance commands need:
// the store, the payment gateway and the event pipeline.
type app struct {
	cfg     global.Config
	log     *slog.Logger
	store   store.Store
	gateway payment.Gateway
	events  *events.Dispatcher
	audit   mongo.History
	checks  []router.HealthCheck
	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := global.LoadConfig()
	if err != nil {
		return nil, err
	}
	rt := &app{
		cfg: cfg,
		log: logger.New(logger.Options{
			Service: cfg.Service,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
		}),
		audit: mongo.NoHistory{},
	}
	if err := rt.open(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *app) open(ctx context.Context) error {
	cfg := rt.cfg

	switch cfg.Database.Driver {
	case "memory":
		rt.log.Warn("using in-memory store, data is lost on exit")
		rt.store = memstore.New(cfg.Database.LockTimeout)
	default:
		st, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.LockTimeout)
		if err != nil {
			return err
		}
		rt.store = st
	}
	rt.closers = append(rt.closers, func() { _ = rt.store.Close() })

	sinks := []events.Sink{events.LogSink{Logger: rt.log}}

	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = client.Disconnect(context.Background()) })

		db := client.Database(cfg.Mongo.Database)
		idxCtx, cancel := global.GetDefaultTimer()
		err = mongo.EnsureIndexes(idxCtx, db, rt.log)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}

		audit := mongo.NewAuditSink(db)
		sinks = append(sinks, audit)
		rt.audit = audit
		rt.checks = append(rt.checks, router.HealthCheck{
			Name: "mongo",
			Ping: func(ctx context.Context) error { return client.Ping(ctx, nil) },
		})
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		sink := kafka.NewNotificationSink(producer, cfg.Kafka.NotificationTopic)
		rt.closers = append(rt.closers, func() { _ = sink.Close() })
		sinks = append(sinks, sink)
	}

	rt.events = events.NewDispatcher(rt.log, cfg.Events.Workers, cfg.Events.Buffer, sinks...)

	if cfg.Payment.ShopID == "" {
		rt.log.Warn("PAYMENT_SHOP_ID not set, payments are created offline")
		rt.gateway = payment.Offline{ReturnURL: cfg.Payment.ReturnURL}
	} else {
		rt.gateway = payment.NewClient(cfg.Payment)
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (rt *app) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
