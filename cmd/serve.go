package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"julianmorley.ca/con-plar/megamart/internal/checkout"
	"julianmorley.ca/con-plar/megamart/internal/router"
	"julianmorley.ca/con-plar/megamart/internal/webhook"
	"julianmorley.ca/con-plar/megamart/pkg/cart"
	"julianmorley.ca/con-plar/megamart/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	rt, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	carts := cart.NewService(rt.store,
		redis.NewCarts(rdb, cfg.Redis.CartTTL),
		redis.NewSessions(rdb, cfg.Redis.SessionTTL),
		rt.log)
	orders := checkout.NewService(rt.store, rt.gateway, rt.events, rt.log, checkout.Config{
		MaxAttempts:  cfg.Checkout.MaxAttempts,
		RetryBackoff: cfg.Checkout.RetryBackoff,
	})

	engine, err := router.NewEngine(cfg, router.Deps{
		Store:    rt.store,
		Carts:    carts,
		Checkout: orders,
		Webhook:  webhook.NewHandler(rt.store, rt.events, rt.log),
		Audit:    rt.audit,
		Checks: append(rt.checks, router.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		Logger: rt.log,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Delivery keeps running through shutdown so events published by
	// in-flight requests still reach the sinks.
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- rt.events.Run(context.WithoutCancel(ctx)) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.log.Info("server is running", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		rt.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	rt.events.Close()
	select {
	case <-dispatchDone:
	case <-time.After(shutdownTimeout):
		rt.log.Warn("event delivery did not drain before shutdown")
	}
	return err
}
