package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"julianmorley.ca/con-plar/megamart/internal/checkout"
)

func paymentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "payment maintenance",
	}
	cmd.AddCommand(paymentsRetryCommand())
	return cmd
}

func paymentsRetryCommand() *cobra.Command {
	var (
		olderThan   time.Duration
		limit       int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "initiate payment for pending orders that never reached the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			dispatchDone := make(chan error, 1)
			go func() { dispatchDone <- rt.events.Run(context.WithoutCancel(ctx)) }()

			svc := checkout.NewService(rt.store, rt.gateway, rt.events, rt.log, checkout.Config{MaxAttempts: rt.cfg.Checkout.MaxAttempts})
			report, err := svc.RetryPendingPayments(ctx, olderThan, limit, concurrency)

			rt.events.Close()
			<-dispatchDone
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only orders created before now minus this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum orders to process")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel gateway calls")
	return cmd
}
