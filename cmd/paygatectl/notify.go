package main

import (
	"fmt"

	"github.com/ayo6706/payment-aggregator/internal/app"
	"github.com/ayo6706/payment-aggregator/internal/db"
	"github.com/ayo6706/payment-aggregator/internal/notify"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Inspect and re-drive merchant notifications",
	}

	resend := &cobra.Command{
		Use:   "resend [order-id]",
		Short: "Deliver the notification for a settled order once, now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			pool, err := db.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			fwd := notify.NewForwarder(repository.NewStore(pool), app.NewHTTPClient(cfg.HTTPClientTimeout), cfg.NotifyTimeout, nil)
			if err := fwd.Resend(ctx, orderID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "notification for %s delivered\n", orderID)
			return nil
		},
	}

	var limit int32
	dead := &cobra.Command{
		Use:   "dead",
		Short: "List notification jobs that exhausted every attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			pool, err := db.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			fwd := notify.NewForwarder(repository.NewStore(pool), nil, cfg.NotifyTimeout, nil)
			jobs, err := fwd.DeadLetters(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, j := range jobs {
				fmt.Fprintf(out, "%s\torder=%s\tattempts=%d\t%s\n", j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"), j.OrderID, j.Attempt, j.LastError)
			}
			fmt.Fprintf(out, "%d dead notification(s)\n", len(jobs))
			return nil
		},
	}
	dead.Flags().Int32VarP(&limit, "limit", "n", 50, "maximum jobs to list")

	cmd.AddCommand(resend, dead)
	return cmd
}
