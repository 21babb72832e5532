package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/app"
	checkoutdb "storefront/internal/db/checkout"

	"github.com/spf13/cobra"
)

func initSchemaCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the products, orders, cart and saga journal tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := e.openDB(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := checkoutdb.NewStore(db).InitSchema(cmd.Context()); err != nil {
				return fmt.Errorf("init store schema: %w", err)
			}
			if err := checkoutdb.NewJournal(db).InitSchema(cmd.Context()); err != nil {
				return fmt.Errorf("init journal schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

func reconcileCmd(e env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute reserved counters from Pending orders and fix drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				drifts, err := a.Service.ReconcileCounters(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(drifts)
				}
				if len(drifts) == 0 {
					fmt.Fprintln(out, "no drift")
					return nil
				}
				for _, d := range drifts {
					fmt.Fprintf(out, "%s reserved %d -> %d\n", d.ProductID, d.Reserved, d.Expected)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func expireCmd(e env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Release Pending orders older than the grace window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				n, err := a.Service.ExpireAbandoned(ctx, olderThan)
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d order(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().Duration("older-than", 30*time.Minute, "Grace window for Pending orders")
	return cmd
}

func releaseCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "release <sessionId>",
		Short: "Release the reservation held by a payment session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				if err := a.Service.Release(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", args[0])
				return nil
			})
		},
	}
}

func cancelCmd(e env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <orderId>",
		Short: "Cancel a Pending order and return its stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return withApp(cmd, e, func(ctx context.Context, a *app.App) error {
				order, err := a.Service.Cancel(ctx, args[0], reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", order.ID, order.Status, order.StatusMessage)
				return nil
			})
		},
	}
	cmd.Flags().StringP("reason", "r", "", "Reason recorded on the order")
	return cmd
}
