package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"booking-payments/internal/server"
	"booking-payments/internal/worker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the payments HTTP API.

Examples:
  booking-payments serve
  booking-payments serve --reconcile=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := withSignals(cmd.Context())
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.NewServer(a.svc, a.db, a.log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx, fmt.Sprintf(":%d", a.cfg.Port))
			})
			if withWorker {
				rw := worker.NewReconciliationWorker(a.payments, a.svc, a.log,
					a.cfg.ReconcileInterval, a.cfg.ReconcileStuckAfter, a.cfg.ReconcileBatch)
				g.Go(func() error {
					rw.Run(gctx)
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&withWorker, "reconcile", true, "run the reconciliation worker alongside the API")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the payments schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			a.log.Info("schema up to date")
			return nil
		},
	}
}

func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
