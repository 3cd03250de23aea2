package main

import (
	"booking-payments/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func reconcileCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle payments stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := withSignals(cmd.Context())
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rw := worker.NewReconciliationWorker(a.payments, a.svc, a.log,
				a.cfg.ReconcileInterval, a.cfg.ReconcileStuckAfter, a.cfg.ReconcileBatch)

			if !once {
				rw.Run(ctx)
				return nil
			}

			res, err := rw.RunOnce(ctx)
			if err != nil {
				return err
			}
			a.log.Info("reconciliation complete",
				zap.Int("scanned", res.Scanned),
				zap.Int("confirmed", res.Confirmed),
				zap.Int("failed", res.Failed),
				zap.Int("skipped", res.Skipped),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}
