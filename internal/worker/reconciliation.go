package worker

import (
	"context"
	"time"

	"booking-payments/internal/domain"
	"booking-payments/internal/repo"
	"booking-payments/internal/service"

	"go.uber.org/zap"
)

// ReasonIntentMissing marks payments that reached processing but never got a gateway id.
const ReasonIntentMissing = "gateway_intent_missing"

const DefaultInterval = time.Minute

type ReconciliationWorker struct {
	payments   repo.PaymentRepo
	svc        service.PaymentService
	log        *zap.Logger
	interval   time.Duration
	stuckAfter time.Duration
	batch      int
	now        func() time.Time
}

// Result counts what one reconciliation pass did.
type Result struct {
	Scanned   int
	Confirmed int
	Failed    int
	Skipped   int
}

func NewReconciliationWorker(
	payments repo.PaymentRepo,
	svc service.PaymentService,
	log *zap.Logger,
	interval time.Duration,
	stuckAfter time.Duration,
	batch int,
) *ReconciliationWorker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &ReconciliationWorker{
		payments:   payments,
		svc:        svc,
		log:        log.Named("reconciliation"),
		interval:   interval,
		stuckAfter: stuckAfter,
		batch:      batch,
		now:        time.Now,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.log.Info("reconciliation worker started",
		zap.Duration("interval", rw.interval),
		zap.Duration("stuck_after", rw.stuckAfter),
	)

	for {
		select {
		case <-ctx.Done():
			rw.log.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil {
				rw.log.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce sweeps processing payments older than the stuck threshold. Payments
// with a gateway id are settled by asking the gateway; payments without one
// never reached the gateway and are failed. Per-payment errors are logged and
// left for the next pass.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	stuck, err := rw.payments.FindProcessingBefore(ctx, rw.now().Add(-rw.stuckAfter), rw.batch)
	if err != nil {
		return res, err
	}
	res.Scanned = len(stuck)
	if len(stuck) == 0 {
		return res, nil
	}

	rw.log.Info("found stuck payments", zap.Int("count", len(stuck)))

	for _, p := range stuck {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if p.GatewayTransactionID == nil {
			if _, err := rw.svc.FailStuckPayment(ctx, p.ID, ReasonIntentMissing); err != nil {
				rw.log.Warn("could not fail stuck payment",
					zap.String("payment_id", p.ID.String()),
					zap.Error(err),
				)
				res.Skipped++
				continue
			}
			res.Failed++
			continue
		}

		settled, err := rw.svc.ConfirmPayment(ctx, *p.GatewayTransactionID)
		if err != nil {
			rw.log.Warn("could not confirm stuck payment",
				zap.String("payment_id", p.ID.String()),
				zap.String("transaction_id", *p.GatewayTransactionID),
				zap.Stringer("kind", domain.KindOf(err)),
				zap.Error(err),
			)
			res.Skipped++
			continue
		}
		if settled.Status == domain.PaymentFailed {
			res.Failed++
		} else {
			res.Confirmed++
		}
	}

	rw.log.Info("reconciliation pass finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("confirmed", res.Confirmed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
