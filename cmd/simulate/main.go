package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"booking-payments/internal/domain"
	"booking-payments/internal/infrastructure/payment"
	"booking-payments/internal/repo"
	"booking-payments/internal/service"
	"booking-payments/internal/worker"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// flakyGateway drops every nth intent request on the floor, the way a gateway
// that times out after the student was already redirected would.
type flakyGateway struct {
	*payment.SandboxGateway
	every int
	calls int
}

func (g *flakyGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*payment.Intent, error) {
	g.calls++
	if g.every > 0 && g.calls%g.every == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.SandboxGateway.CreateIntent(ctx, amount, metadata)
}

func main() {
	var (
		count        int
		timeoutEvery int
		declineEvery int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run online payments against the sandbox gateway and reconcile the leftovers",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync()
			return simulate(cmd.Context(), log, count, timeoutEvery, declineEvery)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 20, "number of payments")
	cmd.Flags().IntVar(&timeoutEvery, "timeout-every", 5, "every nth intent request times out")
	cmd.Flags().IntVar(&declineEvery, "decline-every", 4, "every nth transaction is declined")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const gatewayTimeout = 200 * time.Millisecond

func simulate(ctx context.Context, log *zap.Logger, count, timeoutEvery, declineEvery int) error {
	store := repo.NewMemoryPaymentRepo()
	gateway := &flakyGateway{SandboxGateway: payment.NewSandboxGateway("https://sandbox.payments.local"), every: timeoutEvery}
	svc := service.NewPaymentService(store, gateway,
		service.WithLogger(log),
		service.WithGatewayTimeout(gatewayTimeout),
	)

	fmt.Printf("--- STARTING SIMULATION (%d PAYMENTS) ---\n", count)
	for i := 1; i <= count; i++ {
		p, err := svc.CreatePayment(ctx, service.CreatePaymentRequest{
			StudentID:     fmt.Sprintf("student-%d", i%3+1),
			ReferenceType: domain.ReferenceLesson,
			ReferenceID:   fmt.Sprintf("lesson-%d", i),
			Amount:        decimal.NewFromInt(int64(40 + i)),
			Method:        domain.MethodOnline,
		})
		if err != nil {
			return err
		}

		fmt.Printf("[%d] Initiating %s ... ", i, p.ID)
		res, err := svc.InitiateOnlineProcessing(ctx, p.ID)
		if err != nil {
			fmt.Printf("FAILED: %s\n", domain.KindOf(err))
		} else {
			fmt.Printf("OK %s\n", res.PaymentURL)
			if declineEvery > 0 && i%declineEvery == 0 {
				gateway.ScriptConfirm(res.TransactionID, false)
			}
			// Only half of the students come back through the callback.
			if i%2 == 0 {
				if _, err := svc.ConfirmPayment(ctx, res.TransactionID); err != nil {
					fmt.Printf("    confirm failed: %v\n", err)
				}
			}
		}

		fresh, err := svc.GetPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		fmt.Printf("    -> Store status: %s\n", fresh.Status)
	}

	// Only payments older than the gateway timeout count as stuck.
	stuckAfter := 2 * gatewayTimeout
	time.Sleep(stuckAfter + 50*time.Millisecond)

	fmt.Println("--- RECONCILING ---")
	rw := worker.NewReconciliationWorker(store, svc, log, time.Second, stuckAfter, 100)
	res, err := rw.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scanned=%d confirmed=%d failed=%d skipped=%d\n", res.Scanned, res.Confirmed, res.Failed, res.Skipped)

	for s := 1; s <= 3; s++ {
		summary, err := svc.GetSummary(ctx, fmt.Sprintf("student-%d", s))
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d payments, total %s, paid %s, pending %s\n",
			summary.StudentID, summary.Count, summary.TotalAmount, summary.PaidAmount, summary.PendingAmount)
	}
	return nil
}
