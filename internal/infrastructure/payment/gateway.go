package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnknownTransaction is returned for transaction ids the gateway never issued.
var ErrUnknownTransaction = errors.New("unknown gateway transaction")

// Intent is the gateway-side reservation created before money moves.
type Intent struct {
	TransactionID string
	Status        string
	PaymentURL    string
}

// PaymentGateway is the external processor. Every call is an independent network
// round trip that may fail or time out; implementations must honour ctx.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*Intent, error)
	// Confirm reports whether the transaction settled successfully.
	Confirm(ctx context.Context, transactionID string) (bool, error)
	// Refund reports whether the gateway accepted the refund. The transaction id
	// doubles as the gateway's idempotency key, so a retried refund is one refund.
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (bool, error)
}
