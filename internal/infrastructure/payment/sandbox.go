package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

type sandboxIntent struct {
	amount   decimal.Decimal
	metadata map[string]string
	settled  *bool
	refunded *bool
}

// SandboxGateway is a deterministic in-memory gateway. Outcomes default to
// success and can be scripted per transaction; nothing is random.
type SandboxGateway struct {
	mu      sync.Mutex
	baseURL string
	seq     int
	intents map[string]*sandboxIntent

	confirmScript map[string]bool
	refundScript  map[string]bool
}

func NewSandboxGateway(baseURL string) *SandboxGateway {
	return &SandboxGateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		intents:       make(map[string]*sandboxIntent),
		confirmScript: make(map[string]bool),
		refundScript:  make(map[string]bool),
	}
}

// ScriptConfirm fixes the settlement outcome of a transaction, issued or not yet issued.
func (g *SandboxGateway) ScriptConfirm(transactionID string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmScript[transactionID] = success
}

// ScriptRefund fixes whether a refund of the transaction is accepted.
func (g *SandboxGateway) ScriptRefund(transactionID string, accepted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundScript[transactionID] = accepted
}

// NextTransactionID returns the id the next CreateIntent will issue.
func (g *SandboxGateway) NextTransactionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("txn_%d", g.seq+1)
}

func (g *SandboxGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("sandbox: amount must be positive, got %s", amount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("txn_%d", g.seq)
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	g.intents[id] = &sandboxIntent{amount: amount, metadata: meta}

	return &Intent{
		TransactionID: id,
		Status:        "created",
		PaymentURL:    g.baseURL + "/pay/" + id,
	}, nil
}

// Confirm settles the intent on first call and reports the same answer afterwards.
func (g *SandboxGateway) Confirm(ctx context.Context, transactionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[transactionID]
	if !ok {
		return false, fmt.Errorf("sandbox: %w: %s", ErrUnknownTransaction, transactionID)
	}
	if intent.settled == nil {
		success := true
		if scripted, ok := g.confirmScript[transactionID]; ok {
			success = scripted
		}
		intent.settled = &success
	}
	return *intent.settled, nil
}

func (g *SandboxGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[transactionID]
	if !ok {
		return false, fmt.Errorf("sandbox: %w: %s", ErrUnknownTransaction, transactionID)
	}
	// Same transaction id, same answer.
	if intent.refunded != nil {
		return *intent.refunded, nil
	}

	accepted := intent.settled != nil && *intent.settled && amount.LessThanOrEqual(intent.amount)
	if scripted, ok := g.refundScript[transactionID]; ok {
		accepted = accepted && scripted
	}
	intent.refunded = &accepted
	return accepted, nil
}

var _ PaymentGateway = (*SandboxGateway)(nil)
