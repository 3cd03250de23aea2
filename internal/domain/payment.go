package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentConfirmed  PaymentStatus = "confirmed"
	PaymentRefunded   PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentPaid, PaymentFailed, PaymentConfirmed, PaymentRefunded:
		return true
	}
	return false
}

// IsSettled reports whether the money was collected (paid or its external alias confirmed).
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentPaid || s == PaymentConfirmed
}

// IsTerminal reports whether no engine operation moves the payment any further.
// Failed is terminal for the record only; the student may start over with a new payment.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentFailed || s == PaymentRefunded
}

type PaymentMethod string

const (
	MethodOnline       PaymentMethod = "online"
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodOnline, MethodCash, MethodCard, MethodBankTransfer:
		return true
	}
	return false
}

// IsOffline reports whether the money is collected outside the gateway.
func (m PaymentMethod) IsOffline() bool {
	return m == MethodCash || m == MethodCard || m == MethodBankTransfer
}

// Metadata is an additive annex: keys are merged in, never dropped.
type Metadata map[string]string

// Merge returns a copy of m with every key of extra applied on top.
func (m Metadata) Merge(extra Metadata) Metadata {
	out := make(Metadata, len(m)+len(extra))
	maps.Copy(out, m)
	maps.Copy(out, extra)
	return out
}

const (
	MetaRefundReason  = "refundReason"
	MetaFailureReason = "failureReason"
)

// Reserved returns the keys in m that the engine writes itself during transitions.
func (m Metadata) Reserved() []string {
	var keys []string
	for _, k := range []string{MetaRefundReason, MetaFailureReason} {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Amounts are stored as NUMERIC(12,2).
const AmountScale = 2

var MaxAmount = decimal.New(1, 10).Sub(decimal.New(1, -AmountScale))

// ValidAmount reports whether amount is positive, has at most AmountScale
// decimal places and fits the storage precision.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() &&
		amount.Equal(amount.Truncate(AmountScale)) &&
		amount.LessThanOrEqual(MaxAmount)
}

type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	StudentID            string          `json:"studentId"`
	ReferenceType        ReferenceType   `json:"referenceType"`
	ReferenceID          string          `json:"referenceId"`
	Amount               decimal.Decimal `json:"amount"`
	Method               PaymentMethod   `json:"method"`
	Status               PaymentStatus   `json:"status"`
	GatewayTransactionID *string         `json:"gatewayTransactionId"`
	Metadata             Metadata        `json:"metadata"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// CanTransitionTo validates a move from the payment's current status to target.
//
// Allowed moves:
//   - pending → processing (online only)
//   - processing → paid, failed, confirmed
//   - pending, processing, failed → paid (offline methods only)
//   - paid, confirmed → refunded
//
// Nothing ever goes back to pending. Guard failures come back as *Error with
// Kind InvalidState, or InvalidMethod when the status is fine but the method is not.
func (p *Payment) CanTransitionTo(target PaymentStatus) error {
	const op Op = "payment.transition"

	switch target {
	case PaymentProcessing:
		if p.Status != PaymentPending {
			return p.invalidTransition(op, target)
		}
		if p.Method != MethodOnline {
			return E(op, InvalidMethod, p.ID, p.Status, "only online payments go through the gateway")
		}
		return nil

	case PaymentPaid:
		if p.Method == MethodOnline {
			if p.Status == PaymentProcessing {
				return nil
			}
			return p.invalidTransition(op, target)
		}
		switch p.Status {
		case PaymentPending, PaymentProcessing, PaymentFailed:
			return nil
		}
		return p.invalidTransition(op, target)

	case PaymentFailed, PaymentConfirmed:
		if p.Status == PaymentProcessing {
			return nil
		}
		return p.invalidTransition(op, target)

	case PaymentRefunded:
		if p.Status.IsSettled() {
			return nil
		}
		return p.invalidTransition(op, target)
	}

	return p.invalidTransition(op, target)
}

// CanDelete reports whether the record may still be physically removed.
// Anything that touched the gateway or got settled is kept for audit.
func (p *Payment) CanDelete() error {
	if p.Status != PaymentPending {
		return E(Op("payment.delete"), InvalidState, p.ID, p.Status, "only pending payments can be deleted")
	}
	return nil
}

func (p *Payment) invalidTransition(op Op, target PaymentStatus) error {
	return E(op, InvalidState, p.ID, p.Status, "cannot move from "+string(p.Status)+" to "+string(target))
}

// Summary is the per-student aggregate view over payment records.
type Summary struct {
	StudentID     string          `json:"studentId"`
	Count         int             `json:"count"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	PendingAmount decimal.Decimal `json:"pendingAmount"`
}
