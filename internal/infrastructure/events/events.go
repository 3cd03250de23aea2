package events

import (
	"context"
	"time"

	"booking-payments/internal/domain"
)

const (
	PaymentCreated    = "payment.created"
	PaymentProcessing = "payment.processing"
	PaymentPaid       = "payment.paid"
	PaymentFailed     = "payment.failed"
	PaymentRefunded   = "payment.refunded"
	PaymentDeleted    = "payment.deleted"
)

// Event is the lifecycle notification emitted after a committed transition.
type Event struct {
	Name          string `json:"event"`
	PaymentID     string `json:"payment_id"`
	StudentID     string `json:"student_id"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Amount        string `json:"amount"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	TS            string `json:"ts"`
}

func NewEvent(name string, p *domain.Payment, at time.Time) Event {
	return Event{
		Name:          name,
		PaymentID:     p.ID.String(),
		StudentID:     p.StudentID,
		ReferenceType: string(p.ReferenceType),
		ReferenceID:   p.ReferenceID,
		Amount:        p.Amount.StringFixed(2),
		Method:        string(p.Method),
		Status:        string(p.Status),
		TS:            at.UTC().Format(time.RFC3339),
	}
}

// Publisher delivers lifecycle events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NoopPublisher drops every event; used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
