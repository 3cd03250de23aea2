package repo

import (
	"context"
	"errors"
	"time"

	"booking-payments/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrStatusConflict means the record exists but is no longer in the expected status.
	ErrStatusConflict = errors.New("payment status changed concurrently")
)

// ListFilter narrows FindAll. Zero values are ignored.
type ListFilter struct {
	StudentID     string
	ReferenceType domain.ReferenceType
	ReferenceID   string
	Status        domain.PaymentStatus
	Method        domain.PaymentMethod
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// page returns the effective limit and offset; negative offsets read from the start.
func (f ListFilter) page() (limit, offset int) {
	limit, offset = f.Limit, f.Offset
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Patch is the set of fields a conditional update may touch.
type Patch struct {
	Status   domain.PaymentStatus
	Metadata domain.Metadata // merged into the stored metadata
}

type PaymentRepo interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindByGatewayTransactionID(ctx context.Context, txnID string) (*domain.Payment, error)
	FindAll(ctx context.Context, filter ListFilter) ([]domain.Payment, error)
	// UpdateStatus applies patch only if the stored status equals expected.
	// Returns ErrNotFound or ErrStatusConflict instead of silently doing nothing.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected domain.PaymentStatus, patch Patch) (*domain.Payment, error)
	// AttachGatewayTransaction sets the gateway id once, while the payment is processing.
	AttachGatewayTransaction(ctx context.Context, id uuid.UUID, txnID string) (*domain.Payment, error)
	// DeletePayment removes the record only if it is still in expected status.
	DeletePayment(ctx context.Context, id uuid.UUID, expected domain.PaymentStatus) error
	AggregateByStudent(ctx context.Context, studentID string) (*domain.Summary, error)
	// FindProcessingBefore lists processing payments not touched since before.
	FindProcessingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

const defaultListLimit = 100
