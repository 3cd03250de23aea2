package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-payments/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryPaymentRepo keeps payments in process memory. Every read returns a copy,
// so callers can never mutate stored state behind the lock.
type MemoryPaymentRepo struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*domain.Payment
	byTxn    map[string]uuid.UUID
	now      func() time.Time
}

func NewMemoryPaymentRepo() *MemoryPaymentRepo {
	return &MemoryPaymentRepo{
		payments: make(map[uuid.UUID]*domain.Payment),
		byTxn:    make(map[string]uuid.UUID),
		now:      time.Now,
	}
}

// WithClock replaces the clock used for updatedAt.
func (r *MemoryPaymentRepo) WithClock(now func() time.Time) *MemoryPaymentRepo {
	r.now = now
	return r
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	c.Metadata = domain.Metadata{}.Merge(p.Metadata)
	if p.GatewayTransactionID != nil {
		txn := *p.GatewayTransactionID
		c.GatewayTransactionID = &txn
	}
	return &c
}

func (r *MemoryPaymentRepo) CreatePayment(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	if p.GatewayTransactionID != nil {
		if _, exists := r.byTxn[*p.GatewayTransactionID]; exists {
			return fmt.Errorf("gateway transaction %s already recorded", *p.GatewayTransactionID)
		}
		r.byTxn[*p.GatewayTransactionID] = p.ID
	}
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *MemoryPaymentRepo) FindById(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayment(p), nil
}

func (r *MemoryPaymentRepo) FindByGatewayTransactionID(_ context.Context, txnID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTxn[txnID]
	if !ok {
		return nil, ErrNotFound
	}
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayment(p), nil
}

func (r *MemoryPaymentRepo) FindAll(_ context.Context, f ListFilter) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []domain.Payment{}
	for _, p := range r.payments {
		if !matches(p, f) {
			continue
		}
		matched = append(matched, *clonePayment(p))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit, offset := f.page()
	if offset >= len(matched) {
		return []domain.Payment{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matches(p *domain.Payment, f ListFilter) bool {
	switch {
	case f.StudentID != "" && p.StudentID != f.StudentID,
		f.ReferenceType != "" && p.ReferenceType != f.ReferenceType,
		f.ReferenceID != "" && p.ReferenceID != f.ReferenceID,
		f.Status != "" && p.Status != f.Status,
		f.Method != "" && p.Method != f.Method,
		f.CreatedAfter != nil && p.CreatedAt.Before(*f.CreatedAfter),
		f.CreatedBefore != nil && p.CreatedAt.After(*f.CreatedBefore):
		return false
	}
	return true
}

func (r *MemoryPaymentRepo) UpdateStatus(_ context.Context, id uuid.UUID, expected domain.PaymentStatus, patch Patch) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.expect(id, expected)
	if err != nil {
		return nil, err
	}
	p.Status = patch.Status
	p.Metadata = p.Metadata.Merge(patch.Metadata)
	p.UpdatedAt = r.now()
	return clonePayment(p), nil
}

func (r *MemoryPaymentRepo) AttachGatewayTransaction(_ context.Context, id uuid.UUID, txnID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.expect(id, domain.PaymentProcessing)
	if err != nil {
		return nil, err
	}
	if p.GatewayTransactionID != nil {
		return nil, fmt.Errorf("%w (gateway transaction already set)", ErrStatusConflict)
	}
	if _, exists := r.byTxn[txnID]; exists {
		return nil, fmt.Errorf("gateway transaction %s already recorded", txnID)
	}
	p.GatewayTransactionID = &txnID
	p.UpdatedAt = r.now()
	r.byTxn[txnID] = id
	return clonePayment(p), nil
}

func (r *MemoryPaymentRepo) DeletePayment(_ context.Context, id uuid.UUID, expected domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.expect(id, expected)
	if err != nil {
		return err
	}
	if p.GatewayTransactionID != nil {
		delete(r.byTxn, *p.GatewayTransactionID)
	}
	delete(r.payments, id)
	return nil
}

func (r *MemoryPaymentRepo) AggregateByStudent(_ context.Context, studentID string) (*domain.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &domain.Summary{
		StudentID:     studentID,
		TotalAmount:   decimal.Zero,
		PaidAmount:    decimal.Zero,
		PendingAmount: decimal.Zero,
	}
	for _, p := range r.payments {
		if p.StudentID != studentID {
			continue
		}
		s.Count++
		s.TotalAmount = s.TotalAmount.Add(p.Amount)
		switch {
		case p.Status.IsSettled():
			s.PaidAmount = s.PaidAmount.Add(p.Amount)
		case p.Status == domain.PaymentPending:
			s.PendingAmount = s.PendingAmount.Add(p.Amount)
		}
	}
	return s, nil
}

func (r *MemoryPaymentRepo) FindProcessingBefore(_ context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stuck := []domain.Payment{}
	for _, p := range r.payments {
		if p.Status == domain.PaymentProcessing && p.UpdatedAt.Before(before) {
			stuck = append(stuck, *clonePayment(p))
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt)
	})
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

// expect must be called with the write lock held.
func (r *MemoryPaymentRepo) expect(id uuid.UUID, expected domain.PaymentStatus) (*domain.Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != expected {
		return nil, fmt.Errorf("%w (current status %s)", ErrStatusConflict, p.Status)
	}
	return p, nil
}

var _ PaymentRepo = (*MemoryPaymentRepo)(nil)

// IsConflict reports whether err is a lost conditional update.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
