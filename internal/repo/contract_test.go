package repo

import (
	"context"
	"testing"
	"time"

	"booking-payments/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(studentID string, amount int64, method domain.PaymentMethod) *domain.Payment {
	now := time.Now().UTC()
	return &domain.Payment{
		ID:            uuid.New(),
		StudentID:     studentID,
		ReferenceType: domain.ReferenceLesson,
		ReferenceID:   "lesson-" + uuid.NewString()[:8],
		Amount:        decimal.NewFromInt(amount),
		Method:        method,
		Status:        domain.PaymentPending,
		Metadata:      domain.Metadata{"source": "booking"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// runRepoContract exercises the behaviour every PaymentRepo must share.
func runRepoContract(t *testing.T, newRepo func(t *testing.T) PaymentRepo) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		r := newRepo(t)
		p := newTestPayment("stu-1", 50, domain.MethodOnline)
		require.NoError(t, r.CreatePayment(ctx, p))

		got, err := r.FindById(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, domain.PaymentPending, got.Status)
		assert.True(t, p.Amount.Equal(got.Amount))
		assert.Nil(t, got.GatewayTransactionID)
		assert.Equal(t, "booking", got.Metadata["source"])

		_, err = r.FindById(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = r.FindByGatewayTransactionID(ctx, "txn_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("conditional update", func(t *testing.T) {
		r := newRepo(t)
		p := newTestPayment("stu-1", 50, domain.MethodOnline)
		require.NoError(t, r.CreatePayment(ctx, p))

		got, err := r.UpdateStatus(ctx, p.ID, domain.PaymentPending, Patch{Status: domain.PaymentProcessing})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentProcessing, got.Status)

		_, err = r.UpdateStatus(ctx, p.ID, domain.PaymentPending, Patch{Status: domain.PaymentPaid})
		assert.ErrorIs(t, err, ErrStatusConflict)
		assert.True(t, IsConflict(err))

		stored, err := r.FindById(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentProcessing, stored.Status, "lost update must not apply")

		_, err = r.UpdateStatus(ctx, uuid.New(), domain.PaymentPending, Patch{Status: domain.PaymentPaid})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("metadata is merged", func(t *testing.T) {
		r := newRepo(t)
		p := newTestPayment("stu-1", 30, domain.MethodCash)
		require.NoError(t, r.CreatePayment(ctx, p))

		_, err := r.UpdateStatus(ctx, p.ID, domain.PaymentPending, Patch{Status: domain.PaymentPaid})
		require.NoError(t, err)
		got, err := r.UpdateStatus(ctx, p.ID, domain.PaymentPaid, Patch{
			Status:   domain.PaymentRefunded,
			Metadata: domain.Metadata{domain.MetaRefundReason: "student withdrew"},
		})
		require.NoError(t, err)
		assert.Equal(t, "booking", got.Metadata["source"])
		assert.Equal(t, "student withdrew", got.Metadata[domain.MetaRefundReason])

		stored, err := r.FindById(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Metadata{
			"source":                "booking",
			domain.MetaRefundReason: "student withdrew",
		}, stored.Metadata)
	})

	t.Run("metadata survives a full lifecycle", func(t *testing.T) {
		r := newRepo(t)
		p := newTestPayment("stu-1", 50, domain.MethodOnline)
		p.Metadata = domain.Metadata{"bookingNote": "x"}
		require.NoError(t, r.CreatePayment(ctx, p))

		_, err := r.UpdateStatus(ctx, p.ID, domain.PaymentPending, Patch{Status: domain.PaymentProcessing})
		require.NoError(t, err)
		_, err = r.AttachGatewayTransaction(ctx, p.ID, "txn_meta_"+p.ID.String())
		require.NoError(t, err)
		_, err = r.UpdateStatus(ctx, p.ID, domain.PaymentProcessing, Patch{Status: domain.PaymentPaid})
		require.NoError(t, err)
		_, err = r.UpdateStatus(ctx, p.ID, domain.PaymentPaid, Patch{
			Status:   domain.PaymentRefunded,
			Metadata: domain.Metadata{domain.MetaRefundReason: "lesson cancelled"},
		})
		require.NoError(t, err)

		stored, err := r.FindById(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "x", stored.Metadata["bookingNote"])
		assert.Equal(t, "lesson cancelled", stored.Metadata[domain.MetaRefundReason])
	})

	t.Run("gateway transaction attaches once", func(t *testing.T) {
		r := newRepo(t)
		p := newTestPayment("stu-1", 50, domain.MethodOnline)
		require.NoError(t, r.CreatePayment(ctx, p))

		_, err := r.AttachGatewayTransaction(ctx, p.ID, "txn_1")
		assert.ErrorIs(t, err, ErrStatusConflict, "pending payments get no gateway id")

		_, err = r.UpdateStatus(ctx, p.ID, domain.PaymentPending, Patch{Status: domain.PaymentProcessing})
		require.NoError(t, err)

		got, err := r.AttachGatewayTransaction(ctx, p.ID, "txn_1")
		require.NoError(t, err)
		require.NotNil(t, got.GatewayTransactionID)
		assert.Equal(t, "txn_1", *got.GatewayTransactionID)

		_, err = r.AttachGatewayTransaction(ctx, p.ID, "txn_2")
		assert.ErrorIs(t, err, ErrStatusConflict)

		byTxn, err := r.FindByGatewayTransactionID(ctx, "txn_1")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byTxn.ID)
	})

	t.Run("conditional delete", func(t *testing.T) {
		r := newRepo(t)
		pending := newTestPayment("stu-1", 20, domain.MethodCash)
		paid := newTestPayment("stu-1", 50, domain.MethodCash)
		require.NoError(t, r.CreatePayment(ctx, pending))
		require.NoError(t, r.CreatePayment(ctx, paid))
		_, err := r.UpdateStatus(ctx, paid.ID, domain.PaymentPending, Patch{Status: domain.PaymentPaid})
		require.NoError(t, err)

		assert.ErrorIs(t, r.DeletePayment(ctx, paid.ID, domain.PaymentPending), ErrStatusConflict)
		require.NoError(t, r.DeletePayment(ctx, pending.ID, domain.PaymentPending))

		_, err = r.FindById(ctx, pending.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, r.DeletePayment(ctx, pending.ID, domain.PaymentPending), ErrNotFound)
	})

	t.Run("aggregate by student", func(t *testing.T) {
		r := newRepo(t)
		paid := newTestPayment("stu-agg", 50, domain.MethodCash)
		pending := newTestPayment("stu-agg", 20, domain.MethodCash)
		failed := newTestPayment("stu-agg", 10, domain.MethodOnline)
		other := newTestPayment("stu-other", 99, domain.MethodCash)
		for _, p := range []*domain.Payment{paid, pending, failed, other} {
			require.NoError(t, r.CreatePayment(ctx, p))
		}
		_, err := r.UpdateStatus(ctx, paid.ID, domain.PaymentPending, Patch{Status: domain.PaymentPaid})
		require.NoError(t, err)
		_, err = r.UpdateStatus(ctx, failed.ID, domain.PaymentPending, Patch{Status: domain.PaymentProcessing})
		require.NoError(t, err)
		_, err = r.UpdateStatus(ctx, failed.ID, domain.PaymentProcessing, Patch{Status: domain.PaymentFailed})
		require.NoError(t, err)

		s, err := r.AggregateByStudent(ctx, "stu-agg")
		require.NoError(t, err)
		assert.Equal(t, 3, s.Count)
		assert.True(t, decimal.NewFromInt(80).Equal(s.TotalAmount), s.TotalAmount.String())
		assert.True(t, decimal.NewFromInt(50).Equal(s.PaidAmount), s.PaidAmount.String())
		assert.True(t, decimal.NewFromInt(20).Equal(s.PendingAmount), s.PendingAmount.String())

		empty, err := r.AggregateByStudent(ctx, "stu-nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, empty.Count)
		assert.True(t, empty.TotalAmount.IsZero())
	})

	t.Run("find all filters", func(t *testing.T) {
		r := newRepo(t)
		a := newTestPayment("stu-a", 10, domain.MethodCash)
		b := newTestPayment("stu-a", 20, domain.MethodOnline)
		b.ReferenceType = domain.ReferenceExam
		b.CreatedAt = a.CreatedAt.Add(time.Minute)
		c := newTestPayment("stu-b", 30, domain.MethodCard)
		for _, p := range []*domain.Payment{a, b, c} {
			require.NoError(t, r.CreatePayment(ctx, p))
		}

		all, err := r.FindAll(ctx, ListFilter{StudentID: "stu-a"})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, b.ID, all[0].ID, "newest first")

		exams, err := r.FindAll(ctx, ListFilter{ReferenceType: domain.ReferenceExam})
		require.NoError(t, err)
		require.Len(t, exams, 1)
		assert.Equal(t, b.ID, exams[0].ID)

		cards, err := r.FindAll(ctx, ListFilter{Method: domain.MethodCard, Status: domain.PaymentPending})
		require.NoError(t, err)
		require.Len(t, cards, 1)
		assert.Equal(t, c.ID, cards[0].ID)

		after := a.CreatedAt.Add(30 * time.Second)
		recent, err := r.FindAll(ctx, ListFilter{StudentID: "stu-a", CreatedAfter: &after})
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, b.ID, recent[0].ID)

		page, err := r.FindAll(ctx, ListFilter{StudentID: "stu-a", Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, a.ID, page[0].ID)

		fromStart, err := r.FindAll(ctx, ListFilter{StudentID: "stu-a", Offset: -1})
		require.NoError(t, err)
		require.Len(t, fromStart, 2)
		assert.Equal(t, b.ID, fromStart[0].ID)
	})

	t.Run("find processing before", func(t *testing.T) {
		r := newRepo(t)
		p := newTestPayment("stu-1", 50, domain.MethodOnline)
		q := newTestPayment("stu-1", 60, domain.MethodOnline)
		require.NoError(t, r.CreatePayment(ctx, p))
		require.NoError(t, r.CreatePayment(ctx, q))
		_, err := r.UpdateStatus(ctx, p.ID, domain.PaymentPending, Patch{Status: domain.PaymentProcessing})
		require.NoError(t, err)

		stuck, err := r.FindProcessingBefore(ctx, time.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, stuck, 1)
		assert.Equal(t, p.ID, stuck[0].ID)

		fresh, err := r.FindProcessingBefore(ctx, time.Now().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, fresh)
	})
}
