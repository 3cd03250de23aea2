package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"booking-payments/internal/domain"
	"booking-payments/internal/infrastructure/events"
	"booking-payments/internal/infrastructure/payment"
	"booking-payments/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	opCreate    domain.Op = "payment.create"
	opGet       domain.Op = "payment.get"
	opList      domain.Op = "payment.list"
	opInitiate  domain.Op = "payment.initiate"
	opConfirm   domain.Op = "payment.confirm"
	opMarkPaid  domain.Op = "payment.mark_paid"
	opRefund    domain.Op = "payment.refund"
	opDelete    domain.Op = "payment.delete"
	opSummary   domain.Op = "payment.summary"
	opFailStuck domain.Op = "payment.fail_stuck"
)

const DefaultGatewayTimeout = 10 * time.Second

type CreatePaymentRequest struct {
	StudentID     string
	ReferenceType domain.ReferenceType
	ReferenceID   string
	Amount        decimal.Decimal
	Method        domain.PaymentMethod
	Metadata      domain.Metadata
}

type InitiateResult struct {
	Payment       *domain.Payment `json:"payment"`
	TransactionID string          `json:"transactionId"`
	PaymentURL    string          `json:"paymentUrl"`
}

type PaymentService interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter repo.ListFilter) ([]domain.Payment, error)
	InitiateOnlineProcessing(ctx context.Context, id uuid.UUID) (*InitiateResult, error)
	ConfirmPayment(ctx context.Context, transactionID string) (*domain.Payment, error)
	MarkAsPaid(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	RefundPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error)
	GetSummary(ctx context.Context, studentID string) (*domain.Summary, error)
	DeletePayment(ctx context.Context, id uuid.UUID) error
	// FailStuckPayment closes a processing payment whose gateway intent was never recorded.
	FailStuckPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error)
}

type paymentService struct {
	payments       repo.PaymentRepo
	gateway        payment.PaymentGateway
	publisher      events.Publisher
	log            *zap.Logger
	gatewayTimeout time.Duration
	now            func() time.Time
}

type Option func(*paymentService)

// WithGatewayTimeout bounds each individual gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *paymentService) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *paymentService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *paymentService) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *paymentService) {
		s.now = now
	}
}

func NewPaymentService(
	payments repo.PaymentRepo,
	gateway payment.PaymentGateway,
	opts ...Option,
) PaymentService {
	s := &paymentService{
		payments:       payments,
		gateway:        gateway,
		publisher:      events.NoopPublisher{},
		log:            zap.NewNop(),
		gatewayTimeout: DefaultGatewayTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *paymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*domain.Payment, error) {
	if !domain.ValidAmount(req.Amount) {
		return nil, domain.E(opCreate, domain.InvalidAmount,
			"amount must be greater than zero with at most 2 decimals and no more than "+domain.MaxAmount.String()+", got "+req.Amount.String())
	}
	if !req.Method.Valid() {
		return nil, domain.E(opCreate, domain.InvalidMethod, "unknown payment method "+string(req.Method))
	}
	if !req.ReferenceType.Valid() {
		return nil, domain.E(opCreate, domain.Invalid, "unknown reference type "+string(req.ReferenceType))
	}
	if strings.TrimSpace(req.StudentID) == "" || strings.TrimSpace(req.ReferenceID) == "" {
		return nil, domain.E(opCreate, domain.Invalid, "studentId and referenceId are required")
	}
	if reserved := req.Metadata.Reserved(); len(reserved) > 0 {
		return nil, domain.E(opCreate, domain.Invalid, "metadata keys are reserved: "+strings.Join(reserved, ", "))
	}

	now := s.now().UTC()
	p := &domain.Payment{
		ID:            uuid.New(),
		StudentID:     req.StudentID,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Amount:        req.Amount,
		Method:        req.Method,
		Status:        domain.PaymentPending,
		Metadata:      domain.Metadata{}.Merge(req.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.payments.CreatePayment(ctx, p); err != nil {
		return nil, domain.E(opCreate, domain.Internal, p.ID, err)
	}

	s.log.Info("payment created",
		zap.String("payment_id", p.ID.String()),
		zap.String("student_id", p.StudentID),
		zap.String("method", string(p.Method)),
		zap.String("amount", p.Amount.String()),
	)
	s.publish(ctx, events.PaymentCreated, p)
	return p, nil
}

func (s *paymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.find(ctx, opGet, id)
}

func (s *paymentService) ListPayments(ctx context.Context, filter repo.ListFilter) ([]domain.Payment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.E(opList, domain.Invalid, "unknown status "+string(filter.Status))
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, domain.E(opList, domain.Invalid, "limit and offset must not be negative")
	}
	payments, err := s.payments.FindAll(ctx, filter)
	if err != nil {
		return nil, domain.E(opList, domain.Internal, err)
	}
	return payments, nil
}

// InitiateOnlineProcessing moves a pending online payment to processing and opens
// a gateway intent. Processing is committed before the gateway call; if the call
// fails the record stays processing without a gateway id until reconciliation.
func (s *paymentService) InitiateOnlineProcessing(ctx context.Context, id uuid.UUID) (*InitiateResult, error) {
	p, err := s.find(ctx, opInitiate, id)
	if err != nil {
		return nil, err
	}
	if err := p.CanTransitionTo(domain.PaymentProcessing); err != nil {
		return nil, withOp(opInitiate, err)
	}

	p, err = s.transition(ctx, opInitiate, p, domain.PaymentProcessing, nil)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	intent, err := s.gateway.CreateIntent(gctx, p.Amount, map[string]string{
		"paymentId":     p.ID.String(),
		"studentId":     p.StudentID,
		"referenceType": string(p.ReferenceType),
		"referenceId":   p.ReferenceID,
	})
	cancel()
	if err != nil {
		s.log.Warn("gateway intent failed, payment left processing without gateway id",
			zap.String("payment_id", p.ID.String()),
			zap.Error(err),
		)
		return nil, domain.E(opInitiate, domain.GatewayError, p.ID, p.Status, "create intent", err)
	}

	p, err = s.payments.AttachGatewayTransaction(ctx, p.ID, intent.TransactionID)
	if err != nil {
		s.log.Error("gateway intent created but not recorded",
			zap.String("payment_id", id.String()),
			zap.String("transaction_id", intent.TransactionID),
			zap.Error(err),
		)
		return nil, storeErr(opInitiate, id, err)
	}

	s.log.Info("gateway intent attached",
		zap.String("payment_id", p.ID.String()),
		zap.String("transaction_id", intent.TransactionID),
	)
	return &InitiateResult{
		Payment:       p,
		TransactionID: intent.TransactionID,
		PaymentURL:    intent.PaymentURL,
	}, nil
}

// ConfirmPayment reconciles a processing payment against the gateway's answer.
// Settled payments come back unchanged, so duplicate callbacks are harmless.
func (s *paymentService) ConfirmPayment(ctx context.Context, transactionID string) (*domain.Payment, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, domain.E(opConfirm, domain.Invalid, "transaction id is required")
	}

	p, err := s.payments.FindByGatewayTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, domain.E(opConfirm, domain.NotFound, "no payment for gateway transaction "+transactionID, err)
		}
		return nil, domain.E(opConfirm, domain.Internal, err)
	}

	if p.Status.IsSettled() {
		s.log.Debug("duplicate confirmation ignored",
			zap.String("payment_id", p.ID.String()),
			zap.String("transaction_id", transactionID),
		)
		return p, nil
	}
	if p.Status != domain.PaymentProcessing {
		return nil, domain.E(opConfirm, domain.InvalidState, p.ID, p.Status, "only processing payments can be confirmed")
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	success, err := s.gateway.Confirm(gctx, transactionID)
	cancel()
	if err != nil {
		return nil, domain.E(opConfirm, domain.GatewayError, p.ID, p.Status, "confirm "+transactionID, err)
	}

	target, meta := domain.PaymentPaid, domain.Metadata(nil)
	if !success {
		target, meta = domain.PaymentFailed, domain.Metadata{domain.MetaFailureReason: "gateway_declined"}
	}

	updated, err := s.transition(ctx, opConfirm, p, target, meta)
	if err != nil {
		// A concurrent confirmation may have settled it first.
		if current, ferr := s.payments.FindById(ctx, p.ID); ferr == nil && current.Status.IsSettled() {
			return current, nil
		}
		return nil, err
	}
	return updated, nil
}

// MarkAsPaid settles an offline payment collected by hand. Online money never
// bypasses gateway reconciliation.
func (s *paymentService) MarkAsPaid(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := s.find(ctx, opMarkPaid, id)
	if err != nil {
		return nil, err
	}
	if !p.Method.IsOffline() {
		return nil, domain.E(opMarkPaid, domain.InvalidMethod, p.ID, p.Status, "online payments settle through gateway confirmation")
	}
	if err := p.CanTransitionTo(domain.PaymentPaid); err != nil {
		return nil, withOp(opMarkPaid, err)
	}
	return s.transition(ctx, opMarkPaid, p, domain.PaymentPaid, nil)
}

// RefundPayment refunds a settled payment. For online payments the gateway must
// accept first; a declined refund leaves the record untouched.
func (s *paymentService) RefundPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.E(opRefund, domain.Invalid, id, "refund reason is required")
	}

	p, err := s.find(ctx, opRefund, id)
	if err != nil {
		return nil, err
	}
	if err := p.CanTransitionTo(domain.PaymentRefunded); err != nil {
		return nil, withOp(opRefund, err)
	}

	if p.Method == domain.MethodOnline {
		if p.GatewayTransactionID == nil {
			return nil, domain.E(opRefund, domain.InvalidState, p.ID, p.Status, "online payment has no gateway transaction")
		}

		gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		accepted, err := s.gateway.Refund(gctx, *p.GatewayTransactionID, p.Amount)
		cancel()
		if err != nil {
			return nil, domain.E(opRefund, domain.GatewayError, p.ID, p.Status, "refund "+*p.GatewayTransactionID, err)
		}
		if !accepted {
			s.log.Warn("gateway declined refund",
				zap.String("payment_id", p.ID.String()),
				zap.String("transaction_id", *p.GatewayTransactionID),
			)
			return nil, domain.E(opRefund, domain.RefundFailed, p.ID, p.Status, "gateway declined the refund")
		}
	}

	updated, err := s.transition(ctx, opRefund, p, domain.PaymentRefunded, domain.Metadata{domain.MetaRefundReason: reason})
	if err != nil && p.Method == domain.MethodOnline {
		s.log.Error("gateway refunded but local transition failed",
			zap.String("payment_id", p.ID.String()),
			zap.Error(err),
		)
	}
	return updated, err
}

func (s *paymentService) GetSummary(ctx context.Context, studentID string) (*domain.Summary, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, domain.E(opSummary, domain.Invalid, "studentId is required")
	}
	summary, err := s.payments.AggregateByStudent(ctx, studentID)
	if err != nil {
		return nil, domain.E(opSummary, domain.Internal, err)
	}
	return summary, nil
}

func (s *paymentService) DeletePayment(ctx context.Context, id uuid.UUID) error {
	p, err := s.find(ctx, opDelete, id)
	if err != nil {
		return err
	}
	if err := p.CanDelete(); err != nil {
		return withOp(opDelete, err)
	}

	if err := s.payments.DeletePayment(ctx, id, domain.PaymentPending); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			if current, ferr := s.payments.FindById(ctx, id); ferr == nil {
				if gerr := current.CanDelete(); gerr != nil {
					return withOp(opDelete, gerr)
				}
			}
		}
		return storeErr(opDelete, id, err)
	}

	s.log.Info("payment deleted", zap.String("payment_id", id.String()))
	s.publish(ctx, events.PaymentDeleted, p)
	return nil
}

func (s *paymentService) FailStuckPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error) {
	p, err := s.find(ctx, opFailStuck, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentProcessing {
		return nil, domain.E(opFailStuck, domain.InvalidState, p.ID, p.Status, "payment is not processing")
	}
	if p.GatewayTransactionID != nil {
		return nil, domain.E(opFailStuck, domain.InvalidState, p.ID, p.Status, "payment has a gateway transaction, confirm it instead")
	}
	return s.transition(ctx, opFailStuck, p, domain.PaymentFailed, domain.Metadata{domain.MetaFailureReason: reason})
}

func (s *paymentService) find(ctx context.Context, op domain.Op, id uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.FindById(ctx, id)
	if err != nil {
		return nil, storeErr(op, id, err)
	}
	return p, nil
}

// transition applies target as a conditional write keyed on p's current status.
// A lost race is reported against the status the winner left behind.
func (s *paymentService) transition(ctx context.Context, op domain.Op, p *domain.Payment, target domain.PaymentStatus, meta domain.Metadata) (*domain.Payment, error) {
	updated, err := s.payments.UpdateStatus(ctx, p.ID, p.Status, repo.Patch{Status: target, Metadata: meta})
	if err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			if current, ferr := s.payments.FindById(ctx, p.ID); ferr == nil {
				if gerr := current.CanTransitionTo(target); gerr != nil {
					return nil, withOp(op, gerr)
				}
				return nil, domain.E(op, domain.Conflict, p.ID, current.Status, "payment changed concurrently", err)
			}
		}
		return nil, storeErr(op, p.ID, err)
	}

	s.log.Info("payment transitioned",
		zap.String("op", string(op)),
		zap.String("payment_id", p.ID.String()),
		zap.String("from", string(p.Status)),
		zap.String("to", string(target)),
	)
	s.publish(ctx, eventFor(target), updated)
	return updated, nil
}

func (s *paymentService) publish(ctx context.Context, name string, p *domain.Payment) {
	if name == "" {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewEvent(name, p, s.now())); err != nil {
		s.log.Warn("failed to publish payment event",
			zap.String("event", name),
			zap.String("payment_id", p.ID.String()),
			zap.Error(err),
		)
	}
}

func eventFor(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentProcessing:
		return events.PaymentProcessing
	case domain.PaymentPaid, domain.PaymentConfirmed:
		return events.PaymentPaid
	case domain.PaymentFailed:
		return events.PaymentFailed
	case domain.PaymentRefunded:
		return events.PaymentRefunded
	}
	return ""
}

func storeErr(op domain.Op, id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return domain.E(op, domain.NotFound, id, err)
	case errors.Is(err, repo.ErrStatusConflict):
		return domain.E(op, domain.Conflict, id, err)
	default:
		return domain.E(op, domain.Internal, id, err)
	}
}

// withOp re-stamps a domain error with the caller-facing operation.
func withOp(op domain.Op, err error) error {
	var e *domain.Error
	if errors.As(err, &e) {
		c := *e
		c.Op = op
		return &c
	}
	return err
}
