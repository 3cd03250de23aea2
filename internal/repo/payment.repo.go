package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-payments/internal/domain"

	"github.com/google/uuid"
)

const paymentColumns = `id, student_id, reference_type, reference_id, amount, method, status,
	gateway_transaction_id, metadata, created_at, updated_at`

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p     domain.Payment
		txnID sql.NullString
		meta  []byte
	)
	err := row.Scan(
		&p.ID,
		&p.StudentID,
		&p.ReferenceType,
		&p.ReferenceID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&txnID,
		&meta,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if txnID.Valid {
		p.GatewayTransactionID = &txnID.String
	}
	p.Metadata = domain.Metadata{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &p, nil
}

func encodeMetadata(m domain.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *paymentRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)`

	_, err = r.db.ExecContext(
		ctx, query,
		p.ID, p.StudentID, p.ReferenceType, p.ReferenceID, p.Amount, p.Method, p.Status,
		p.GatewayTransactionID, meta, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *paymentRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *paymentRepo) FindByGatewayTransactionID(ctx context.Context, txnID string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_transaction_id = $1`, txnID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *paymentRepo) FindAll(ctx context.Context, f ListFilter) ([]domain.Payment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.StudentID != "" {
		add("student_id = $%d", f.StudentID)
	}
	if f.ReferenceType != "" {
		add("reference_type = $%d", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		add("reference_id = $%d", f.ReferenceID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Method != "" {
		add("method = $%d", f.Method)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	limit, offset := f.page()
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return r.queryPayments(ctx, query, args...)
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, expected domain.PaymentStatus, patch Patch) (*domain.Payment, error) {
	meta, err := encodeMetadata(patch.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE payments
		SET status = $3,
		    metadata = metadata || $4::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + paymentColumns

	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id, expected, patch.Status, meta))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id)
	}
	return p, err
}

func (r *paymentRepo) AttachGatewayTransaction(ctx context.Context, id uuid.UUID, txnID string) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET gateway_transaction_id = $3,
		    updated_at = now()
		WHERE id = $1 AND status = $2 AND gateway_transaction_id IS NULL
		RETURNING ` + paymentColumns

	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id, domain.PaymentProcessing, txnID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id)
	}
	return p, err
}

func (r *paymentRepo) DeletePayment(ctx context.Context, id uuid.UUID, expected domain.PaymentStatus) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1 AND status = $2`, id, expected)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *paymentRepo) AggregateByStudent(ctx context.Context, studentID string) (*domain.Summary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(amount), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status IN ($2, $3)), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status = $4), 0)
		FROM payments
		WHERE student_id = $1
	`
	s := domain.Summary{StudentID: studentID}
	err := r.db.QueryRowContext(ctx, query,
		studentID, domain.PaymentPaid, domain.PaymentConfirmed, domain.PaymentPending,
	).Scan(&s.Count, &s.TotalAmount, &s.PaidAmount, &s.PendingAmount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *paymentRepo) FindProcessingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE status = $1
		AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	if limit <= 0 {
		limit = defaultListLimit
	}
	return r.queryPayments(ctx, query, domain.PaymentProcessing, before, limit)
}

func (r *paymentRepo) queryPayments(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// missOrConflict tells a missing row apart from one whose status moved on.
func (r *paymentRepo) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM payments WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w (current status %s)", ErrStatusConflict, status)
}
