package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"booking-payments/internal/domain"
	"booking-payments/internal/repo"
	"booking-payments/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createPaymentBody struct {
	StudentID     string            `json:"studentId" binding:"required"`
	ReferenceType string            `json:"referenceType" binding:"required"`
	ReferenceID   string            `json:"referenceId" binding:"required"`
	Amount        decimal.Decimal   `json:"amount"`
	Method        string            `json:"method" binding:"required"`
	Metadata      map[string]string `json:"metadata"`
}

type confirmBody struct {
	TransactionID string `json:"transactionId" binding:"required"`
}

type refundBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		success(c, http.StatusOK, gin.H{"status": "up"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	stats := s.health.Health(ctx)
	if stats["status"] == "down" {
		c.JSON(http.StatusServiceUnavailable, Response{Status: "error", Data: stats, Error: stats["error"]})
		return
	}
	success(c, http.StatusOK, stats)
}

func (s *Server) handleCreate(c *gin.Context) {
	var body createPaymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failure(c, http.StatusBadRequest, domain.Invalid, err.Error())
		return
	}

	p, err := s.payments.CreatePayment(c.Request.Context(), service.CreatePaymentRequest{
		StudentID:     body.StudentID,
		ReferenceType: domain.ReferenceType(body.ReferenceType),
		ReferenceID:   body.ReferenceID,
		Amount:        body.Amount,
		Method:        domain.PaymentMethod(body.Method),
		Metadata:      body.Metadata,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusCreated, p)
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	p, err := s.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, p)
}

func (s *Server) handleList(c *gin.Context) {
	filter, err := listFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	payments, err := s.payments.ListPayments(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, payments)
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if err := s.payments.DeletePayment(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleInitiate(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	res, err := s.payments.InitiateOnlineProcessing(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, res)
}

func (s *Server) handleConfirm(c *gin.Context) {
	var body confirmBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failure(c, http.StatusBadRequest, domain.Invalid, err.Error())
		return
	}
	p, err := s.payments.ConfirmPayment(c.Request.Context(), body.TransactionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, p)
}

func (s *Server) handleMarkPaid(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	p, err := s.payments.MarkAsPaid(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, p)
}

func (s *Server) handleRefund(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var body refundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		failure(c, http.StatusBadRequest, domain.Invalid, err.Error())
		return
	}
	p, err := s.payments.RefundPayment(c.Request.Context(), id, body.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, p)
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.payments.GetSummary(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, summary)
}

func paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		failure(c, http.StatusBadRequest, domain.Invalid, "invalid payment id")
		return uuid.Nil, false
	}
	return id, true
}

func listFilter(c *gin.Context) (repo.ListFilter, error) {
	f := repo.ListFilter{
		StudentID:     c.Query("student_id"),
		ReferenceType: domain.ReferenceType(c.Query("reference_type")),
		ReferenceID:   c.Query("reference_id"),
		Status:        domain.PaymentStatus(c.Query("status")),
		Method:        domain.PaymentMethod(c.Query("method")),
	}

	for key, dst := range map[string]**time.Time{
		"created_after":  &f.CreatedAfter,
		"created_before": &f.CreatedBefore,
	} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, domain.E(domain.Op("payment.list"), domain.Invalid, key+" must be RFC3339", err)
		}
		*dst = &t
	}

	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, domain.E(domain.Op("payment.list"), domain.Invalid, key+" must be a non-negative integer")
		}
		*dst = n
	}
	return f, nil
}
