package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"booking-payments/internal/domain"
	"booking-payments/internal/infrastructure/payment"
	"booking-payments/internal/repo"
	"booking-payments/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Kind   string          `json:"kind"`
}

type stubHealth map[string]string

func (h stubHealth) Health(context.Context) map[string]string { return h }

type testServer struct {
	handler http.Handler
	gateway *payment.SandboxGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gateway := payment.NewSandboxGateway("https://sandbox.test")
	svc := service.NewPaymentService(repo.NewMemoryPaymentRepo(), gateway)
	return &testServer{
		handler: NewServer(svc, nil, nil).Handler(),
		gateway: gateway,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (ts *testServer) create(t *testing.T, amount interface{}, method string) domain.Payment {
	t.Helper()
	code, env := ts.do(t, http.MethodPost, "/payments", gin.H{
		"studentId":     "S1",
		"referenceType": "lesson",
		"referenceId":   "L1",
		"amount":        amount,
		"method":        method,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var p domain.Payment
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func decodePayment(t *testing.T, env envelope) domain.Payment {
	t.Helper()
	var p domain.Payment
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestCreatePaymentHandler(t *testing.T) {
	ts := newTestServer(t)

	p := ts.create(t, 50, "online")
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, "50", p.Amount.String())

	code, env := ts.do(t, http.MethodPost, "/payments", gin.H{
		"studentId": "S1", "referenceType": "lesson", "referenceId": "L1", "amount": 0, "method": "cash",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid amount", env.Kind)

	code, env = ts.do(t, http.MethodPost, "/payments", gin.H{
		"studentId": "S1", "referenceType": "lesson", "referenceId": "L1", "amount": "10.005", "method": "cash",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid amount", env.Kind)

	code, env = ts.do(t, http.MethodPost, "/payments", gin.H{"amount": 10})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid input", env.Kind)
}

func TestOnlineFlowHandlers(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "50.00", "online")

	code, env := ts.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/initiate", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var initiated service.InitiateResult
	require.NoError(t, json.Unmarshal(env.Data, &initiated))
	assert.Equal(t, "txn_1", initiated.TransactionID)
	assert.Equal(t, "https://sandbox.test/pay/txn_1", initiated.PaymentURL)
	assert.Equal(t, domain.PaymentProcessing, initiated.Payment.Status)

	code, env = ts.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/mark-paid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid method", env.Kind)

	for i := 0; i < 2; i++ {
		code, env = ts.do(t, http.MethodPost, "/payments/confirm", gin.H{"transactionId": "txn_1"})
		require.Equal(t, http.StatusOK, code, env.Error)
		assert.Equal(t, domain.PaymentPaid, decodePayment(t, env).Status)
	}

	code, env = ts.do(t, http.MethodDelete, "/payments/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid state", env.Kind)

	code, env = ts.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/refund", gin.H{"reason": "student withdrew"})
	require.Equal(t, http.StatusOK, code, env.Error)
	refunded := decodePayment(t, env)
	assert.Equal(t, domain.PaymentRefunded, refunded.Status)
	assert.Equal(t, "student withdrew", refunded.Metadata[domain.MetaRefundReason])
}

func TestRefundDeclinedHandler(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, 20, "online")

	code, _ := ts.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/initiate", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, "/payments/confirm", gin.H{"transactionId": "txn_1"})
	require.Equal(t, http.StatusOK, code)
	ts.gateway.ScriptRefund("txn_1", false)

	code, env := ts.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/refund", gin.H{"reason": "duplicate"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "refund failed", env.Kind)

	code, env = ts.do(t, http.MethodGet, "/payments/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.PaymentPaid, decodePayment(t, env).Status)
}

func TestGetAndDeleteHandlers(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/payments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid input", env.Kind)

	code, env = ts.do(t, http.MethodGet, "/payments/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not found", env.Kind)

	p := ts.create(t, 15, "cash")
	code, _ = ts.do(t, http.MethodDelete, "/payments/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = ts.do(t, http.MethodGet, "/payments/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListAndSummaryHandlers(t *testing.T) {
	ts := newTestServer(t)

	cash := ts.create(t, 30, "cash")
	ts.create(t, 20, "card")
	code, _ := ts.do(t, http.MethodPost, "/payments/"+cash.ID.String()+"/mark-paid", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := ts.do(t, http.MethodGet, "/payments?student_id=S1&status=paid", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var list []domain.Payment
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, cash.ID, list[0].ID)

	code, env = ts.do(t, http.MethodGet, "/payments?created_after=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid input", env.Kind)

	code, _ = ts.do(t, http.MethodGet, "/payments?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = ts.do(t, http.MethodGet, "/students/S1/payments/summary", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var summary domain.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, "50", summary.TotalAmount.String())
	assert.Equal(t, "30", summary.PaidAmount.String())
	assert.Equal(t, "20", summary.PendingAmount.String())
}

func TestHealthHandler(t *testing.T) {
	svc := service.NewPaymentService(repo.NewMemoryPaymentRepo(), payment.NewSandboxGateway("https://sandbox.test"))

	up := NewServer(svc, stubHealth{"status": "up"}, nil).Handler()
	w := httptest.NewRecorder()
	up.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down := NewServer(svc, stubHealth{"status": "down", "error": "db down"}, nil).Handler()
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.Kind]int{
		domain.Invalid:       http.StatusBadRequest,
		domain.InvalidAmount: http.StatusBadRequest,
		domain.InvalidMethod: http.StatusBadRequest,
		domain.NotFound:      http.StatusNotFound,
		domain.InvalidState:  http.StatusConflict,
		domain.Conflict:      http.StatusConflict,
		domain.RefundFailed:  http.StatusUnprocessableEntity,
		domain.GatewayError:  http.StatusBadGateway,
		domain.Internal:      http.StatusInternalServerError,
		domain.Other:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), kind.String())
	}
}
