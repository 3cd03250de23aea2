package payment

import (
	"context"
	"fmt"
	"net/url"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
)

// RazorpayGateway maps intents onto Razorpay orders. The order id is the
// transaction id; settlement means the order reached status "paid".
type RazorpayGateway struct {
	client      *razorpay.Client
	checkoutURL string
	currency    string
}

func NewRazorpayGateway(keyID, keySecret, checkoutURL, currency string) *RazorpayGateway {
	return &RazorpayGateway{
		client:      razorpay.NewClient(keyID, keySecret),
		checkoutURL: checkoutURL,
		currency:    currency,
	}
}

// toMinorUnits converts to paise.
func toMinorUnits(amount decimal.Decimal) int {
	return int(amount.Shift(2).Round(0).IntPart())
}

func (g *RazorpayGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*Intent, error) {
	notes := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   toMinorUnits(amount),
		"currency": g.currency,
		"receipt":  metadata["paymentId"],
		"notes":    notes,
	}

	resp, err := call(ctx, func() (map[string]interface{}, error) {
		return g.client.Order.Create(data, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay: create order: %w", err)
	}

	orderID, ok := resp["id"].(string)
	if !ok || orderID == "" {
		return nil, fmt.Errorf("razorpay: create order: response has no id")
	}
	status, _ := resp["status"].(string)

	return &Intent{
		TransactionID: orderID,
		Status:        status,
		PaymentURL:    g.checkoutURL + "?order_id=" + url.QueryEscape(orderID),
	}, nil
}

func (g *RazorpayGateway) Confirm(ctx context.Context, transactionID string) (bool, error) {
	resp, err := call(ctx, func() (map[string]interface{}, error) {
		return g.client.Order.Fetch(transactionID, nil, nil)
	})
	if err != nil {
		return false, fmt.Errorf("razorpay: fetch order %s: %w", transactionID, err)
	}
	status, _ := resp["status"].(string)
	return status == "paid", nil
}

// Refund refunds the order's settled payment. Razorpay has no refund idempotency
// key, so an existing refund on the payment is reported as accepted instead of
// issuing a second one.
func (g *RazorpayGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (bool, error) {
	resp, err := call(ctx, func() (map[string]interface{}, error) {
		return g.client.Order.Payments(transactionID, nil, nil)
	})
	if err != nil {
		return false, fmt.Errorf("razorpay: list payments of %s: %w", transactionID, err)
	}

	paymentID := settledPaymentID(resp)
	if paymentID == "" {
		return false, nil
	}

	existing, err := call(ctx, func() (map[string]interface{}, error) {
		return g.client.Payment.FetchMultipleRefund(paymentID, nil, nil)
	})
	if err != nil {
		return false, fmt.Errorf("razorpay: list refunds of %s: %w", paymentID, err)
	}
	if hasLiveRefund(existing) {
		return true, nil
	}

	refund, err := call(ctx, func() (map[string]interface{}, error) {
		return g.client.Payment.Refund(paymentID, toMinorUnits(amount), map[string]interface{}{
			"receipt": transactionID,
		}, nil)
	})
	if err != nil {
		return false, fmt.Errorf("razorpay: refund %s: %w", paymentID, err)
	}
	return refundAccepted(refund), nil
}

// settledPaymentID picks the captured (or already refunded) payment out of an
// order's payment list.
func settledPaymentID(resp map[string]interface{}) string {
	items, _ := resp["items"].([]interface{})
	for _, item := range items {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if status, _ := p["status"].(string); status != "captured" && status != "refunded" {
			continue
		}
		if id, _ := p["id"].(string); id != "" {
			return id
		}
	}
	return ""
}

func refundAccepted(refund map[string]interface{}) bool {
	status, _ := refund["status"].(string)
	return status == "processed" || status == "pending"
}

func hasLiveRefund(resp map[string]interface{}) bool {
	items, _ := resp["items"].([]interface{})
	for _, item := range items {
		if r, ok := item.(map[string]interface{}); ok && refundAccepted(r) {
			return true
		}
	}
	return false
}

// call runs a blocking SDK request and gives up when ctx is done.
// The SDK has no context support, so the request itself may still complete in the background.
func call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type result struct {
		resp map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := fn()
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

var _ PaymentGateway = (*RazorpayGateway)(nil)
