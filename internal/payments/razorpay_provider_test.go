package payments

import (
	"context"
	"errors"
	"testing"
)

type stubRazorpayOrders struct {
	createData    map[string]interface{}
	createHeaders map[string]string
	response      map[string]interface{}
	err           error
}

func (s *stubRazorpayOrders) Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	s.createData = data
	s.createHeaders = extraHeaders
	return s.response, s.err
}

func (s *stubRazorpayOrders) Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	return s.response, s.err
}

func TestRazorpayCreateOrder(t *testing.T) {
	orders := &stubRazorpayOrders{
		response: map[string]interface{}{
			"id":       "order_rzp_123",
			"amount":   float64(1849),
			"currency": "INR",
			"status":   "created",
		},
	}
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{KeyID: "rzp_test_key", Orders: orders})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}

	order, err := provider.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:         1849,
		Currency:       "inr",
		Receipt:        "ord_01ABC",
		Notes:          map[string]string{"orderId": "ord_01ABC"},
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.ID != "order_rzp_123" {
		t.Fatalf("expected gateway order id, got %q", order.ID)
	}
	if order.KeyID != "rzp_test_key" {
		t.Fatalf("expected key id echoed, got %q", order.KeyID)
	}
	if order.Amount != 1849 || order.Currency != "INR" {
		t.Fatalf("unexpected amount/currency %d %s", order.Amount, order.Currency)
	}
	if order.Status != StatusCreated {
		t.Fatalf("expected created status, got %s", order.Status)
	}
	if orders.createData["currency"] != "INR" {
		t.Fatalf("expected uppercased currency in payload, got %v", orders.createData["currency"])
	}
	if orders.createHeaders["X-Razorpay-Idempotency"] != "idem-1" {
		t.Fatalf("expected idempotency header, got %v", orders.createHeaders)
	}
}

func TestRazorpayCreateOrderWrapsGatewayError(t *testing.T) {
	orders := &stubRazorpayOrders{err: errors.New("BAD_REQUEST_ERROR")}
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{KeyID: "rzp_test_key", Orders: orders})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}

	_, err = provider.CreateOrder(context.Background(), CreateOrderRequest{Amount: 100, Currency: "INR"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Provider != "razorpay" {
		t.Fatalf("expected razorpay provider in error, got %q", provErr.Provider)
	}
}

func TestRazorpayCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{KeyID: "rzp_test_key", Orders: &stubRazorpayOrders{}})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}

	if _, err := provider.CreateOrder(context.Background(), CreateOrderRequest{Amount: 0, Currency: "INR"}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestRazorpayLookupOrderMapsPaidStatus(t *testing.T) {
	orders := &stubRazorpayOrders{
		response: map[string]interface{}{
			"id":       "order_rzp_123",
			"amount":   float64(1849),
			"currency": "INR",
			"status":   "paid",
		},
	}
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{KeyID: "rzp_test_key", Orders: orders})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}

	order, err := provider.LookupOrder(context.Background(), LookupRequest{OrderID: "order_rzp_123"})
	if err != nil {
		t.Fatalf("LookupOrder: %v", err)
	}
	if order.Status != StatusPaid {
		t.Fatalf("expected paid status, got %s", order.Status)
	}
}
