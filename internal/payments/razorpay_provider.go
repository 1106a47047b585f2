package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID  string
	Secret string
	Logger RazorpayLogger
	Clock  func() time.Time
	// Orders overrides the SDK order client, used by tests.
	Orders razorpayOrderAPI
}

// RazorpayProvider implements the Provider interface over the Razorpay Orders
// API. The key id is echoed back to callers because the browser checkout
// widget needs it alongside the gateway order id.
type RazorpayProvider struct {
	orders razorpayOrderAPI
	keyID  string
	clock  func() time.Time
	logger RazorpayLogger
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	orders := cfg.Orders
	if orders == nil {
		secret := strings.TrimSpace(cfg.Secret)
		if keyID == "" || secret == "" {
			return nil, errors.New("razorpay: key id and secret are required")
		}
		orders = razorpay.NewClient(keyID, secret).Order
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		orders: orders,
		keyID:  keyID,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

var _ Provider = (*RazorpayProvider)(nil)

// CreateOrder opens a Razorpay order for the given amount. The SDK does not
// accept a context, so cancellation is checked up front only.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if err := ctx.Err(); err != nil {
		return GatewayOrder{}, err
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, &ProviderError{Provider: "razorpay", Message: "amount must be positive"}
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	var headers map[string]string
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers = map[string]string{"X-Razorpay-Idempotency": key}
	}

	started := p.clock()
	body, err := p.orders.Create(data, headers)
	if err != nil {
		p.logger(ctx, "razorpay.order.create_failed", map[string]any{
			"receipt": req.Receipt,
			"error":   err.Error(),
		})
		return GatewayOrder{}, &ProviderError{Provider: "razorpay", Message: "order create failed", Err: err}
	}

	order := razorpayOrderFromResponse(body, req)
	order.KeyID = p.keyID
	p.logger(ctx, "razorpay.order.created", map[string]any{
		"gateway_order_id": order.ID,
		"amount":           order.Amount,
		"currency":         order.Currency,
		"latency_ms":       p.clock().Sub(started).Milliseconds(),
	})
	return order, nil
}

// LookupOrder fetches the current state of a Razorpay order.
func (p *RazorpayProvider) LookupOrder(ctx context.Context, req LookupRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if err := ctx.Err(); err != nil {
		return GatewayOrder{}, err
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return GatewayOrder{}, &ProviderError{Provider: "razorpay", Message: "order id is required"}
	}

	body, err := p.orders.Fetch(orderID, nil, nil)
	if err != nil {
		return GatewayOrder{}, &ProviderError{Provider: "razorpay", Message: "order fetch failed", Err: err}
	}

	order := razorpayOrderFromResponse(body, CreateOrderRequest{})
	order.KeyID = p.keyID
	return order, nil
}

func razorpayOrderFromResponse(body map[string]interface{}, req CreateOrderRequest) GatewayOrder {
	order := GatewayOrder{
		Provider: "razorpay",
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Status:   StatusCreated,
		Raw:      body,
	}
	if id, ok := body["id"].(string); ok {
		order.ID = id
	}
	if currency, ok := body["currency"].(string); ok && currency != "" {
		order.Currency = strings.ToUpper(currency)
	}
	if amount, ok := numericField(body["amount"]); ok {
		order.Amount = amount
	}
	if status, ok := body["status"].(string); ok {
		order.Status = razorpayStatus(status)
	}
	return order
}

func razorpayStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid":
		return StatusPaid
	case "attempted", "created":
		return StatusCreated
	default:
		return StatusCreated
	}
}

func numericField(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
