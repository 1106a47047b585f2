package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	// Intents overrides the SDK payment intent client, used by tests.
	Intents stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface using Stripe PaymentIntents.
// The intent id doubles as the gateway order id and the client secret drives
// the browser side confirmation flow.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

var _ Provider = (*StripeProvider)(nil)

// CreateOrder opens a PaymentIntent for the given amount.
func (p *StripeProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, &ProviderError{Provider: "stripe", Message: "amount must be positive"}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if len(req.Notes) > 0 {
		params.Metadata = make(map[string]string, len(req.Notes)+1)
		for k, v := range req.Notes {
			params.Metadata[k] = v
		}
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		if params.Metadata == nil {
			params.Metadata = make(map[string]string, 1)
		}
		params.Metadata["receipt"] = receipt
	}

	intent, err := p.intents.New(params)
	if err != nil {
		p.logger(ctx, "stripe.intent.create_failed", map[string]any{
			"receipt": req.Receipt,
			"error":   err.Error(),
		})
		return GatewayOrder{}, &ProviderError{Provider: "stripe", Message: "payment intent create failed", Err: err}
	}

	order := stripeOrderFromIntent(intent)
	p.logger(ctx, "stripe.intent.created", map[string]any{
		"gateway_order_id": order.ID,
		"amount":           order.Amount,
		"currency":         order.Currency,
	})
	return order, nil
}

// LookupOrder fetches the current state of a PaymentIntent.
func (p *StripeProvider) LookupOrder(ctx context.Context, req LookupRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("stripe: provider is nil")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return GatewayOrder{}, &ProviderError{Provider: "stripe", Message: "order id is required"}
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(orderID, params)
	if err != nil {
		return GatewayOrder{}, &ProviderError{Provider: "stripe", Message: "payment intent fetch failed", Err: err}
	}
	return stripeOrderFromIntent(intent), nil
}

func stripeOrderFromIntent(intent *stripe.PaymentIntent) GatewayOrder {
	if intent == nil {
		return GatewayOrder{Provider: "stripe"}
	}
	order := GatewayOrder{
		ID:           intent.ID,
		Provider:     "stripe",
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       stripeStatus(intent.Status),
	}
	if intent.LastResponse != nil {
		order.Raw = map[string]any{"request_id": intent.LastResponse.RequestID}
	}
	return order
}

func stripeStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusCreated
	}
}
