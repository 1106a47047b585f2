package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised gateway order states shared across providers.
type Status string

const (
	// StatusCreated indicates the gateway order exists and awaits payment.
	StatusCreated Status = "created"
	// StatusPaid indicates the gateway reports the order as paid.
	StatusPaid Status = "paid"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ProviderError wraps gateway failures with the provider that raised them.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payments: %s: %s", e.Provider, e.Message)
}

// Unwrap exposes the underlying gateway error.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CreateOrderRequest captures the payload required to open a gateway order.
// Amount is in the smallest currency unit and is always the server-side
// recomputed total.
type CreateOrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	Notes          map[string]string
	IdempotencyKey string
}

// GatewayOrder is the normalised gateway order handed back to the client so
// it can open the provider's checkout flow.
type GatewayOrder struct {
	ID           string
	Provider     string
	KeyID        string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       Status
	Raw          map[string]any
}

// LookupRequest identifies a gateway order for reconciliation.
type LookupRequest struct {
	OrderID string
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error)
	LookupOrder(ctx context.Context, req LookupRequest) (GatewayOrder, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without
// explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder resolves a provider and opens a gateway order with it. The
// returned order carries the resolved provider key.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req CreateOrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// LookupOrder delegates a reconciliation lookup to the named provider.
func (m *Manager) LookupOrder(ctx context.Context, providerKey string, req LookupRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(PaymentContext{PreferredProvider: providerKey})
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.LookupOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// Providers lists the registered provider keys.
func (m *Manager) Providers() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.providers))
	for key := range m.providers {
		keys = append(keys, key)
	}
	return keys
}
