package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/repositories"
)

// ShopperRef identifies who owns a cart: an authenticated user by uid, or an
// anonymous shopper by device id. Exactly one of the two is set.
type ShopperRef struct {
	UserID   string
	DeviceID string
}

// Authenticated reports whether the reference names a signed-in user.
func (r ShopperRef) Authenticated() bool {
	return strings.TrimSpace(r.UserID) != ""
}

// OwnerID returns the storage key for the cart. Authenticated and anonymous
// identities never collide because each resolves against its own store.
func (r ShopperRef) OwnerID() string {
	if uid := strings.TrimSpace(r.UserID); uid != "" {
		return uid
	}
	return strings.TrimSpace(r.DeviceID)
}

// Valid reports whether the reference carries an identity at all.
func (r ShopperRef) Valid() bool {
	return r.OwnerID() != ""
}

// CartView bundles the cart state returned to callers with the server-side
// pricing summary and any notices raised by the operation.
type CartView struct {
	Cart    domain.Cart
	Pricing domain.PricingSummary
	Notices []domain.CartNotice
}

// PaymentReconciliationMessage is published when an order commit fails after
// a gateway order was already opened, so an operator or worker can reconcile
// the payment against the missing order.
type PaymentReconciliationMessage struct {
	GatewayOrderID string    `json:"gatewayOrderId"`
	Provider       string    `json:"provider"`
	UserID         string    `json:"userId,omitempty"`
	DeviceID       string    `json:"deviceId,omitempty"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// ReconciliationPublisher emits reconciliation messages to the ops pipeline.
type ReconciliationPublisher interface {
	PublishReconciliation(ctx context.Context, message PaymentReconciliationMessage) (string, error)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func cloneCart(cart domain.Cart) domain.Cart {
	clone := cart
	clone.Items = cloneCartItems(cart.Items)
	return clone
}

func cloneCartItems(items []domain.CartItem) []domain.CartItem {
	if items == nil {
		return nil
	}
	cloned := make([]domain.CartItem, len(items))
	copy(cloned, items)
	for i := range cloned {
		cloned[i].VariantStocks = cloneInt64Map(items[i].VariantStocks)
	}
	return cloned
}

func cloneInt64Map(values map[string]int64) map[string]int64 {
	if values == nil {
		return nil
	}
	cloned := make(map[string]int64, len(values))
	for k, v := range values {
		cloned[k] = v
	}
	return cloned
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
