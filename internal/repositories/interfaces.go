package repositories

import (
	"context"
	"time"

	"github.com/orchardlane/storefront/internal/domain"
)

// CartRepository persists one cart per identity. The same contract serves the
// server-backed store for authenticated users and the device-local store for
// anonymous shoppers.
type CartRepository interface {
	// Get loads the cart owned by ownerID. A missing cart surfaces as a
	// RepositoryError with IsNotFound.
	Get(ctx context.Context, ownerID string) (domain.Cart, error)
	// Save writes the full cart state, replacing any previous contents.
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	// Delete removes the cart entirely. Deleting an absent cart is a no-op.
	Delete(ctx context.Context, ownerID string) error
}

// CatalogRepository exposes read access to products, variants, and their live
// stock counts. Missing records surface as not-found errors, never panics.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetVariant(ctx context.Context, variantID string) (domain.ProductVariant, error)
	// GetVariants resolves a set of variant ids in one pass. Unknown ids are
	// simply absent from the result map.
	GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.ProductVariant, error)
}

// OrderCommitRequest bundles everything the atomic commit needs: the fully
// priced order, and either a saved address reference or a new address to
// insert in the same transaction.
type OrderCommitRequest struct {
	Order      domain.Order
	AddressID  string
	NewAddress *domain.Address
	Now        time.Time
}

// OrderRepository persists orders. Commit is the single atomic step that
// creates the order with its item snapshots, decrements variant stock with a
// decrement-if-available check, and attaches the shipping address. Any stock
// shortfall aborts the whole transaction with a StockError.
type OrderRepository interface {
	Commit(ctx context.Context, req OrderCommitRequest) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// FindByGatewayOrderID locates the order carrying a gateway order id, used
	// by payment reconciliation.
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
}

// AddressRepository manages the user's saved shipping addresses.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
	Create(ctx context.Context, address domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID, addressID string) error
}

// CounterRepository hands out monotonically increasing sequence values, used
// for human readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
