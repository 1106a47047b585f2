package domain

import "time"

// OrderStatus enumerates the fulfilment lifecycle of a placed order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus enumerates the payment state carried by an order.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentMethod selects how the shopper settles the order.
type PaymentMethod string

const (
	// PaymentMethodPrepaid routes the order through a payment gateway before commit.
	PaymentMethodPrepaid PaymentMethod = "prepaid"
	// PaymentMethodCOD commits the order with payment collected on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

// NoticeCode identifies the kind of non-fatal notice raised by cart operations.
type NoticeCode string

const (
	NoticeOutOfStock      NoticeCode = "out_of_stock"
	NoticeQuantityClamped NoticeCode = "quantity_clamped"
	NoticeItemMerged      NoticeCode = "item_merged"
	NoticeLowStock        NoticeCode = "low_stock"
	NoticeActionFailed    NoticeCode = "action_failed"
)

// CartNotice describes a recoverable condition surfaced to the shopper without
// failing the operation that produced it.
type CartNotice struct {
	Code      NoticeCode
	ItemID    string
	Message   string
	Available int64
}

// CartItem is a single line in a cart: one (product, variant) pair and a quantity.
//
// UnitPrice is the original pre-discount price in the smallest currency unit.
// MaxStock is the stock snapshot for the selected variant taken at fetch time;
// it is advisory and re-validated server side at order placement.
type CartItem struct {
	ID              string
	ProductID       string
	VariantID       string
	Name            string
	ImageURL        string
	UnitPrice       int64
	DiscountPercent float64
	Quantity        int64
	MaxStock        int64
	// VariantStocks maps every selectable variant of the product to its stock
	// snapshot, so a variant switch can be offered without a catalog round trip.
	VariantStocks map[string]int64
	AddedAt       time.Time
	UpdatedAt     time.Time
}

// Cart holds the line items for one identity. Exactly one cart exists per
// authenticated user and one per anonymous device.
type Cart struct {
	ID                string
	OwnerID           string
	Currency          string
	Items             []CartItem
	ShippingAddressID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Count returns the total quantity across all line items.
func (c Cart) Count() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// FindItem returns the index of the line item with the given id, or -1.
func (c Cart) FindItem(itemID string) int {
	for i, item := range c.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// FindLine returns the index of the line item holding the (product, variant)
// pair, or -1. At most one such line exists per cart.
func (c Cart) FindLine(productID, variantID string) int {
	for i, item := range c.Items {
		if item.ProductID == productID && item.VariantID == variantID {
			return i
		}
	}
	return -1
}

// ProductVariant is a purchasable configuration of a product with its own
// stock count. Owned by the catalog; carts only reference variant ids.
type ProductVariant struct {
	ID                string
	ProductID         string
	Key               string
	Price             int64
	DiscountPercent   float64
	Stock             int64
	LowStockThreshold int64
	Active            bool
}

// LowStock reports whether the remaining stock is at or below the threshold.
func (v ProductVariant) LowStock() bool {
	return v.LowStockThreshold > 0 && v.Stock > 0 && v.Stock <= v.LowStockThreshold
}

// Product aggregates the catalog data the storefront needs to render and sell
// a product, including its selectable variants.
type Product struct {
	ID          string
	Name        string
	Description string
	ImageURL    string
	Category    string
	Active      bool
	Variants    []ProductVariant
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variant returns the variant with the given id, if present.
func (p Product) Variant(variantID string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.ID == variantID {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// Address is a saved shipping destination owned by a user profile. Once an
// order is placed against it the order keeps its own immutable copy.
type Address struct {
	ID         string
	UserID     string
	Name       string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GuestContact carries the inline contact and address fields supplied during
// guest checkout in place of a saved address reference.
type GuestContact struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

// OrderItem is the immutable snapshot of a purchased line at the time of
// purchase, decoupled from later catalog changes.
type OrderItem struct {
	ID              string
	ProductID       string
	VariantID       string
	Name            string
	VariantKey      string
	PriceAtPurchase int64
	DiscountPercent float64
	Quantity        int64
	LineTotal       int64
}

// Order is the persisted outcome of a successful placement. TotalAmount is
// always the server-side recomputation, never a client-submitted figure.
type Order struct {
	ID              string
	Number          string
	UserID          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	PaymentProvider string
	GatewayOrderID  string
	Currency        string
	Subtotal        int64
	DiscountAmount  int64
	ShippingCost    int64
	TotalAmount     int64
	Items           []OrderItem
	ShippingAddress Address
	GuestContact    *GuestContact
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Pagination carries the page size and opaque cursor for list reads.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
