package firestore

import (
	"context"
	"time"

	"github.com/orchardlane/storefront/internal/domain"
	pfirestore "github.com/orchardlane/storefront/internal/platform/firestore"
	"github.com/orchardlane/storefront/internal/repositories"
)

const cartCollection = "carts"

type cartItemDocument struct {
	ID              string           `firestore:"id"`
	ProductID       string           `firestore:"productId"`
	VariantID       string           `firestore:"variantId"`
	Name            string           `firestore:"name"`
	ImageURL        string           `firestore:"imageUrl,omitempty"`
	UnitPrice       int64            `firestore:"unitPrice"`
	DiscountPercent float64          `firestore:"discountPercent"`
	Quantity        int64            `firestore:"quantity"`
	MaxStock        int64            `firestore:"maxStock"`
	VariantStocks   map[string]int64 `firestore:"variantStocks,omitempty"`
	AddedAt         time.Time        `firestore:"addedAt"`
	UpdatedAt       time.Time        `firestore:"updatedAt"`
}

type cartDocument struct {
	OwnerID           string             `firestore:"ownerId"`
	Currency          string             `firestore:"currency"`
	Items             []cartItemDocument `firestore:"items"`
	ShippingAddressID string             `firestore:"shippingAddressId,omitempty"`
	CreatedAt         time.Time          `firestore:"createdAt"`
	UpdatedAt         time.Time          `firestore:"updatedAt"`
}

// CartRepository stores one cart document per authenticated user, keyed by
// the owner's uid.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) *CartRepository {
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil),
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// Get loads the cart owned by ownerID.
func (r *CartRepository) Get(ctx context.Context, ownerID string) (domain.Cart, error) {
	doc, err := r.base.Get(ctx, ownerID)
	if err != nil {
		return domain.Cart{}, err
	}
	return cartFromDocument(doc.ID, doc.Data), nil
}

// Save replaces the stored cart with the given state.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if _, err := r.base.Set(ctx, cart.OwnerID, cartToDocument(cart)); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// Delete removes the cart. Deleting an absent cart is a no-op.
func (r *CartRepository) Delete(ctx context.Context, ownerID string) error {
	return r.base.Delete(ctx, ownerID)
}

func cartToDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ID:              item.ID,
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			Name:            item.Name,
			ImageURL:        item.ImageURL,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.DiscountPercent,
			Quantity:        item.Quantity,
			MaxStock:        item.MaxStock,
			VariantStocks:   item.VariantStocks,
			AddedAt:         item.AddedAt,
			UpdatedAt:       item.UpdatedAt,
		})
	}
	return cartDocument{
		OwnerID:           cart.OwnerID,
		Currency:          cart.Currency,
		Items:             items,
		ShippingAddressID: cart.ShippingAddressID,
		CreatedAt:         cart.CreatedAt,
		UpdatedAt:         cart.UpdatedAt,
	}
}

func cartFromDocument(id string, doc cartDocument) domain.Cart {
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.CartItem{
			ID:              item.ID,
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			Name:            item.Name,
			ImageURL:        item.ImageURL,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.DiscountPercent,
			Quantity:        item.Quantity,
			MaxStock:        item.MaxStock,
			VariantStocks:   item.VariantStocks,
			AddedAt:         item.AddedAt,
			UpdatedAt:       item.UpdatedAt,
		})
	}
	return domain.Cart{
		ID:                id,
		OwnerID:           doc.OwnerID,
		Currency:          doc.Currency,
		Items:             items,
		ShippingAddressID: doc.ShippingAddressID,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}
