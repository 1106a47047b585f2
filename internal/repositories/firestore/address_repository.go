package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/orchardlane/storefront/internal/domain"
	pfirestore "github.com/orchardlane/storefront/internal/platform/firestore"
	"github.com/orchardlane/storefront/internal/repositories"
)

const addressCollection = "addresses"

type addressDocument struct {
	UserID     string    `firestore:"userId"`
	Name       string    `firestore:"name"`
	Phone      string    `firestore:"phone,omitempty"`
	Line1      string    `firestore:"line1"`
	Line2      string    `firestore:"line2,omitempty"`
	City       string    `firestore:"city"`
	State      string    `firestore:"state"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	IsDefault  bool      `firestore:"isDefault"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// AddressRepository stores saved shipping addresses, one document per address.
// Ownership checks compare the stored userId against the caller on every read.
type AddressRepository struct {
	base *pfirestore.BaseRepository[addressDocument]
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) *AddressRepository {
	return &AddressRepository{
		base: pfirestore.NewBaseRepository[addressDocument](provider, addressCollection, nil),
	}
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// List returns the user's saved addresses, default first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).
			OrderBy("isDefault", firestore.Desc).
			OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	addresses := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		addresses = append(addresses, addressFromDocument(doc.ID, doc.Data))
	}
	return addresses, nil
}

// Get fetches a single address. An address owned by a different user surfaces
// as not found so callers cannot probe other users' ids.
func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	doc, err := r.base.Get(ctx, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	if doc.Data.UserID != userID {
		return domain.Address{}, pfirestore.NotFoundError("addresses.get",
			fmt.Errorf("address %s not owned by caller", addressID))
	}
	return addressFromDocument(doc.ID, doc.Data), nil
}

// Create stores a new address under the id already assigned by the caller.
func (r *AddressRepository) Create(ctx context.Context, address domain.Address) (domain.Address, error) {
	now := address.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		address.CreatedAt = now
	}
	address.UpdatedAt = now
	if _, err := r.base.Set(ctx, address.ID, addressToDocument(address, now)); err != nil {
		return domain.Address{}, err
	}
	return address, nil
}

// Delete removes an address after confirming ownership.
func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	if _, err := r.Get(ctx, userID, addressID); err != nil {
		return err
	}
	return r.base.Delete(ctx, addressID)
}

func addressToDocument(addr domain.Address, now time.Time) addressDocument {
	createdAt := addr.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return addressDocument{
		UserID:     addr.UserID,
		Name:       addr.Name,
		Phone:      addr.Phone,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		IsDefault:  addr.IsDefault,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}
}

func addressFromDocument(id string, doc addressDocument) domain.Address {
	return domain.Address{
		ID:         id,
		UserID:     doc.UserID,
		Name:       doc.Name,
		Phone:      doc.Phone,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		IsDefault:  doc.IsDefault,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}
