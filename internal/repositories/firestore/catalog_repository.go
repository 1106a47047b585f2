package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/orchardlane/storefront/internal/domain"
	pfirestore "github.com/orchardlane/storefront/internal/platform/firestore"
	"github.com/orchardlane/storefront/internal/repositories"
)

const (
	productCollection = "products"
	variantCollection = "variants"

	// Firestore caps "in" queries at 30 values per disjunction.
	variantQueryChunk = 30
)

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	Category    string    `firestore:"category,omitempty"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type variantDocument struct {
	ProductID         string  `firestore:"productId"`
	Key               string  `firestore:"key"`
	Price             int64   `firestore:"price"`
	DiscountPercent   float64 `firestore:"discountPercent"`
	Stock             int64   `firestore:"stock"`
	LowStockThreshold int64   `firestore:"lowStockThreshold"`
	Active            bool    `firestore:"active"`
}

// CatalogRepository reads products and variants. Variants live in their own
// collection so stock decrements during order commit touch single documents.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[productDocument]
	variants *pfirestore.BaseRepository[variantDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) *CatalogRepository {
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil),
		variants: pfirestore.NewBaseRepository[variantDocument](provider, variantCollection, nil),
	}
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// GetProduct fetches a product together with all of its variants.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	variantDocs, err := r.variants.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID)
	})
	if err != nil {
		return domain.Product{}, err
	}

	variants := make([]domain.ProductVariant, 0, len(variantDocs))
	for _, v := range variantDocs {
		variants = append(variants, variantFromDocument(v.ID, v.Data))
	}
	return productFromDocument(doc.ID, doc.Data, variants), nil
}

// GetVariant fetches a single variant by id.
func (r *CatalogRepository) GetVariant(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	doc, err := r.variants.Get(ctx, variantID)
	if err != nil {
		return domain.ProductVariant{}, err
	}
	return variantFromDocument(doc.ID, doc.Data), nil
}

// GetVariants resolves a set of variant ids in chunked "in" queries. Unknown
// ids are absent from the result.
func (r *CatalogRepository) GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.ProductVariant, error) {
	result := make(map[string]domain.ProductVariant, len(variantIDs))
	unique := make([]string, 0, len(variantIDs))
	seen := make(map[string]struct{}, len(variantIDs))
	for _, id := range variantIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	for start := 0; start < len(unique); start += variantQueryChunk {
		end := start + variantQueryChunk
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]
		docs, err := r.variants.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where(firestore.DocumentID, "in", chunk)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			result[doc.ID] = variantFromDocument(doc.ID, doc.Data)
		}
	}
	return result, nil
}

func productFromDocument(id string, doc productDocument, variants []domain.ProductVariant) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		ImageURL:    doc.ImageURL,
		Category:    doc.Category,
		Active:      doc.Active,
		Variants:    variants,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func variantFromDocument(id string, doc variantDocument) domain.ProductVariant {
	return domain.ProductVariant{
		ID:                id,
		ProductID:         doc.ProductID,
		Key:               doc.Key,
		Price:             doc.Price,
		DiscountPercent:   doc.DiscountPercent,
		Stock:             doc.Stock,
		LowStockThreshold: doc.LowStockThreshold,
		Active:            doc.Active,
	}
}
