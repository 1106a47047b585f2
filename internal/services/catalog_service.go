package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/repositories"
)

// ErrProductNotFound indicates the requested product does not exist or is inactive.
var ErrProductNotFound = errors.New("catalog service: product not found")

// ErrCatalogUnavailable indicates the catalog backend cannot serve the request.
var ErrCatalogUnavailable = errors.New("catalog service: unavailable")

// ProductView is the storefront projection of a product: the product itself,
// effective variant prices, and stock notices for the product page.
type ProductView struct {
	Product domain.Product
	Notices []domain.CartNotice
}

// CatalogService serves read access to the product catalog.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (ProductView, error)
}

// CatalogServiceDeps wires the catalog repository.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type catalogService struct {
	catalog repositories.CatalogRepository
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		catalog: deps.Catalog,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// GetProduct loads a product with stock annotations per variant. Inactive
// products surface as not found.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (ProductView, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductView{}, ErrProductNotFound
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return ProductView{}, ErrProductNotFound
		}
		return ProductView{}, ErrCatalogUnavailable
	}
	if !product.Active {
		return ProductView{}, ErrProductNotFound
	}

	var notices []domain.CartNotice
	for _, variant := range product.Variants {
		switch {
		case !variant.Active || variant.Stock <= 0:
			notices = append(notices, domain.CartNotice{
				Code:    domain.NoticeOutOfStock,
				ItemID:  variant.ID,
				Message: fmt.Sprintf("%s is out of stock", variant.Key),
			})
		case variant.LowStock():
			notices = append(notices, domain.CartNotice{
				Code:      domain.NoticeLowStock,
				ItemID:    variant.ID,
				Message:   fmt.Sprintf("only %d left of %s", variant.Stock, variant.Key),
				Available: variant.Stock,
			})
		}
	}
	return ProductView{Product: product, Notices: notices}, nil
}
