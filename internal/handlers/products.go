package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/platform/httpx"
	"github.com/orchardlane/storefront/internal/services"
)

// ProductHandlers serves the public product pages.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs the product endpoints.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes wires the /products endpoints onto the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products/{productId}", h.getProduct)
}

type productVariantPayload struct {
	ID              string  `json:"id"`
	Key             string  `json:"key,omitempty"`
	Price           int64   `json:"price"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
	EffectivePrice  int64   `json:"effective_price"`
	Stock           int64   `json:"stock"`
	LowStock        bool    `json:"low_stock,omitempty"`
	Active          bool    `json:"active"`
}

type productResponse struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	ImageURL    string                  `json:"image_url,omitempty"`
	Category    string                  `json:"category,omitempty"`
	Variants    []productVariantPayload `json:"variants"`
	Notices     []cartNoticePayload     `json:"notices,omitempty"`
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrProductNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is temporarily unavailable", http.StatusServiceUnavailable))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductResponse(view))
}

func buildProductResponse(view services.ProductView) productResponse {
	variants := make([]productVariantPayload, 0, len(view.Product.Variants))
	for _, variant := range view.Product.Variants {
		variants = append(variants, productVariantPayload{
			ID:              variant.ID,
			Key:             variant.Key,
			Price:           variant.Price,
			DiscountPercent: variant.DiscountPercent,
			EffectivePrice:  domain.DiscountedUnitPrice(variant.Price, variant.DiscountPercent),
			Stock:           variant.Stock,
			LowStock:        variant.LowStock(),
			Active:          variant.Active,
		})
	}

	notices := make([]cartNoticePayload, 0, len(view.Notices))
	for _, notice := range view.Notices {
		notices = append(notices, buildCartNoticePayload(notice))
	}

	return productResponse{
		ID:          view.Product.ID,
		Name:        view.Product.Name,
		Description: view.Product.Description,
		ImageURL:    view.Product.ImageURL,
		Category:    view.Product.Category,
		Variants:    variants,
		Notices:     notices,
	}
}
