package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/platform/auth"
	"github.com/orchardlane/storefront/internal/platform/httpx"
	"github.com/orchardlane/storefront/internal/services"
)

const (
	maxCartBodySize = 16 * 1024

	// deviceHeader identifies anonymous shoppers. Authenticated requests
	// ignore it; the Firebase uid wins.
	deviceHeader = "X-Device-ID"
)

// CartHandlers exposes the cart endpoints for signed-in users and guests.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers resolving identity before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Post("/items:restore", h.restoreItem)
	r.Patch("/items/{itemId}", h.setQuantity)
	r.Delete("/items/{itemId}", h.removeItem)
	r.Post("/items/{itemId}:switch", h.switchVariant)
}

type cartItemPayload struct {
	ID              string           `json:"id"`
	ProductID       string           `json:"product_id"`
	VariantID       string           `json:"variant_id"`
	Name            string           `json:"name,omitempty"`
	ImageURL        string           `json:"image_url,omitempty"`
	UnitPrice       int64            `json:"unit_price"`
	DiscountPercent float64          `json:"discount_percent,omitempty"`
	EffectivePrice  int64            `json:"effective_price"`
	Quantity        int64            `json:"quantity"`
	MaxStock        int64            `json:"max_stock"`
	VariantStocks   map[string]int64 `json:"variant_stocks,omitempty"`
	AddedAt         string           `json:"added_at,omitempty"`
	UpdatedAt       string           `json:"updated_at,omitempty"`
}

type cartPricingPayload struct {
	Currency         string `json:"currency"`
	OriginalSubtotal int64  `json:"original_subtotal"`
	Subtotal         int64  `json:"subtotal"`
	Discount         int64  `json:"discount"`
	Shipping         int64  `json:"shipping"`
	Total            int64  `json:"total"`
	ItemCount        int64  `json:"item_count"`
}

type cartNoticePayload struct {
	Code      string `json:"code"`
	ItemID    string `json:"item_id,omitempty"`
	Message   string `json:"message"`
	Available int64  `json:"available,omitempty"`
}

type cartResponse struct {
	Items       []cartItemPayload   `json:"items"`
	Count       int64               `json:"count"`
	Currency    string              `json:"currency"`
	Pricing     cartPricingPayload  `json:"pricing"`
	Notices     []cartNoticePayload `json:"notices,omitempty"`
	RemovedItem *cartItemPayload    `json:"removed_item,omitempty"`
	UpdatedAt   string              `json:"updated_at,omitempty"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int64  `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type switchVariantRequest struct {
	VariantID string `json:"variant_id"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.shopperRef(ctx, w, r)
	if !ok {
		return
	}

	view, err := h.carts.GetCart(ctx, ref)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(view, nil))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.shopperRef(ctx, w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	view, err := h.carts.AddItem(ctx, ref, services.AddItemCommand{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(view, nil))
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.shopperRef(ctx, w, r)
	if !ok {
		return
	}

	var req setQuantityRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	view, err := h.carts.SetQuantity(ctx, ref, services.SetQuantityCommand{
		ItemID:   chi.URLParam(r, "itemId"),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(view, nil))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.shopperRef(ctx, w, r)
	if !ok {
		return
	}

	view, removed, err := h.carts.RemoveItem(ctx, ref, chi.URLParam(r, "itemId"))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	payload := buildCartItemPayload(removed.Item)
	writeJSONResponse(w, http.StatusOK, buildCartResponse(view, &payload))
}

func (h *CartHandlers) restoreItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.shopperRef(ctx, w, r)
	if !ok {
		return
	}

	var req cartItemPayload
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	view, err := h.carts.RestoreItem(ctx, ref, cartItemFromPayload(req))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(view, nil))
}

func (h *CartHandlers) switchVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.shopperRef(ctx, w, r)
	if !ok {
		return
	}

	var req switchVariantRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	view, err := h.carts.SwitchVariant(ctx, ref, services.SwitchVariantCommand{
		ItemID:       chi.URLParam(r, "itemId"),
		NewVariantID: req.VariantID,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(view, nil))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.shopperRef(ctx, w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, ref); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// shopperRef resolves the caller's identity: the verified Firebase uid when
// present, otherwise the device header for guests.
func (h *CartHandlers) shopperRef(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.ShopperRef, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return services.ShopperRef{}, false
	}
	ref := shopperRefFromRequest(ctx, r)
	if !ref.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("identity_required", "sign in or supply a device id", http.StatusUnauthorized))
		return services.ShopperRef{}, false
	}
	return ref, true
}

func shopperRefFromRequest(ctx context.Context, r *http.Request) services.ShopperRef {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
		return services.ShopperRef{UserID: identity.UID}
	}
	return services.ShopperRef{DeviceID: strings.TrimSpace(r.Header.Get(deviceHeader))}
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func buildCartResponse(view services.CartView, removed *cartItemPayload) cartResponse {
	items := make([]cartItemPayload, 0, len(view.Cart.Items))
	for _, item := range view.Cart.Items {
		items = append(items, buildCartItemPayload(item))
	}
	notices := make([]cartNoticePayload, 0, len(view.Notices))
	for _, notice := range view.Notices {
		notices = append(notices, buildCartNoticePayload(notice))
	}
	return cartResponse{
		Items:    items,
		Count:    view.Cart.Count(),
		Currency: view.Cart.Currency,
		Pricing: cartPricingPayload{
			Currency:         view.Pricing.Currency,
			OriginalSubtotal: view.Pricing.OriginalSubtotal,
			Subtotal:         view.Pricing.Subtotal,
			Discount:         view.Pricing.Discount,
			Shipping:         view.Pricing.Shipping,
			Total:            view.Pricing.Total,
			ItemCount:        view.Pricing.ItemCount,
		},
		Notices:     notices,
		RemovedItem: removed,
		UpdatedAt:   formatTime(view.Cart.UpdatedAt),
	}
}

func buildCartNoticePayload(notice domain.CartNotice) cartNoticePayload {
	return cartNoticePayload{
		Code:      string(notice.Code),
		ItemID:    notice.ItemID,
		Message:   notice.Message,
		Available: notice.Available,
	}
}

func buildCartItemPayload(item domain.CartItem) cartItemPayload {
	return cartItemPayload{
		ID:              item.ID,
		ProductID:       item.ProductID,
		VariantID:       item.VariantID,
		Name:            item.Name,
		ImageURL:        item.ImageURL,
		UnitPrice:       item.UnitPrice,
		DiscountPercent: item.DiscountPercent,
		EffectivePrice:  domain.DiscountedUnitPrice(item.UnitPrice, item.DiscountPercent),
		Quantity:        item.Quantity,
		MaxStock:        item.MaxStock,
		VariantStocks:   item.VariantStocks,
		AddedAt:         formatTime(item.AddedAt),
		UpdatedAt:       formatTime(item.UpdatedAt),
	}
}

func cartItemFromPayload(payload cartItemPayload) domain.CartItem {
	item := domain.CartItem{
		ID:              payload.ID,
		ProductID:       payload.ProductID,
		VariantID:       payload.VariantID,
		Name:            payload.Name,
		ImageURL:        payload.ImageURL,
		UnitPrice:       payload.UnitPrice,
		DiscountPercent: payload.DiscountPercent,
		Quantity:        payload.Quantity,
		MaxStock:        payload.MaxStock,
		VariantStocks:   payload.VariantStocks,
	}
	if ts, err := time.Parse(time.RFC3339Nano, payload.AddedAt); err == nil {
		item.AddedAt = ts
	}
	return item
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "product variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "the selected variant is out of stock", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart is temporarily unavailable", http.StatusServiceUnavailable))
	}
}
