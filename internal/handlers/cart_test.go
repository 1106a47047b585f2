package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/services"
)

type stubCartService struct {
	view        services.CartView
	removed     services.RemovedItem
	err         error
	lastRef     services.ShopperRef
	lastAdd     services.AddItemCommand
	lastSet     services.SetQuantityCommand
	lastSwitch  services.SwitchVariantCommand
	lastRestore domain.CartItem
	cleared     bool
}

func (s *stubCartService) GetCart(_ context.Context, ref services.ShopperRef) (services.CartView, error) {
	s.lastRef = ref
	return s.view, s.err
}

func (s *stubCartService) AddItem(_ context.Context, ref services.ShopperRef, cmd services.AddItemCommand) (services.CartView, error) {
	s.lastRef = ref
	s.lastAdd = cmd
	return s.view, s.err
}

func (s *stubCartService) SetQuantity(_ context.Context, ref services.ShopperRef, cmd services.SetQuantityCommand) (services.CartView, error) {
	s.lastRef = ref
	s.lastSet = cmd
	return s.view, s.err
}

func (s *stubCartService) RemoveItem(_ context.Context, ref services.ShopperRef, itemID string) (services.CartView, services.RemovedItem, error) {
	s.lastRef = ref
	return s.view, s.removed, s.err
}

func (s *stubCartService) RestoreItem(_ context.Context, ref services.ShopperRef, item domain.CartItem) (services.CartView, error) {
	s.lastRef = ref
	s.lastRestore = item
	return s.view, s.err
}

func (s *stubCartService) SwitchVariant(_ context.Context, ref services.ShopperRef, cmd services.SwitchVariantCommand) (services.CartView, error) {
	s.lastRef = ref
	s.lastSwitch = cmd
	return s.view, s.err
}

func (s *stubCartService) ClearCart(_ context.Context, ref services.ShopperRef) error {
	s.lastRef = ref
	s.cleared = true
	return s.err
}

func newCartTestRouter(svc services.CartService) http.Handler {
	r := chi.NewRouter()
	r.Route("/cart", NewCartHandlers(nil, svc).Routes)
	return r
}

func sampleCartView() services.CartView {
	return services.CartView{
		Cart: domain.Cart{
			ID:       "cart-1",
			OwnerID:  "device-1",
			Currency: "INR",
			Items: []domain.CartItem{
				{
					ID:              "item-1",
					ProductID:       "prod-shirt",
					VariantID:       "var-m",
					Name:            "Oxford Shirt (M)",
					UnitPrice:       1000,
					DiscountPercent: 10,
					Quantity:        2,
					MaxStock:        10,
				},
			},
		},
		Pricing: domain.PricingSummary{
			Currency:         "INR",
			OriginalSubtotal: 2000,
			Subtotal:         1800,
			Discount:         200,
			Shipping:         0,
			Total:            1800,
			ItemCount:        2,
		},
	}
}

func TestGetCartReturnsPricedView(t *testing.T) {
	svc := &stubCartService{view: sampleCartView()}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/cart/", nil)
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.lastRef.DeviceID != "device-1" || svc.lastRef.UserID != "" {
		t.Fatalf("shopper ref = %+v, want guest device-1", svc.lastRef)
	}

	var resp cartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(resp.Items))
	}
	if resp.Items[0].EffectivePrice != 900 {
		t.Fatalf("effective price = %d, want 900", resp.Items[0].EffectivePrice)
	}
	if resp.Pricing.Total != 1800 {
		t.Fatalf("total = %d, want 1800", resp.Pricing.Total)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
}

func TestGetCartWithoutIdentityIsRejected(t *testing.T) {
	svc := &stubCartService{view: sampleCartView()}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/cart/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), "identity_required") {
		t.Fatalf("body = %s, want identity_required", rec.Body.String())
	}
}

func TestAddItemForwardsCommand(t *testing.T) {
	svc := &stubCartService{view: sampleCartView()}
	router := newCartTestRouter(svc)

	body := `{"product_id":"prod-shirt","variant_id":"var-m","quantity":2}`
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(body))
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	want := services.AddItemCommand{ProductID: "prod-shirt", VariantID: "var-m", Quantity: 2}
	if svc.lastAdd != want {
		t.Fatalf("command = %+v, want %+v", svc.lastAdd, want)
	}
}

func TestAddItemRejectsMalformedBody(t *testing.T) {
	svc := &stubCartService{view: sampleCartView()}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader("{not json"))
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSetQuantityMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", services.ErrCartInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"item missing", services.ErrCartItemNotFound, http.StatusNotFound, "item_not_found"},
		{"variant missing", services.ErrVariantNotFound, http.StatusNotFound, "variant_not_found"},
		{"out of stock", services.ErrCartOutOfStock, http.StatusConflict, "out_of_stock"},
		{"backend down", services.ErrCartUnavailable, http.StatusServiceUnavailable, "cart_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCartService{err: tc.err}
			router := newCartTestRouter(svc)

			req := httptest.NewRequest(http.MethodPatch, "/cart/items/item-1", strings.NewReader(`{"quantity":3}`))
			req.Header.Set("X-Device-ID", "device-1")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tc.wantCode) {
				t.Fatalf("body = %s, want code %s", rec.Body.String(), tc.wantCode)
			}
		})
	}
}

func TestRemoveItemReturnsUndoPayload(t *testing.T) {
	view := sampleCartView()
	view.Cart.Items = nil
	view.Pricing = domain.PricingSummary{Currency: "INR", Shipping: 49, Total: 49}
	svc := &stubCartService{
		view: view,
		removed: services.RemovedItem{Item: domain.CartItem{
			ID:        "item-1",
			ProductID: "prod-shirt",
			VariantID: "var-m",
			UnitPrice: 1000,
			Quantity:  2,
		}},
	}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/cart/items/item-1", nil)
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp cartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RemovedItem == nil || resp.RemovedItem.ID != "item-1" {
		t.Fatalf("removed_item = %+v, want item-1", resp.RemovedItem)
	}
	if resp.RemovedItem.Quantity != 2 {
		t.Fatalf("removed quantity = %d, want 2", resp.RemovedItem.Quantity)
	}
}

func TestRestoreItemRoundTripsPayload(t *testing.T) {
	svc := &stubCartService{view: sampleCartView()}
	router := newCartTestRouter(svc)

	body := `{"id":"item-1","product_id":"prod-shirt","variant_id":"var-m","unit_price":1000,"quantity":2}`
	req := httptest.NewRequest(http.MethodPost, "/cart/items:restore", strings.NewReader(body))
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.lastRestore.ID != "item-1" || svc.lastRestore.Quantity != 2 {
		t.Fatalf("restored item = %+v, want item-1 qty 2", svc.lastRestore)
	}
}

func TestSwitchVariantForwardsTarget(t *testing.T) {
	svc := &stubCartService{view: sampleCartView()}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/cart/items/item-1:switch", strings.NewReader(`{"variant_id":"var-l"}`))
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	want := services.SwitchVariantCommand{ItemID: "item-1", NewVariantID: "var-l"}
	if svc.lastSwitch != want {
		t.Fatalf("command = %+v, want %+v", svc.lastSwitch, want)
	}
}

func TestClearCartReturnsNoContent(t *testing.T) {
	svc := &stubCartService{view: sampleCartView()}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/cart/", nil)
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if !svc.cleared {
		t.Fatal("expected ClearCart to be invoked")
	}
}
