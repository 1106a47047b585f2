package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/platform/auth"
	"github.com/orchardlane/storefront/internal/platform/httpx"
	"github.com/orchardlane/storefront/internal/platform/pagination"
	"github.com/orchardlane/storefront/internal/services"
)

const (
	maxOrderBodySize = 64 * 1024

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes order placement and history endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs the order endpoints.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router. Placement is
// open to guests; history requires a signed-in user.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.With(h.authn.OptionalFirebaseAuth()).Post("/", h.placeOrder)
		r.With(h.authn.RequireFirebaseAuth()).Get("/", h.listOrders)
		r.With(h.authn.RequireFirebaseAuth()).Get("/{orderId}", h.getOrder)
		return
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
}

type orderLineRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int64  `json:"quantity"`
	// Price is the unit price the client rendered. It is verified and then
	// discarded; the server re-prices every line.
	Price int64 `json:"price,omitempty"`
}

type guestAddressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
}

type guestInfoRequest struct {
	Name    string              `json:"name"`
	Email   string              `json:"email,omitempty"`
	Phone   string              `json:"phone"`
	Address guestAddressRequest `json:"address"`
}

type placeOrderRequest struct {
	CartItems         []orderLineRequest `json:"cart_items"`
	ShippingAddressID string             `json:"shipping_address_id,omitempty"`
	GuestInfo         *guestInfoRequest  `json:"guest_info,omitempty"`
	PaymentProvider   string             `json:"payment_provider"`
	ShippingCost      *int64             `json:"shipping_cost,omitempty"`
}

type placeOrderResponse struct {
	OrderID         string `json:"order_id"`
	OrderNumber     string `json:"order_number"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	RazorpayOrderID string `json:"razorpay_order_id,omitempty"`
	Key             string `json:"key,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
	PaymentMethod   string `json:"payment_method"`
}

type orderItemPayload struct {
	ID              string  `json:"id"`
	ProductID       string  `json:"product_id"`
	VariantID       string  `json:"variant_id"`
	Name            string  `json:"name,omitempty"`
	VariantKey      string  `json:"variant_key,omitempty"`
	PriceAtPurchase int64   `json:"price_at_purchase"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
	Quantity        int64   `json:"quantity"`
	LineTotal       int64   `json:"line_total"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	Number         string             `json:"number"`
	Status         string             `json:"status"`
	PaymentStatus  string             `json:"payment_status"`
	PaymentMethod  string             `json:"payment_method"`
	GatewayOrderID string             `json:"gateway_order_id,omitempty"`
	Currency       string             `json:"currency"`
	Subtotal       int64              `json:"subtotal"`
	Discount       int64              `json:"discount"`
	ShippingCost   int64              `json:"shipping_cost"`
	Total          int64              `json:"total"`
	Items          []orderItemPayload `json:"items"`
	CreatedAt      string             `json:"created_at"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := shopperRefFromRequest(ctx, r)
	if !ref.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("identity_required", "sign in or supply a device id", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.PlaceOrderCommand{
		Shopper:           ref,
		ShippingAddressID: strings.TrimSpace(req.ShippingAddressID),
		ClaimedShipping:   req.ShippingCost,
		IdempotencyKey:    strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	for _, line := range req.CartItems {
		cmd.Items = append(cmd.Items, services.OrderLineInput{
			VariantID:        line.VariantID,
			Quantity:         line.Quantity,
			ClaimedUnitPrice: line.Price,
		})
	}

	provider := strings.ToLower(strings.TrimSpace(req.PaymentProvider))
	if provider == "cod" {
		cmd.PaymentMethod = domain.PaymentMethodCOD
	} else {
		cmd.PaymentMethod = domain.PaymentMethodPrepaid
		cmd.PaymentProvider = provider
	}

	if req.GuestInfo != nil {
		cmd.Guest = &services.GuestCheckoutInfo{
			Name:  req.GuestInfo.Name,
			Email: req.GuestInfo.Email,
			Phone: req.GuestInfo.Phone,
			Address: domain.Address{
				Line1:      req.GuestInfo.Address.Line1,
				Line2:      req.GuestInfo.Address.Line2,
				City:       req.GuestInfo.Address.City,
				State:      req.GuestInfo.Address.State,
				PostalCode: req.GuestInfo.Address.PostalCode,
				Country:    req.GuestInfo.Address.Country,
			},
		}
	}

	result, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := placeOrderResponse{
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.Number,
		Amount:        result.Order.TotalAmount,
		Currency:      result.Order.Currency,
		PaymentMethod: string(result.Order.PaymentMethod),
	}
	if result.Gateway != nil {
		resp.RazorpayOrderID = result.Gateway.ID
		resp.Key = result.Gateway.KeyID
		resp.ClientSecret = result.Gateway.ClientSecret
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := shopperRefFromRequest(ctx, r)
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, ref, domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		payload = append(payload, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        payload,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := shopperRefFromRequest(ctx, r)
	order, err := h.orders.GetOrder(ctx, ref, chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:              item.ID,
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			Name:            item.Name,
			VariantKey:      item.VariantKey,
			PriceAtPurchase: item.PriceAtPurchase,
			DiscountPercent: item.DiscountPercent,
			Quantity:        item.Quantity,
			LineTotal:       item.LineTotal,
		})
	}
	return orderPayload{
		ID:             order.ID,
		Number:         order.Number,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		GatewayOrderID: order.GatewayOrderID,
		Currency:       order.Currency,
		Subtotal:       order.Subtotal,
		Discount:       order.DiscountAmount,
		ShippingCost:   order.ShippingCost,
		Total:          order.TotalAmount,
		Items:          items,
		CreatedAt:      formatTime(order.CreatedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var oos *services.OutOfStockError
	if errors.As(err, &oos) {
		httpxErr := httpx.NewError("out_of_stock", "not enough stock to place the order", http.StatusConflict).
			WithDetails(map[string]any{
				"variant_id": oos.VariantID,
				"available":  oos.Available,
			})
		httpx.WriteError(ctx, w, httpxErr)
		return
	}

	var commitErr *services.CommitError
	if errors.As(err, &commitErr) {
		httpxErr := httpx.NewError("order_commit_failed", "payment was initiated but the order could not be saved; support will reconcile it", http.StatusInternalServerError).
			WithDetails(map[string]any{
				"gateway_order_id": commitErr.GatewayOrderID,
				"provider":         commitErr.Provider,
			})
		httpx.WriteError(ctx, w, httpxErr)
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "an ordered variant no longer exists", http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentProvider):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "the payment provider rejected the order", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "orders are temporarily unavailable", http.StatusServiceUnavailable))
	}
}
