package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/payments"
	"github.com/orchardlane/storefront/internal/platform/pagination"
	"github.com/orchardlane/storefront/internal/repositories"
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderUnavailable indicates a backend dependency failed.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// ErrOrderNotFound indicates the requested order does not exist for the caller.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderOutOfStock indicates a line cannot be covered by current stock.
var ErrOrderOutOfStock = errors.New("order service: out of stock")

// ErrOrderVariantNotFound indicates an ordered variant no longer exists.
var ErrOrderVariantNotFound = errors.New("order service: variant not found")

// ErrOrderPaymentProvider indicates the payment gateway rejected or failed
// the order creation. Nothing was committed.
var ErrOrderPaymentProvider = errors.New("order service: payment provider error")

// ErrOrderCommitFailed indicates the atomic commit failed after a gateway
// order was already opened. The payment needs reconciliation.
var ErrOrderCommitFailed = errors.New("order service: commit failed")

// OutOfStockError names the variant that could not be covered.
type OutOfStockError struct {
	VariantID string
	Available int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("order service: variant %s out of stock (%d available)", e.VariantID, e.Available)
}

// Is lets errors.Is match the ErrOrderOutOfStock sentinel.
func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOrderOutOfStock
}

// CommitError carries the gateway order left dangling by a failed commit so
// the caller can surface it and reconciliation can find the payment.
type CommitError struct {
	GatewayOrderID string
	Provider       string
	Err            error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("order service: commit failed after gateway order %s (%s): %v", e.GatewayOrderID, e.Provider, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Is lets errors.Is match the ErrOrderCommitFailed sentinel.
func (e *CommitError) Is(target error) bool {
	return target == ErrOrderCommitFailed
}

// OrderLineInput is one cart line as submitted by the client. The claimed
// unit price is advisory only; the pipeline re-prices every line from the
// catalog and logs any divergence.
type OrderLineInput struct {
	VariantID        string
	Quantity         int64
	ClaimedUnitPrice int64
}

// GuestCheckoutInfo carries the inline contact and shipping details used when
// no saved address is referenced.
type GuestCheckoutInfo struct {
	Name    string
	Email   string
	Phone   string
	Address domain.Address
}

// PlaceOrderCommand captures one checkout submission.
type PlaceOrderCommand struct {
	Shopper           ShopperRef
	Items             []OrderLineInput
	ShippingAddressID string
	Guest             *GuestCheckoutInfo
	PaymentMethod     domain.PaymentMethod
	PaymentProvider   string
	// ClaimedShipping is the fee the client displayed, ignored server side.
	ClaimedShipping *int64
	IdempotencyKey  string
}

// PlaceOrderResult is the committed order plus the gateway order the client
// needs to start payment, when one was opened.
type PlaceOrderResult struct {
	Order   domain.Order
	Gateway *payments.GatewayOrder
}

type paymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreateOrderRequest) (payments.GatewayOrder, error)
}

type cartClearer interface {
	ClearCart(ctx context.Context, ref ShopperRef) error
}

// OrderService runs the placement pipeline and serves order reads.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	GetOrder(ctx context.Context, ref ShopperRef, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, ref ShopperRef, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// OrderServiceDeps wires the repositories, gateway, and policies.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Addresses       repositories.AddressRepository
	Catalog         repositories.CatalogRepository
	Counters        repositories.CounterRepository
	Carts           cartClearer
	Gateway         paymentGateway
	Reconciliation  ReconciliationPublisher
	Retry           RetryPolicy
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
	Currency        string
	ShippingRule    domain.ShippingRule
	NumberCounterID string
}

type orderService struct {
	orders         repositories.OrderRepository
	addresses      repositories.AddressRepository
	catalog        repositories.CatalogRepository
	counters       repositories.CounterRepository
	carts          cartClearer
	gateway        paymentGateway
	reconciliation ReconciliationPublisher
	retry          RetryPolicy
	now            func() time.Time
	logger         func(context.Context, string, map[string]any)
	newID          func() string
	currency       string
	shipping       domain.ShippingRule
	counterID      string
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("order service: clock is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	counterID := firstNonEmpty(deps.NumberCounterID, "orderNumbers")

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	retry := deps.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}

	return &orderService{
		orders:         deps.Orders,
		addresses:      deps.Addresses,
		catalog:        deps.Catalog,
		counters:       deps.Counters,
		carts:          deps.Carts,
		gateway:        deps.Gateway,
		reconciliation: deps.Reconciliation,
		retry:          retry,
		now:            func() time.Time { return deps.Clock().UTC() },
		logger:         logger,
		newID:          idGen,
		currency:       currency,
		shipping:       deps.ShippingRule,
		counterID:      counterID,
	}, nil
}

// PlaceOrder runs the full pipeline: validate, re-price from the catalog,
// apply the shipping rule, open a gateway order for prepaid methods, then
// commit order and stock decrements atomically. Client-submitted prices and
// shipping never reach the stored order.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	if s == nil {
		return PlaceOrderResult{}, ErrOrderUnavailable
	}
	if err := s.validatePlacement(cmd); err != nil {
		return PlaceOrderResult{}, err
	}

	items, subtotal, originalSubtotal, err := s.repriceLines(ctx, cmd)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	shipping := domain.ShippingFee(cmd.PaymentMethod, subtotal, s.shipping)
	if cmd.ClaimedShipping != nil && *cmd.ClaimedShipping != shipping {
		s.logger(ctx, "order.shipping_overridden", map[string]any{
			"claimed":  *cmd.ClaimedShipping,
			"computed": shipping,
		})
	}
	total := subtotal + shipping

	address, guest, err := s.resolveShipping(ctx, cmd)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	now := s.now()
	orderID := "ord_" + strings.ToLower(s.newID())
	seq, err := s.counters.Next(ctx, s.counterID, 1)
	if err != nil {
		return PlaceOrderResult{}, ErrOrderUnavailable
	}
	number := fmt.Sprintf("OL-%d-%06d", now.Year(), seq)

	order := domain.Order{
		ID:             orderID,
		Number:         number,
		UserID:         strings.TrimSpace(cmd.Shopper.UserID),
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		PaymentMethod:  cmd.PaymentMethod,
		Currency:       s.currency,
		Subtotal:       subtotal,
		DiscountAmount: originalSubtotal - subtotal,
		ShippingCost:   shipping,
		TotalAmount:    total,
		Items:          items,
	}

	var gateway *payments.GatewayOrder
	if cmd.PaymentMethod == domain.PaymentMethodPrepaid {
		if s.gateway == nil {
			return PlaceOrderResult{}, ErrOrderUnavailable
		}
		created, err := s.gateway.CreateOrder(ctx, payments.PaymentContext{
			PreferredProvider: cmd.PaymentProvider,
			Currency:          s.currency,
		}, payments.CreateOrderRequest{
			Amount:   total,
			Currency: s.currency,
			Receipt:  orderID,
			Notes: map[string]string{
				"orderId":     orderID,
				"orderNumber": number,
			},
			IdempotencyKey: cmd.IdempotencyKey,
		})
		if err != nil {
			s.logger(ctx, "order.gateway_failed", map[string]any{
				"order_id": orderID,
				"error":    err.Error(),
			})
			return PlaceOrderResult{}, fmt.Errorf("%w: %v", ErrOrderPaymentProvider, err)
		}
		gateway = &created
		order.PaymentProvider = created.Provider
		order.GatewayOrderID = created.ID
	}

	commitReq := repositories.OrderCommitRequest{Order: order, Now: now}
	if address != nil {
		order.ShippingAddress = *address
		commitReq.Order.ShippingAddress = *address
		commitReq.AddressID = address.ID
		if address.ID != "" && cmd.ShippingAddressID == "" {
			commitReq.NewAddress = address
		}
	}
	if guest != nil {
		commitReq.Order.GuestContact = guest
	}

	committed, err := s.orders.Commit(ctx, commitReq)
	if err != nil {
		return PlaceOrderResult{}, s.handleCommitFailure(ctx, order, gateway, err)
	}

	if s.carts != nil {
		if err := s.carts.ClearCart(ctx, cmd.Shopper); err != nil {
			s.logger(ctx, "order.cart_clear_failed", map[string]any{
				"order_id": committed.ID,
				"error":    err.Error(),
			})
		}
	}

	s.logger(ctx, "order.placed", map[string]any{
		"order_id": committed.ID,
		"number":   committed.Number,
		"total":    committed.TotalAmount,
		"method":   string(committed.PaymentMethod),
	})
	return PlaceOrderResult{Order: committed, Gateway: gateway}, nil
}

// GetOrder fetches an order owned by the caller.
func (s *orderService) GetOrder(ctx context.Context, ref ShopperRef, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || !ref.Authenticated() {
		return domain.Order{}, ErrOrderNotFound
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, ErrOrderUnavailable
	}
	if order.UserID != strings.TrimSpace(ref.UserID) {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns a page of the caller's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, ref ShopperRef, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if !ref.Authenticated() {
		return domain.CursorPage[domain.Order]{}, ErrOrderInvalidInput
	}
	if pager.PageSize <= 0 || pager.PageSize > pagination.DefaultMaxPageSize {
		pager.PageSize = pagination.DefaultPageSize
	}
	page, err := s.orders.ListByUser(ctx, strings.TrimSpace(ref.UserID), pager)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[domain.Order]{}, ErrOrderInvalidInput
		}
		return domain.CursorPage[domain.Order]{}, ErrOrderUnavailable
	}
	return page, nil
}

func (s *orderService) validatePlacement(cmd PlaceOrderCommand) error {
	if !cmd.Shopper.Valid() {
		return fmt.Errorf("%w: shopper identity is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrOrderInvalidInput)
	}
	for _, line := range cmd.Items {
		if strings.TrimSpace(line.VariantID) == "" {
			return fmt.Errorf("%w: line is missing a variant", ErrOrderInvalidInput)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: line quantity must be at least 1", ErrOrderInvalidInput)
		}
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodPrepaid, domain.PaymentMethodCOD:
	default:
		return fmt.Errorf("%w: unknown payment method", ErrOrderInvalidInput)
	}
	if cmd.ShippingAddressID == "" && cmd.Guest == nil {
		return fmt.Errorf("%w: a shipping address is required", ErrOrderInvalidInput)
	}
	if cmd.ShippingAddressID != "" && !cmd.Shopper.Authenticated() {
		return fmt.Errorf("%w: saved addresses need a signed-in user", ErrOrderInvalidInput)
	}
	if cmd.Guest != nil {
		addr := cmd.Guest.Address
		if strings.TrimSpace(cmd.Guest.Name) == "" || strings.TrimSpace(cmd.Guest.Phone) == "" {
			return fmt.Errorf("%w: guest name and phone are required", ErrOrderInvalidInput)
		}
		if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.PostalCode) == "" {
			return fmt.Errorf("%w: guest address is incomplete", ErrOrderInvalidInput)
		}
	}
	return nil
}

// repriceLines loads every variant fresh from the catalog and prices the
// lines from variant data only. Client prices are compared and logged when
// they diverge, then discarded.
func (s *orderService) repriceLines(ctx context.Context, cmd PlaceOrderCommand) ([]domain.OrderItem, int64, int64, error) {
	ids := make([]string, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		ids = append(ids, strings.TrimSpace(line.VariantID))
	}
	variants, err := s.catalog.GetVariants(ctx, ids)
	if err != nil {
		return nil, 0, 0, ErrOrderUnavailable
	}

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	var subtotal, originalSubtotal int64
	for _, line := range cmd.Items {
		variantID := strings.TrimSpace(line.VariantID)
		variant, ok := variants[variantID]
		if !ok || !variant.Active {
			return nil, 0, 0, fmt.Errorf("%w: %s", ErrOrderVariantNotFound, variantID)
		}
		if variant.Stock < line.Quantity {
			return nil, 0, 0, &OutOfStockError{VariantID: variantID, Available: variant.Stock}
		}

		discount := domain.ClampDiscount(variant.DiscountPercent)
		unit := domain.DiscountedUnitPrice(variant.Price, discount)
		if line.ClaimedUnitPrice > 0 && line.ClaimedUnitPrice != unit {
			s.logger(ctx, "order.price_overridden", map[string]any{
				"variant_id": variantID,
				"claimed":    line.ClaimedUnitPrice,
				"computed":   unit,
			})
		}

		lineTotal := unit * line.Quantity
		product, err := s.catalog.GetProduct(ctx, variant.ProductID)
		name := ""
		if err == nil {
			name = product.Name
		}
		items = append(items, domain.OrderItem{
			ID:              s.newID(),
			ProductID:       variant.ProductID,
			VariantID:       variantID,
			Name:            name,
			VariantKey:      variant.Key,
			PriceAtPurchase: variant.Price,
			DiscountPercent: discount,
			Quantity:        line.Quantity,
			LineTotal:       lineTotal,
		})
		subtotal += lineTotal
		originalSubtotal += variant.Price * line.Quantity
	}
	return items, subtotal, originalSubtotal, nil
}

func (s *orderService) resolveShipping(ctx context.Context, cmd PlaceOrderCommand) (*domain.Address, *domain.GuestContact, error) {
	if cmd.ShippingAddressID != "" {
		if s.addresses == nil {
			return nil, nil, ErrOrderUnavailable
		}
		addr, err := s.addresses.Get(ctx, strings.TrimSpace(cmd.Shopper.UserID), cmd.ShippingAddressID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, nil, fmt.Errorf("%w: shipping address not found", ErrOrderInvalidInput)
			}
			return nil, nil, ErrOrderUnavailable
		}
		return &addr, nil, nil
	}

	guest := cmd.Guest
	addr := guest.Address
	addr.Name = firstNonEmpty(addr.Name, guest.Name)
	addr.Phone = firstNonEmpty(addr.Phone, guest.Phone)

	if cmd.Shopper.Authenticated() {
		// Signed-in shopper typing a fresh address at checkout: persist it
		// alongside the order so it appears in their address book.
		addr.ID = "addr_" + strings.ToLower(s.newID())
		addr.UserID = strings.TrimSpace(cmd.Shopper.UserID)
		return &addr, nil, nil
	}

	contact := &domain.GuestContact{
		Name:    guest.Name,
		Email:   guest.Email,
		Phone:   guest.Phone,
		Address: addr,
	}
	return &addr, contact, nil
}

// handleCommitFailure translates commit errors and, when a gateway order was
// already opened, hands the dangling payment to the reconciliation pipeline.
func (s *orderService) handleCommitFailure(ctx context.Context, order domain.Order, gateway *payments.GatewayOrder, commitErr error) error {
	if gateway != nil {
		s.publishReconciliation(ctx, order, *gateway)
	}

	var stockErr *repositories.StockError
	if errors.As(commitErr, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorVariantNotFound:
			return fmt.Errorf("%w: %s", ErrOrderVariantNotFound, stockErr.VariantID)
		default:
			return &OutOfStockError{VariantID: stockErr.VariantID, Available: stockErr.Available}
		}
	}
	if gateway != nil {
		return &CommitError{GatewayOrderID: gateway.ID, Provider: gateway.Provider, Err: commitErr}
	}
	s.logger(ctx, "order.commit_failed", map[string]any{
		"order_id": order.ID,
		"error":    commitErr.Error(),
	})
	return ErrOrderUnavailable
}

func (s *orderService) publishReconciliation(ctx context.Context, order domain.Order, gateway payments.GatewayOrder) {
	if s.reconciliation == nil {
		return
	}
	message := PaymentReconciliationMessage{
		GatewayOrderID: gateway.ID,
		Provider:       gateway.Provider,
		UserID:         order.UserID,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		Reason:         "commit_failed",
		OccurredAt:     s.now(),
	}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.reconciliation.PublishReconciliation(ctx, message)
		return err
	})
	if err != nil {
		s.logger(ctx, "order.reconciliation_publish_failed", map[string]any{
			"gateway_order_id": gateway.ID,
			"error":            err.Error(),
		})
		return
	}
	s.logger(ctx, "order.reconciliation_published", map[string]any{
		"gateway_order_id": gateway.ID,
		"provider":         gateway.Provider,
	})
}
