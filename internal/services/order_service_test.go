package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/payments"
	"github.com/orchardlane/storefront/internal/platform/pagination"
	"github.com/orchardlane/storefront/internal/repositories"
)

var orderNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type stubOrderRepo struct {
	committed []repositories.OrderCommitRequest
	commitErr error
	orders    map[string]domain.Order
	lastPager domain.Pagination
	nextToken string
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{orders: make(map[string]domain.Order)}
}

func (r *stubOrderRepo) Commit(ctx context.Context, req repositories.OrderCommitRequest) (domain.Order, error) {
	if r.commitErr != nil {
		return domain.Order{}, r.commitErr
	}
	r.committed = append(r.committed, req)
	r.orders[req.Order.ID] = req.Order
	return req.Order, nil
}

func (r *stubOrderRepo) Get(ctx context.Context, orderID string) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, &stubRepoError{notFound: true}
	}
	return order, nil
}

func (r *stubOrderRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	r.lastPager = pager
	if pager.PageToken != "" {
		if _, _, err := pagination.DecodeTimeToken(pager.PageToken); err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	var result []domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			result = append(result, order)
		}
	}
	return domain.CursorPage[domain.Order]{Items: result, NextPageToken: r.nextToken}, nil
}

func (r *stubOrderRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.GatewayOrderID == gatewayOrderID {
			return order, nil
		}
	}
	return domain.Order{}, &stubRepoError{notFound: true}
}

type stubAddressRepo struct {
	addresses map[string]domain.Address
}

func newStubAddressRepo() *stubAddressRepo {
	return &stubAddressRepo{addresses: make(map[string]domain.Address)}
}

func (r *stubAddressRepo) List(ctx context.Context, userID string) ([]domain.Address, error) {
	var result []domain.Address
	for _, addr := range r.addresses {
		if addr.UserID == userID {
			result = append(result, addr)
		}
	}
	return result, nil
}

func (r *stubAddressRepo) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	addr, ok := r.addresses[addressID]
	if !ok || addr.UserID != userID {
		return domain.Address{}, &stubRepoError{notFound: true}
	}
	return addr, nil
}

func (r *stubAddressRepo) Create(ctx context.Context, address domain.Address) (domain.Address, error) {
	r.addresses[address.ID] = address
	return address, nil
}

func (r *stubAddressRepo) Delete(ctx context.Context, userID, addressID string) error {
	delete(r.addresses, addressID)
	return nil
}

type stubCounter struct {
	value int64
}

func (c *stubCounter) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	c.value += step
	return c.value, nil
}

type stubGateway struct {
	lastReq payments.CreateOrderRequest
	order   payments.GatewayOrder
	err     error
	calls   int
}

func (g *stubGateway) CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreateOrderRequest) (payments.GatewayOrder, error) {
	g.calls++
	g.lastReq = req
	if g.err != nil {
		return payments.GatewayOrder{}, g.err
	}
	order := g.order
	order.Amount = req.Amount
	order.Currency = req.Currency
	return order, nil
}

type stubPublisher struct {
	messages []PaymentReconciliationMessage
	err      error
}

func (p *stubPublisher) PublishReconciliation(ctx context.Context, message PaymentReconciliationMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, message)
	return "msg-1", nil
}

type stubClearer struct {
	cleared []ShopperRef
}

func (c *stubClearer) ClearCart(ctx context.Context, ref ShopperRef) error {
	c.cleared = append(c.cleared, ref)
	return nil
}

type orderFixture struct {
	svc       OrderService
	orders    *stubOrderRepo
	addresses *stubAddressRepo
	catalog   *stubCatalog
	gateway   *stubGateway
	publisher *stubPublisher
	clearer   *stubClearer
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders:    newStubOrderRepo(),
		addresses: newStubAddressRepo(),
		catalog:   newStubCatalog(),
		gateway:   &stubGateway{order: payments.GatewayOrder{ID: "order_rzp_1", Provider: "razorpay", KeyID: "rzp_key"}},
		publisher: &stubPublisher{},
		clearer:   &stubClearer{},
	}
	f.catalog.addProduct(shirtProduct())
	f.addresses.addresses["addr-1"] = domain.Address{
		ID: "addr-1", UserID: "user-1", Name: "A Shopper", Phone: "99999", Line1: "1 Lane", City: "Pune", PostalCode: "411001", Country: "IN",
	}

	counter := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:          f.orders,
		Addresses:       f.addresses,
		Catalog:         f.catalog,
		Counters:        &stubCounter{},
		Carts:           f.clearer,
		Gateway:         f.gateway,
		Reconciliation:  f.publisher,
		Retry:           RetryPolicy{MaxAttempts: 1},
		Clock:           func() time.Time { return orderNow },
		Currency:        "INR",
		ShippingRule:    domain.ShippingRule{FreeThreshold: 1000, FlatFee: 49},
		NumberCounterID: "orderNumbers",
		IDGenerator: func() string {
			counter++
			return []string{"A1", "A2", "A3", "A4", "A5", "A6"}[counter-1]
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func codCommand() PlaceOrderCommand {
	return PlaceOrderCommand{
		Shopper:           ShopperRef{UserID: "user-1"},
		Items:             []OrderLineInput{{VariantID: "var-m", Quantity: 2, ClaimedUnitPrice: 1}},
		ShippingAddressID: "addr-1",
		PaymentMethod:     domain.PaymentMethodCOD,
	}
}

func TestPlaceOrderRepricesFromCatalog(t *testing.T) {
	f := newOrderFixture(t)

	result, err := f.svc.PlaceOrder(context.Background(), codCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	order := result.Order
	// 1000 at 10% off, twice. The claimed unit price of 1 is discarded.
	if order.Subtotal != 1800 {
		t.Fatalf("expected subtotal 1800, got %d", order.Subtotal)
	}
	if order.DiscountAmount != 200 {
		t.Fatalf("expected discount 200, got %d", order.DiscountAmount)
	}
	if order.ShippingCost != 0 {
		t.Fatalf("expected free shipping over threshold, got %d", order.ShippingCost)
	}
	if order.TotalAmount != 1800 {
		t.Fatalf("expected total 1800, got %d", order.TotalAmount)
	}
	if order.Items[0].PriceAtPurchase != 1000 || order.Items[0].LineTotal != 1800 {
		t.Fatalf("unexpected item snapshot %#v", order.Items[0])
	}
	if result.Gateway != nil {
		t.Fatal("cod order must not open a gateway order")
	}
	if f.gateway.calls != 0 {
		t.Fatal("gateway must not be called for cod")
	}
	if len(f.clearer.cleared) != 1 {
		t.Fatal("expected cart cleared after placement")
	}
	if order.ShippingAddress.City != "Pune" {
		t.Fatalf("expected saved address embedded, got %#v", order.ShippingAddress)
	}
}

func TestPlaceOrderAppliesFlatFeeBelowThreshold(t *testing.T) {
	f := newOrderFixture(t)

	cmd := codCommand()
	cmd.Items = []OrderLineInput{{VariantID: "var-m", Quantity: 1}}
	claimed := int64(0)
	cmd.ClaimedShipping = &claimed

	result, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	// 900 subtotal is below the free threshold.
	if result.Order.ShippingCost != 49 {
		t.Fatalf("expected flat fee 49, got %d", result.Order.ShippingCost)
	}
	if result.Order.TotalAmount != 949 {
		t.Fatalf("expected total 949, got %d", result.Order.TotalAmount)
	}
}

func TestPlaceOrderPrepaidOpensGatewayOrder(t *testing.T) {
	f := newOrderFixture(t)

	cmd := codCommand()
	cmd.PaymentMethod = domain.PaymentMethodPrepaid
	cmd.PaymentProvider = "razorpay"

	result, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Gateway == nil || result.Gateway.ID != "order_rzp_1" {
		t.Fatalf("expected gateway order in result, got %#v", result.Gateway)
	}
	if f.gateway.lastReq.Amount != 1800 {
		t.Fatalf("expected gateway amount 1800, got %d", f.gateway.lastReq.Amount)
	}
	if result.Order.GatewayOrderID != "order_rzp_1" || result.Order.PaymentProvider != "razorpay" {
		t.Fatalf("expected gateway linkage on order, got %#v", result.Order)
	}
	// Prepaid orders ship free regardless of subtotal.
	if result.Order.ShippingCost != 0 {
		t.Fatalf("expected free shipping for prepaid, got %d", result.Order.ShippingCost)
	}
}

func TestPlaceOrderRejectsInsufficientStock(t *testing.T) {
	f := newOrderFixture(t)

	cmd := codCommand()
	cmd.Items = []OrderLineInput{{VariantID: "var-l", Quantity: 5}}

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderOutOfStock) {
		t.Fatalf("expected ErrOrderOutOfStock, got %v", err)
	}
	var oos *OutOfStockError
	if !errors.As(err, &oos) || oos.VariantID != "var-l" || oos.Available != 2 {
		t.Fatalf("expected typed out-of-stock error, got %v", err)
	}
	if len(f.orders.committed) != 0 {
		t.Fatal("nothing must commit on stock failure")
	}
}

func TestPlaceOrderGatewayFailureCommitsNothing(t *testing.T) {
	f := newOrderFixture(t)
	f.gateway.err = &payments.ProviderError{Provider: "razorpay", Message: "boom"}

	cmd := codCommand()
	cmd.PaymentMethod = domain.PaymentMethodPrepaid

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderPaymentProvider) {
		t.Fatalf("expected ErrOrderPaymentProvider, got %v", err)
	}
	if len(f.orders.committed) != 0 {
		t.Fatal("nothing must commit after gateway failure")
	}
	if len(f.publisher.messages) != 0 {
		t.Fatal("no reconciliation needed before a gateway order exists")
	}
}

func TestPlaceOrderCommitFailurePublishesReconciliation(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.commitErr = &stubRepoError{}

	cmd := codCommand()
	cmd.PaymentMethod = domain.PaymentMethodPrepaid

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderCommitFailed) {
		t.Fatalf("expected ErrOrderCommitFailed, got %v", err)
	}
	var commitErr *CommitError
	if !errors.As(err, &commitErr) || commitErr.GatewayOrderID != "order_rzp_1" {
		t.Fatalf("expected CommitError with gateway order id, got %v", err)
	}

	if len(f.publisher.messages) != 1 {
		t.Fatalf("expected one reconciliation message, got %d", len(f.publisher.messages))
	}
	msg := f.publisher.messages[0]
	if msg.GatewayOrderID != "order_rzp_1" || msg.Provider != "razorpay" || msg.Reason != "commit_failed" {
		t.Fatalf("unexpected reconciliation message %#v", msg)
	}
	if msg.Amount != 1800 {
		t.Fatalf("expected amount 1800 in message, got %d", msg.Amount)
	}
	if len(f.clearer.cleared) != 0 {
		t.Fatal("cart must survive a failed placement")
	}
}

func TestPlaceOrderGuestCheckoutEmbedsContact(t *testing.T) {
	f := newOrderFixture(t)

	cmd := PlaceOrderCommand{
		Shopper:       ShopperRef{DeviceID: "device-1"},
		Items:         []OrderLineInput{{VariantID: "var-m", Quantity: 1}},
		PaymentMethod: domain.PaymentMethodCOD,
		Guest: &GuestCheckoutInfo{
			Name:  "Guest Shopper",
			Phone: "88888",
			Address: domain.Address{
				Line1: "2 Lane", City: "Pune", PostalCode: "411002", Country: "IN",
			},
		},
	}

	result, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	order := result.Order
	if order.GuestContact == nil || order.GuestContact.Name != "Guest Shopper" {
		t.Fatalf("expected guest contact embedded, got %#v", order.GuestContact)
	}
	if order.UserID != "" {
		t.Fatalf("guest order must not carry a user id, got %q", order.UserID)
	}
	if order.ShippingAddress.Line1 != "2 Lane" {
		t.Fatalf("expected guest address embedded, got %#v", order.ShippingAddress)
	}
	if len(f.orders.committed) != 1 || f.orders.committed[0].NewAddress != nil {
		t.Fatal("guest checkout must not insert an address document")
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cases := map[string]PlaceOrderCommand{
		"no items": {
			Shopper:           ShopperRef{UserID: "user-1"},
			ShippingAddressID: "addr-1",
			PaymentMethod:     domain.PaymentMethodCOD,
		},
		"zero quantity": {
			Shopper:           ShopperRef{UserID: "user-1"},
			Items:             []OrderLineInput{{VariantID: "var-m", Quantity: 0}},
			ShippingAddressID: "addr-1",
			PaymentMethod:     domain.PaymentMethodCOD,
		},
		"no address": {
			Shopper:       ShopperRef{UserID: "user-1"},
			Items:         []OrderLineInput{{VariantID: "var-m", Quantity: 1}},
			PaymentMethod: domain.PaymentMethodCOD,
		},
		"bad method": {
			Shopper:           ShopperRef{UserID: "user-1"},
			Items:             []OrderLineInput{{VariantID: "var-m", Quantity: 1}},
			ShippingAddressID: "addr-1",
			PaymentMethod:     domain.PaymentMethod("wire"),
		},
	}
	for name, cmd := range cases {
		if _, err := f.svc.PlaceOrder(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected ErrOrderInvalidInput, got %v", name, err)
		}
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	f := newOrderFixture(t)

	result, err := f.svc.PlaceOrder(context.Background(), codCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if _, err := f.svc.GetOrder(context.Background(), ShopperRef{UserID: "user-1"}, result.Order.ID); err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), ShopperRef{UserID: "user-2"}, result.Order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for other user, got %v", err)
	}
}

func TestListOrdersPassesCursorThrough(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.nextToken = "tok-next"

	token := pagination.EncodeTimeToken(orderNow, "ord-prev")
	page, err := f.svc.ListOrders(context.Background(), ShopperRef{UserID: "user-1"}, domain.Pagination{
		PageSize:  5,
		PageToken: token,
	})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if page.NextPageToken != "tok-next" {
		t.Fatalf("next token = %q, want tok-next", page.NextPageToken)
	}
	if f.orders.lastPager.PageSize != 5 || f.orders.lastPager.PageToken != token {
		t.Fatalf("unexpected pager %+v", f.orders.lastPager)
	}
}

func TestListOrdersClampsPageSizeAndRejectsBadToken(t *testing.T) {
	f := newOrderFixture(t)

	if _, err := f.svc.ListOrders(context.Background(), ShopperRef{UserID: "user-1"}, domain.Pagination{PageSize: 500}); err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if f.orders.lastPager.PageSize != pagination.DefaultPageSize {
		t.Fatalf("page size = %d, want %d", f.orders.lastPager.PageSize, pagination.DefaultPageSize)
	}

	_, err := f.svc.ListOrders(context.Background(), ShopperRef{UserID: "user-1"}, domain.Pagination{
		PageSize:  5,
		PageToken: "not-a-token!!",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for bad token, got %v", err)
	}

	if _, err := f.svc.ListOrders(context.Background(), ShopperRef{DeviceID: "device-1"}, domain.Pagination{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for guest, got %v", err)
	}
}
