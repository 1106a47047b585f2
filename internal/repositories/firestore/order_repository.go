package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/orchardlane/storefront/internal/domain"
	pfirestore "github.com/orchardlane/storefront/internal/platform/firestore"
	"github.com/orchardlane/storefront/internal/platform/pagination"
	"github.com/orchardlane/storefront/internal/repositories"
)

const orderCollection = "orders"

type orderItemDocument struct {
	ID              string  `firestore:"id"`
	ProductID       string  `firestore:"productId"`
	VariantID       string  `firestore:"variantId"`
	Name            string  `firestore:"name"`
	VariantKey      string  `firestore:"variantKey,omitempty"`
	PriceAtPurchase int64   `firestore:"priceAtPurchase"`
	DiscountPercent float64 `firestore:"discountPercent"`
	Quantity        int64   `firestore:"quantity"`
	LineTotal       int64   `firestore:"lineTotal"`
}

type orderAddressDocument struct {
	ID         string `firestore:"id,omitempty"`
	Name       string `firestore:"name"`
	Phone      string `firestore:"phone,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type guestContactDocument struct {
	Name    string               `firestore:"name"`
	Email   string               `firestore:"email,omitempty"`
	Phone   string               `firestore:"phone,omitempty"`
	Address orderAddressDocument `firestore:"address"`
}

type orderDocument struct {
	Number          string                `firestore:"number"`
	UserID          string                `firestore:"userId,omitempty"`
	Status          string                `firestore:"status"`
	PaymentStatus   string                `firestore:"paymentStatus"`
	PaymentMethod   string                `firestore:"paymentMethod"`
	PaymentProvider string                `firestore:"paymentProvider,omitempty"`
	GatewayOrderID  string                `firestore:"gatewayOrderId,omitempty"`
	Currency        string                `firestore:"currency"`
	Subtotal        int64                 `firestore:"subtotal"`
	DiscountAmount  int64                 `firestore:"discountAmount"`
	ShippingCost    int64                 `firestore:"shippingCost"`
	TotalAmount     int64                 `firestore:"totalAmount"`
	Items           []orderItemDocument   `firestore:"items"`
	ShippingAddress orderAddressDocument  `firestore:"shippingAddress"`
	GuestContact    *guestContactDocument `firestore:"guestContact,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
}

// OrderRepository persists orders and performs the atomic commit that couples
// order creation with stock decrements.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	txOpts   []pfirestore.TxOption
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) *OrderRepository {
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil),
		txOpts:   txOpts,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Commit writes the order and decrements stock for every line in a single
// transaction. Reads happen before writes, per Firestore transaction rules:
// every variant document is loaded and checked first, then the decrements,
// the order document, and any new address are written together. A shortfall
// on any line aborts the transaction with a StockError and no document is
// touched.
func (r *OrderRepository) Commit(ctx context.Context, req repositories.OrderCommitRequest) (domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	order := req.Order
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type decrement struct {
			ref       *firestore.DocumentRef
			remaining int64
		}
		decrements := make([]decrement, 0, len(order.Items))

		for _, item := range order.Items {
			ref := client.Collection(variantCollection).Doc(item.VariantID)
			snap, err := tx.Get(ref)
			if err != nil {
				if wrapped := pfirestore.WrapError("orders.commit", err); repositories.IsNotFound(wrapped) {
					return repositories.NewStockError(repositories.StockErrorVariantNotFound, item.VariantID,
						fmt.Sprintf("variant %s no longer exists", item.VariantID), err)
				}
				return pfirestore.WrapError("orders.commit", err)
			}

			var doc variantDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("orders.commit: decode variant %s: %w", item.VariantID, err)
			}
			if !doc.Active {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, item.VariantID,
					fmt.Sprintf("variant %s is no longer available", item.VariantID), nil)
			}
			if doc.Stock < item.Quantity {
				stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, item.VariantID,
					fmt.Sprintf("variant %s has %d in stock, %d requested", item.VariantID, doc.Stock, item.Quantity), nil)
				stockErr.Available = doc.Stock
				return stockErr
			}
			decrements = append(decrements, decrement{ref: ref, remaining: doc.Stock - item.Quantity})
		}

		for _, dec := range decrements {
			if err := tx.Update(dec.ref, []firestore.Update{
				{Path: "stock", Value: dec.remaining},
			}); err != nil {
				return pfirestore.WrapError("orders.commit", err)
			}
		}

		if req.NewAddress != nil {
			addrRef := client.Collection(addressCollection).Doc(req.NewAddress.ID)
			if err := tx.Create(addrRef, addressToDocument(*req.NewAddress, now)); err != nil {
				return pfirestore.WrapError("orders.commit", err)
			}
		}

		orderRef := client.Collection(orderCollection).Doc(order.ID)
		if err := tx.Create(orderRef, orderToDocument(order)); err != nil {
			return pfirestore.WrapError("orders.commit", err)
		}
		return nil
	}, r.txOpts...)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Get fetches an order by id.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

// ListByUser returns a page of the user's orders, newest first. The cursor
// token encodes the last document's createdAt and id so pages stay stable
// while new orders arrive.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := pager.PageToken; token != "" {
		ts, docID, err := pagination.DecodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.listByUser: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-2]
		nextToken = pagination.EncodeTimeToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// FindByGatewayOrderID locates the order carrying the given gateway order id.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("gatewayOrderId", "==", gatewayOrderID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFoundError("orders.findByGatewayOrderId",
			fmt.Errorf("no order for gateway order %s", gatewayOrderID))
	}
	return orderFromDocument(docs[0].ID, docs[0].Data), nil
}

func orderToDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
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

	doc := orderDocument{
		Number:          order.Number,
		UserID:          order.UserID,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentProvider: order.PaymentProvider,
		GatewayOrderID:  order.GatewayOrderID,
		Currency:        order.Currency,
		Subtotal:        order.Subtotal,
		DiscountAmount:  order.DiscountAmount,
		ShippingCost:    order.ShippingCost,
		TotalAmount:     order.TotalAmount,
		Items:           items,
		ShippingAddress: shippingAddressToDocument(order.ShippingAddress),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	if order.GuestContact != nil {
		doc.GuestContact = &guestContactDocument{
			Name:    order.GuestContact.Name,
			Email:   order.GuestContact.Email,
			Phone:   order.GuestContact.Phone,
			Address: shippingAddressToDocument(order.GuestContact.Address),
		}
	}
	return doc
}

func orderFromDocument(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
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

	order := domain.Order{
		ID:              id,
		Number:          doc.Number,
		UserID:          doc.UserID,
		Status:          domain.OrderStatus(doc.Status),
		PaymentStatus:   domain.PaymentStatus(doc.PaymentStatus),
		PaymentMethod:   domain.PaymentMethod(doc.PaymentMethod),
		PaymentProvider: doc.PaymentProvider,
		GatewayOrderID:  doc.GatewayOrderID,
		Currency:        doc.Currency,
		Subtotal:        doc.Subtotal,
		DiscountAmount:  doc.DiscountAmount,
		ShippingCost:    doc.ShippingCost,
		TotalAmount:     doc.TotalAmount,
		Items:           items,
		ShippingAddress: shippingAddressFromDocument(doc.ShippingAddress),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if doc.GuestContact != nil {
		order.GuestContact = &domain.GuestContact{
			Name:    doc.GuestContact.Name,
			Email:   doc.GuestContact.Email,
			Phone:   doc.GuestContact.Phone,
			Address: shippingAddressFromDocument(doc.GuestContact.Address),
		}
	}
	return order
}

func shippingAddressToDocument(addr domain.Address) orderAddressDocument {
	return orderAddressDocument{
		ID:         addr.ID,
		Name:       addr.Name,
		Phone:      addr.Phone,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func shippingAddressFromDocument(doc orderAddressDocument) domain.Address {
	return domain.Address{
		ID:         doc.ID,
		Name:       doc.Name,
		Phone:      doc.Phone,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
}
