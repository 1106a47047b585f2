package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/repositories"
)

var (
	errCartServerRepoRequired = errors.New("cart service: server cart repository is required")
	errCartGuestRepoRequired  = errors.New("cart service: guest cart repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due
// to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartItemNotFound indicates the referenced line item does not exist.
var ErrCartItemNotFound = errors.New("cart service: item not found")

// ErrCartOutOfStock indicates the requested variant has no stock left.
var ErrCartOutOfStock = errors.New("cart service: out of stock")

// ErrVariantNotFound indicates the referenced product or variant does not exist.
var ErrVariantNotFound = errors.New("cart service: variant not found")

// AddItemCommand adds quantity of a variant to the cart. An existing line for
// the same (product, variant) pair absorbs the quantity instead of producing
// a duplicate line.
type AddItemCommand struct {
	ProductID string
	VariantID string
	Quantity  int64
}

// SetQuantityCommand replaces a line's quantity.
type SetQuantityCommand struct {
	ItemID   string
	Quantity int64
}

// SwitchVariantCommand moves a line to another variant of the same product.
type SwitchVariantCommand struct {
	ItemID       string
	NewVariantID string
}

// RemovedItem is handed back on removal so the caller can offer an undo that
// restores the full line without refetching the catalog.
type RemovedItem struct {
	Item domain.CartItem
}

// CartService exposes all cart mutations and reads for one shopper at a time.
type CartService interface {
	GetCart(ctx context.Context, ref ShopperRef) (CartView, error)
	AddItem(ctx context.Context, ref ShopperRef, cmd AddItemCommand) (CartView, error)
	SetQuantity(ctx context.Context, ref ShopperRef, cmd SetQuantityCommand) (CartView, error)
	RemoveItem(ctx context.Context, ref ShopperRef, itemID string) (CartView, RemovedItem, error)
	RestoreItem(ctx context.Context, ref ShopperRef, item domain.CartItem) (CartView, error)
	SwitchVariant(ctx context.Context, ref ShopperRef, cmd SwitchVariantCommand) (CartView, error)
	ClearCart(ctx context.Context, ref ShopperRef) error
}

// CartServiceDeps wires the repositories and policies for cart operations.
type CartServiceDeps struct {
	// ServerCarts backs authenticated users, GuestCarts anonymous devices.
	ServerCarts  repositories.CartRepository
	GuestCarts   repositories.CartRepository
	Catalog      repositories.CatalogRepository
	Clock        func() time.Time
	Currency     string
	ShippingRule domain.ShippingRule
	Logger       func(context.Context, string, map[string]any)
	IDGenerator  func() string
}

type cartService struct {
	serverCarts repositories.CartRepository
	guestCarts  repositories.CartRepository
	catalog     repositories.CatalogRepository
	newID       func() string
	now         func() time.Time
	currency    string
	shipping    domain.ShippingRule
	logger      func(context.Context, string, map[string]any)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.ServerCarts == nil {
		return nil, errCartServerRepoRequired
	}
	if deps.GuestCarts == nil {
		return nil, errCartGuestRepoRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		serverCarts: deps.ServerCarts,
		guestCarts:  deps.GuestCarts,
		catalog:     deps.Catalog,
		newID:       idGen,
		now:         func() time.Time { return deps.Clock().UTC() },
		currency:    currency,
		shipping:    deps.ShippingRule,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// GetCart loads the cart and refreshes every line against the live catalog.
// Stock drops since the last visit surface as notices, never as errors.
func (s *cartService) GetCart(ctx context.Context, ref ShopperRef) (CartView, error) {
	if s == nil {
		return CartView{}, ErrCartUnavailable
	}
	if !ref.Valid() {
		return CartView{}, ErrCartInvalidInput
	}

	unlock := s.lockCart(ref)
	defer unlock()

	repo := s.repoFor(ref)
	cart, err := repo.Get(ctx, ref.OwnerID())
	if err != nil {
		if isRepoNotFound(err) {
			cart = s.newCart(ref)
		} else {
			return CartView{}, s.translateRepoError(err)
		}
	}

	notices, changed, err := s.refreshStocks(ctx, &cart)
	if err != nil {
		// Catalog outage degrades to the stored snapshot.
		s.logger(ctx, "cart.refresh_skipped", map[string]any{
			"owner": ref.OwnerID(),
			"error": err.Error(),
		})
		return s.view(cart, nil), nil
	}
	if changed {
		cart.UpdatedAt = s.now()
		if saved, err := repo.Save(ctx, cart); err == nil {
			cart = saved
		} else {
			s.logger(ctx, "cart.refresh_save_failed", map[string]any{
				"owner": ref.OwnerID(),
				"error": err.Error(),
			})
		}
	}
	return s.view(cart, notices), nil
}

// AddItem merges quantity into an existing line for the same variant or
// appends a new line, clamped to the variant's available stock.
func (s *cartService) AddItem(ctx context.Context, ref ShopperRef, cmd AddItemCommand) (CartView, error) {
	if cmd.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	variantID := strings.TrimSpace(cmd.VariantID)
	if productID == "" || variantID == "" {
		return CartView{}, fmt.Errorf("%w: product and variant are required", ErrCartInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, ErrVariantNotFound
		}
		return CartView{}, s.translateRepoError(err)
	}
	variant, ok := product.Variant(variantID)
	if !ok || !variant.Active || !product.Active {
		return CartView{}, ErrVariantNotFound
	}
	if variant.Stock <= 0 {
		return CartView{}, ErrCartOutOfStock
	}

	return s.runMutation(ctx, ref, "cart.add_item", func(cart *domain.Cart) ([]domain.CartNotice, error) {
		now := s.now()
		var notices []domain.CartNotice

		if idx := cart.FindLine(product.ID, variant.ID); idx >= 0 {
			line := &cart.Items[idx]
			requested := line.Quantity + cmd.Quantity
			line.UnitPrice = variant.Price
			line.DiscountPercent = domain.ClampDiscount(variant.DiscountPercent)
			line.MaxStock = variant.Stock
			line.VariantStocks = variantStocks(product)
			line.UpdatedAt = now
			if requested > variant.Stock {
				notices = append(notices, clampNotice(line.ID, variant.Stock))
				requested = variant.Stock
			}
			line.Quantity = requested
			return notices, nil
		}

		quantity := cmd.Quantity
		if quantity > variant.Stock {
			quantity = variant.Stock
		}
		item := domain.CartItem{
			ID:              s.newID(),
			ProductID:       product.ID,
			VariantID:       variant.ID,
			Name:            product.Name,
			ImageURL:        product.ImageURL,
			UnitPrice:       variant.Price,
			DiscountPercent: domain.ClampDiscount(variant.DiscountPercent),
			Quantity:        quantity,
			MaxStock:        variant.Stock,
			VariantStocks:   variantStocks(product),
			AddedAt:         now,
			UpdatedAt:       now,
		}
		if quantity < cmd.Quantity {
			notices = append(notices, clampNotice(item.ID, variant.Stock))
		}
		cart.Items = append(cart.Items, item)
		return notices, nil
	})
}

// SetQuantity replaces a line's quantity. Quantities below one are rejected;
// removal is an explicit separate operation.
func (s *cartService) SetQuantity(ctx context.Context, ref ShopperRef, cmd SetQuantityCommand) (CartView, error) {
	if cmd.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return CartView{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}

	return s.runMutation(ctx, ref, "cart.set_quantity", func(cart *domain.Cart) ([]domain.CartNotice, error) {
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return nil, ErrCartItemNotFound
		}
		line := &cart.Items[idx]

		available := line.MaxStock
		if variant, err := s.catalog.GetVariant(ctx, line.VariantID); err == nil {
			available = variant.Stock
			line.MaxStock = variant.Stock
		}
		if available <= 0 {
			return nil, ErrCartOutOfStock
		}

		var notices []domain.CartNotice
		quantity := cmd.Quantity
		if quantity > available {
			notices = append(notices, clampNotice(line.ID, available))
			quantity = available
		}
		line.Quantity = quantity
		line.UpdatedAt = s.now()
		return notices, nil
	})
}

// RemoveItem deletes a line and returns its full snapshot for undo.
func (s *cartService) RemoveItem(ctx context.Context, ref ShopperRef, itemID string) (CartView, RemovedItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return CartView{}, RemovedItem{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}

	var removed RemovedItem
	view, err := s.runMutation(ctx, ref, "cart.remove_item", func(cart *domain.Cart) ([]domain.CartNotice, error) {
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return nil, ErrCartItemNotFound
		}
		removed.Item = cart.Items[idx]
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return nil, nil
	})
	if err != nil {
		return view, RemovedItem{}, err
	}
	return view, removed, nil
}

// RestoreItem re-adds a previously removed line, re-validating against the
// live catalog. The restored quantity is clamped to current stock.
func (s *cartService) RestoreItem(ctx context.Context, ref ShopperRef, item domain.CartItem) (CartView, error) {
	if strings.TrimSpace(item.ProductID) == "" || strings.TrimSpace(item.VariantID) == "" || item.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: incomplete item snapshot", ErrCartInvalidInput)
	}

	variant, err := s.catalog.GetVariant(ctx, item.VariantID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, ErrVariantNotFound
		}
		return CartView{}, s.translateRepoError(err)
	}
	if !variant.Active || variant.Stock <= 0 {
		return CartView{}, ErrCartOutOfStock
	}

	return s.runMutation(ctx, ref, "cart.restore_item", func(cart *domain.Cart) ([]domain.CartNotice, error) {
		now := s.now()
		var notices []domain.CartNotice

		if idx := cart.FindLine(item.ProductID, item.VariantID); idx >= 0 {
			line := &cart.Items[idx]
			requested := line.Quantity + item.Quantity
			if requested > variant.Stock {
				notices = append(notices, clampNotice(line.ID, variant.Stock))
				requested = variant.Stock
			}
			line.Quantity = requested
			line.UpdatedAt = now
			return notices, nil
		}

		restored := item
		if restored.ID == "" {
			restored.ID = s.newID()
		}
		restored.UnitPrice = variant.Price
		restored.DiscountPercent = domain.ClampDiscount(variant.DiscountPercent)
		restored.MaxStock = variant.Stock
		restored.UpdatedAt = now
		if restored.Quantity > variant.Stock {
			notices = append(notices, clampNotice(restored.ID, variant.Stock))
			restored.Quantity = variant.Stock
		}
		cart.Items = append(cart.Items, restored)
		return notices, nil
	})
}

// SwitchVariant moves a line to another variant of the same product, merging
// into an existing line for that variant when one exists. Both shapes apply
// atomically within one write.
func (s *cartService) SwitchVariant(ctx context.Context, ref ShopperRef, cmd SwitchVariantCommand) (CartView, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	variantID := strings.TrimSpace(cmd.NewVariantID)
	if itemID == "" || variantID == "" {
		return CartView{}, fmt.Errorf("%w: item id and variant id are required", ErrCartInvalidInput)
	}

	target, err := s.catalog.GetVariant(ctx, variantID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, ErrVariantNotFound
		}
		return CartView{}, s.translateRepoError(err)
	}

	return s.runMutation(ctx, ref, "cart.switch_variant", func(cart *domain.Cart) ([]domain.CartNotice, error) {
		result, err := ResolveVariantSwitch(cart.Items, itemID, target, s.now())
		if err != nil {
			return nil, err
		}
		cart.Items = result.Items
		return result.Notices, nil
	})
}

// ClearCart drops every line.
func (s *cartService) ClearCart(ctx context.Context, ref ShopperRef) error {
	if s == nil {
		return ErrCartUnavailable
	}
	if !ref.Valid() {
		return ErrCartInvalidInput
	}

	unlock := s.lockCart(ref)
	defer unlock()

	if err := s.repoFor(ref).Delete(ctx, ref.OwnerID()); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// runMutation serialises writes per cart and applies the snapshot protocol:
// the mutation runs against a copy of the loaded cart, and any failure to
// apply or persist leaves the stored cart untouched while the snapshot is
// returned to the caller. Retrying the same mutation is therefore safe.
func (s *cartService) runMutation(ctx context.Context, ref ShopperRef, name string, apply func(cart *domain.Cart) ([]domain.CartNotice, error)) (CartView, error) {
	if s == nil {
		return CartView{}, ErrCartUnavailable
	}
	if !ref.Valid() {
		return CartView{}, ErrCartInvalidInput
	}

	unlock := s.lockCart(ref)
	defer unlock()

	repo := s.repoFor(ref)
	cart, err := repo.Get(ctx, ref.OwnerID())
	if err != nil {
		if isRepoNotFound(err) {
			cart = s.newCart(ref)
		} else {
			return CartView{}, s.translateRepoError(err)
		}
	}

	snapshot := cloneCart(cart)
	working := cloneCart(cart)

	notices, err := apply(&working)
	if err != nil {
		return s.view(snapshot, nil), err
	}

	working.UpdatedAt = s.now()
	saved, err := repo.Save(ctx, working)
	if err != nil {
		s.logger(ctx, name+"_rollback", map[string]any{
			"owner": ref.OwnerID(),
			"error": err.Error(),
		})
		rollbackNotices := []domain.CartNotice{{
			Code:    domain.NoticeActionFailed,
			Message: "the change could not be saved",
		}}
		return s.view(snapshot, rollbackNotices), s.translateRepoError(err)
	}

	s.logger(ctx, name, map[string]any{
		"owner": ref.OwnerID(),
		"items": len(saved.Items),
	})
	return s.view(saved, notices), nil
}

func (s *cartService) repoFor(ref ShopperRef) repositories.CartRepository {
	if ref.Authenticated() {
		return s.serverCarts
	}
	return s.guestCarts
}

func (s *cartService) lockCart(ref ShopperRef) func() {
	key := ref.OwnerID()
	if ref.Authenticated() {
		key = "u:" + key
	} else {
		key = "d:" + key
	}

	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *cartService) newCart(ref ShopperRef) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        ref.OwnerID(),
		OwnerID:   ref.OwnerID(),
		Currency:  s.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// refreshStocks re-reads every referenced variant and updates the stored
// stock snapshots. Lines whose variant disappeared or sold out stay in the
// cart with a notice so the shopper decides what to do.
func (s *cartService) refreshStocks(ctx context.Context, cart *domain.Cart) ([]domain.CartNotice, bool, error) {
	if len(cart.Items) == 0 {
		return nil, false, nil
	}

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.VariantID)
	}
	variants, err := s.catalog.GetVariants(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	var notices []domain.CartNotice
	changed := false
	for i := range cart.Items {
		line := &cart.Items[i]
		variant, ok := variants[line.VariantID]
		if !ok || !variant.Active || variant.Stock <= 0 {
			if line.MaxStock != 0 {
				line.MaxStock = 0
				changed = true
			}
			notices = append(notices, domain.CartNotice{
				Code:    domain.NoticeOutOfStock,
				ItemID:  line.ID,
				Message: "this item is currently unavailable",
			})
			continue
		}
		if line.MaxStock != variant.Stock || line.UnitPrice != variant.Price {
			line.MaxStock = variant.Stock
			line.UnitPrice = variant.Price
			line.DiscountPercent = domain.ClampDiscount(variant.DiscountPercent)
			changed = true
		}
		if line.Quantity > variant.Stock {
			notices = append(notices, clampNotice(line.ID, variant.Stock))
			line.Quantity = variant.Stock
			changed = true
		} else if variant.LowStock() {
			notices = append(notices, domain.CartNotice{
				Code:      domain.NoticeLowStock,
				ItemID:    line.ID,
				Message:   fmt.Sprintf("only %d left", variant.Stock),
				Available: variant.Stock,
			})
		}
	}
	return notices, changed, nil
}

func (s *cartService) view(cart domain.Cart, notices []domain.CartNotice) CartView {
	method := domain.PaymentMethodCOD
	return CartView{
		Cart:    cart,
		Pricing: domain.PriceCart(cart.Items, cart.Currency, method, s.shipping),
		Notices: notices,
	}
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartItemNotFound
		case repoErr.IsConflict(), repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}

func clampNotice(itemID string, available int64) domain.CartNotice {
	return domain.CartNotice{
		Code:      domain.NoticeQuantityClamped,
		ItemID:    itemID,
		Message:   fmt.Sprintf("only %d left in stock", available),
		Available: available,
	}
}

func variantStocks(product domain.Product) map[string]int64 {
	stocks := make(map[string]int64, len(product.Variants))
	for _, v := range product.Variants {
		if v.Active {
			stocks[v.ID] = v.Stock
		}
	}
	return stocks
}
