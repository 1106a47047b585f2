package services

import (
	"fmt"
	"time"

	"github.com/orchardlane/storefront/internal/domain"
)

// VariantSwitchResult carries the outcome of resolving a variant switch
// against the current cart lines.
type VariantSwitchResult struct {
	Items   []domain.CartItem
	Notices []domain.CartNotice
	// Merged reports that the switched line collapsed into an existing line
	// for the target variant.
	Merged bool
}

// ResolveVariantSwitch rewrites the cart lines for a switch of itemID to the
// target variant. Two shapes exist:
//
// Simple switch: no other line holds the target variant. The line keeps its
// identity and quantity, adopts the target's id, price, and discount, and the
// quantity is clamped to the target's stock.
//
// Merge: another line already holds the target variant. The quantities are
// summed onto that line, clamped to the target's stock, and the source line
// is removed. The total quantity is conserved unless clamping applies.
//
// The input slice is never modified; the returned slice is a fresh copy.
func ResolveVariantSwitch(items []domain.CartItem, itemID string, target domain.ProductVariant, now time.Time) (VariantSwitchResult, error) {
	lines := cloneCartItems(items)

	source := -1
	for i, item := range lines {
		if item.ID == itemID {
			source = i
			break
		}
	}
	if source == -1 {
		return VariantSwitchResult{}, ErrCartItemNotFound
	}
	if lines[source].ProductID != target.ProductID {
		return VariantSwitchResult{}, fmt.Errorf("%w: variant belongs to a different product", ErrCartInvalidInput)
	}
	if !target.Active || target.Stock <= 0 {
		return VariantSwitchResult{}, ErrCartOutOfStock
	}

	if lines[source].VariantID == target.ID {
		return VariantSwitchResult{Items: lines}, nil
	}

	dest := -1
	for i, item := range lines {
		if i != source && item.ProductID == target.ProductID && item.VariantID == target.ID {
			dest = i
			break
		}
	}

	var result VariantSwitchResult
	if dest == -1 {
		line := &lines[source]
		line.VariantID = target.ID
		line.UnitPrice = target.Price
		line.DiscountPercent = domain.ClampDiscount(target.DiscountPercent)
		line.MaxStock = target.Stock
		line.UpdatedAt = now
		if line.Quantity > target.Stock {
			result.Notices = append(result.Notices, domain.CartNotice{
				Code:      domain.NoticeQuantityClamped,
				ItemID:    line.ID,
				Message:   fmt.Sprintf("only %d left in stock", target.Stock),
				Available: target.Stock,
			})
			line.Quantity = target.Stock
		}
		result.Items = lines
		return result, nil
	}

	merged := lines[dest].Quantity + lines[source].Quantity
	line := &lines[dest]
	line.UnitPrice = target.Price
	line.DiscountPercent = domain.ClampDiscount(target.DiscountPercent)
	line.MaxStock = target.Stock
	line.UpdatedAt = now
	line.Quantity = merged

	result.Merged = true
	result.Notices = append(result.Notices, domain.CartNotice{
		Code:    domain.NoticeItemMerged,
		ItemID:  line.ID,
		Message: "items combined into one line",
	})
	if merged > target.Stock {
		result.Notices = append(result.Notices, domain.CartNotice{
			Code:      domain.NoticeQuantityClamped,
			ItemID:    line.ID,
			Message:   fmt.Sprintf("only %d left in stock", target.Stock),
			Available: target.Stock,
		})
		line.Quantity = target.Stock
	}

	result.Items = append(lines[:source], lines[source+1:]...)
	return result, nil
}
