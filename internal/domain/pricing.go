package domain

import "math"

// ShippingRule captures the flat-fee shipping policy. Amounts are in the
// smallest currency unit. Prepaid orders always ship free; cash-on-delivery
// orders ship free once the recomputed subtotal reaches FreeThreshold.
type ShippingRule struct {
	FreeThreshold int64
	FlatFee       int64
}

// PricingSummary aggregates the monetary results of pricing a set of line items.
type PricingSummary struct {
	Currency         string
	OriginalSubtotal int64
	Subtotal         int64
	Discount         int64
	Shipping         int64
	Total            int64
	ItemCount        int64
}

// ClampDiscount bounds a discount percentage to [0, 100] so malformed catalog
// data never produces negative prices.
func ClampDiscount(percent float64) float64 {
	if math.IsNaN(percent) || percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// SanitizePrice floors a price at zero.
func SanitizePrice(price int64) int64 {
	if price < 0 {
		return 0
	}
	return price
}

// DiscountedUnitPrice applies the discount percentage to a unit price, rounding
// half up to the smallest currency unit.
func DiscountedUnitPrice(price int64, discountPercent float64) int64 {
	price = SanitizePrice(price)
	percent := ClampDiscount(discountPercent)
	if percent == 0 {
		return price
	}
	discounted := float64(price) * (100 - percent) / 100
	return int64(math.Round(discounted))
}

// LineTotal returns the discounted total for a single line item.
func LineTotal(item CartItem) int64 {
	if item.Quantity <= 0 {
		return 0
	}
	return DiscountedUnitPrice(item.UnitPrice, item.DiscountPercent) * item.Quantity
}

// OriginalSubtotal sums the pre-discount line values, used to display savings.
func OriginalSubtotal(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		total += SanitizePrice(item.UnitPrice) * item.Quantity
	}
	return total
}

// Subtotal sums the discounted line totals across all items.
func Subtotal(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		total += LineTotal(item)
	}
	return total
}

// ShippingFee evaluates the shipping rule against the payment method and the
// server-recomputed subtotal. Client-supplied shipping figures are never used.
func ShippingFee(method PaymentMethod, subtotal int64, rule ShippingRule) int64 {
	if method == PaymentMethodPrepaid {
		return 0
	}
	if rule.FreeThreshold > 0 && subtotal >= rule.FreeThreshold {
		return 0
	}
	return SanitizePrice(rule.FlatFee)
}

// PriceCart computes the full client-facing estimate for a cart. The result is
// display only; order placement always reprices from the catalog.
func PriceCart(items []CartItem, currency string, method PaymentMethod, rule ShippingRule) PricingSummary {
	summary := PricingSummary{Currency: currency}
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		summary.ItemCount += item.Quantity
	}
	summary.OriginalSubtotal = OriginalSubtotal(items)
	summary.Subtotal = Subtotal(items)
	summary.Discount = summary.OriginalSubtotal - summary.Subtotal
	summary.Shipping = ShippingFee(method, summary.Subtotal, rule)
	summary.Total = summary.Subtotal + summary.Shipping
	return summary
}
