// Package order assembles final checkout totals and freezes them into an
// order record. A placed order stores the computed effect of every discount
// and coupon, never a reference, so later rule edits cannot rewrite history.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/cart"
)

// PricedLine is a cart line with its display-price quote applied.
type PricedLine struct {
	cart.Line
	// FinalUnitPrice is the discounted unit price from the pricing
	// calculator; equal to UnitPrice when no discount applies.
	FinalUnitPrice decimal.Decimal
	// UnitSavings is UnitPrice - FinalUnitPrice.
	UnitSavings decimal.Decimal
	// DiscountID identifies the winning discount, empty when none.
	DiscountID string
}

// Totals is the assembled money breakdown for an order.
type Totals struct {
	Subtotal             decimal.Decimal
	ProductDiscountTotal decimal.Decimal
	CouponDiscount       decimal.Decimal
	Total                decimal.Decimal
}

// Assemble combines per-line discounted prices with an optional coupon
// discount. The grand total is floored at zero; a coupon can never push an
// order negative.
func Assemble(lines []PricedLine, couponDiscount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	productDiscount := decimal.Zero
	for _, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		subtotal = subtotal.Add(line.UnitPrice.Mul(qty))
		productDiscount = productDiscount.Add(line.UnitSavings.Mul(qty))
	}

	couponDiscount = couponDiscount.Round(2)
	total := subtotal.Sub(productDiscount).Sub(couponDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal:             subtotal.Round(2),
		ProductDiscountTotal: productDiscount.Round(2),
		CouponDiscount:       couponDiscount,
		Total:                total.Round(2),
	}
}

// Order is the frozen record written at checkout time.
type Order struct {
	ID         string
	UserID     string
	Lines      []PricedLine
	CouponCode string
	Totals     Totals
	CreatedAt  time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}
