package discount

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Quote is the display price computed for a single product.
type Quote struct {
	FinalPrice  decimal.Decimal
	HasDiscount bool
	// PercentOff is the effective reduction as a whole percentage, for badges.
	PercentOff int64
	Savings    decimal.Decimal
	// Chosen is the winning discount, nil when none applies.
	Chosen *Discount
}

// Price computes the display price for a product given its applicable
// discounts. Discounts never stack: the single discount with the largest
// saving wins, ties broken by the caller's ordering (first wins). The final
// price is rounded to 2 decimal places and can never drop below zero or rise
// above the unit price.
func Price(unitPrice decimal.Decimal, applicable []Discount) Quote {
	var (
		chosen *Discount
		best   = decimal.Zero
	)
	for i := range applicable {
		saved := savings(&applicable[i], unitPrice)
		if saved.GreaterThan(best) {
			best = saved
			chosen = &applicable[i]
		}
	}

	if chosen == nil || !best.IsPositive() {
		return Quote{FinalPrice: unitPrice.Round(2)}
	}

	best = best.Round(2)
	final := unitPrice.Sub(best).Round(2)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Quote{
		FinalPrice:  final,
		HasDiscount: true,
		PercentOff:  percentOff(best, unitPrice),
		Savings:     best,
		Chosen:      chosen,
	}
}

// savings returns the amount the discount would take off a single unit,
// capped so the price never goes negative and clamped by the discount's
// MaxDiscountAmount when set.
func savings(d *Discount, unitPrice decimal.Decimal) decimal.Decimal {
	var saved decimal.Decimal
	switch d.Type {
	case TypePercentage:
		saved = unitPrice.Mul(d.Value).Div(hundred)
	case TypeFixed:
		saved = decimal.Min(d.Value, unitPrice)
	default:
		return decimal.Zero
	}

	if d.MaxDiscountAmount.IsPositive() && saved.GreaterThan(d.MaxDiscountAmount) {
		saved = d.MaxDiscountAmount
	}
	if saved.IsNegative() {
		return decimal.Zero
	}
	return saved
}

func percentOff(saved, unitPrice decimal.Decimal) int64 {
	if !unitPrice.IsPositive() {
		return 0
	}
	return saved.Mul(hundred).Div(unitPrice).Round(0).IntPart()
}
