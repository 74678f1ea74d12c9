// Package cart holds the immutable cart snapshot passed into the promotions
// engine by checkout and storefront callers.
package cart

import "github.com/shopspring/decimal"

// Line is a single cart entry. The engine never mutates lines; prices and
// quantities are whatever the caller captured at snapshot time.
type Line struct {
	ProductID  string
	CategoryID string
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Snapshot is an ordered sequence of cart lines.
type Snapshot []Line

// Subtotal returns the sum of unit price times quantity across all lines.
func (s Snapshot) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range s {
		sum = sum.Add(line.Total())
	}
	return sum
}

// Total returns the line's unit price multiplied by its quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// TotalQuantity returns the sum of quantities across all lines.
func (s Snapshot) TotalQuantity() int {
	total := 0
	for _, line := range s {
		total += line.Quantity
	}
	return total
}
