// Package discount implements catalog discount rules: which discounts are
// active, which products they target, and how they change a displayed price.
package discount

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount value strategies.
type Type string

const (
	// TypePercentage reduces the price by a percentage of the unit price.
	TypePercentage Type = "percentage"
	// TypeFixed reduces the price by a fixed amount, capped at the unit price.
	TypeFixed Type = "fixed"
)

// TargetType enumerates the scopes a discount can apply to.
type TargetType string

const (
	// TargetAll applies the discount to every product in the catalog.
	TargetAll TargetType = "all"
	// TargetCategory applies the discount to products in the listed categories.
	TargetCategory TargetType = "category"
	// TargetProduct applies the discount to the listed products only.
	TargetProduct TargetType = "product"
)

// ErrNotFound is returned when a requested discount does not exist.
var ErrNotFound = errors.New("discount not found")

// Discount is a catalog price reduction rule. Value is a percentage in (0,100]
// for TypePercentage and a positive monetary amount for TypeFixed.
// MinOrderAmount and MaxDiscountAmount are unset when zero; UsageLimit zero
// means unlimited.
type Discount struct {
	ID          string
	Name        string
	Description string

	Type   Type
	Value  decimal.Decimal
	Target TargetType
	// CategoryIDs and ProductIDs hold the target sets for TargetCategory and
	// TargetProduct respectively; ignored for TargetAll.
	CategoryIDs []string
	ProductIDs  []string

	StartsAt time.Time
	EndsAt   time.Time
	Active   bool

	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount decimal.Decimal

	UsageLimit int
	UsageCount int
}

// ActiveAt reports whether the discount can be offered at the given instant:
// the active flag is set, now falls inside the inclusive [StartsAt, EndsAt]
// window, and the usage limit (when set) is not exhausted.
func (d *Discount) ActiveAt(now time.Time) bool {
	if !d.Active {
		return false
	}
	if now.Before(d.StartsAt) || now.After(d.EndsAt) {
		return false
	}
	if d.UsageLimit > 0 && d.UsageCount >= d.UsageLimit {
		return false
	}
	return true
}

// AppliesTo reports whether the discount targets the given product.
func (d *Discount) AppliesTo(productID, categoryID string) bool {
	switch d.Target {
	case TargetAll:
		return true
	case TargetCategory:
		return slices.Contains(d.CategoryIDs, categoryID)
	case TargetProduct:
		return slices.Contains(d.ProductIDs, productID)
	default:
		return false
	}
}

// Repository provides lookup and mutation of discount rules.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Discount, error)
	// ListActive returns every discount whose active flag is set and whose
	// window contains now, ordered by id. Usage-limit filtering happens in
	// the resolver so exhausted rules still show up for administrators.
	ListActive(ctx context.Context, now time.Time) ([]Discount, error)
	Create(ctx context.Context, d *Discount) error
	Update(ctx context.Context, d *Discount) error
	Delete(ctx context.Context, id string) error
}
