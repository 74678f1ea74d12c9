// Package coupon implements checkout coupon codes: lookup, the validation
// ladder, and discount amount computation against a cart snapshot.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/discount"
)

// Rejection reasons surfaced by Validate. Each maps to a user-facing message
// in the storefront.
var (
	ErrNotFound            = errors.New("coupon not found")
	ErrNotYetActive        = errors.New("coupon not yet active")
	ErrExpired             = errors.New("coupon expired")
	ErrGlobalLimitReached  = errors.New("coupon usage limit reached")
	ErrUserLimitReached    = errors.New("coupon usage limit reached for this user")
	ErrNotApplicableToCart = errors.New("coupon not applicable to any cart item")
	ErrBelowMinimumOrder   = errors.New("order amount below coupon minimum")
	// ErrDuplicateCode is returned on creation when the code already exists.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// Coupon is a user-entered code redeemed at checkout. Codes are stored
// normalized upper-case and are immutable once created. Value semantics match
// discount.Discount: a percentage in (0,100] or a positive fixed amount.
// Empty ProductIDs and CategoryIDs means the coupon applies to any cart.
type Coupon struct {
	ID          string
	Code        string
	Description string

	Type  discount.Type
	Value decimal.Decimal

	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount decimal.Decimal

	// UsageLimit caps total redemptions; UserUsageLimit caps redemptions per
	// distinct user. Zero means unlimited.
	UsageLimit     int
	UserUsageLimit int
	UsedCount      int

	ProductIDs  []string
	CategoryIDs []string

	StartsAt time.Time
	EndsAt   time.Time
	Active   bool
}

// NormalizeCode trims surrounding whitespace and upper-cases a user-entered
// coupon code. All lookups and storage use the normalized form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AppliesTo reports whether a cart line counts toward this coupon's eligible
// subtotal. Both target sets empty means the coupon covers everything.
func (c *Coupon) AppliesTo(productID, categoryID string) bool {
	if len(c.ProductIDs) == 0 && len(c.CategoryIDs) == 0 {
		return true
	}
	for _, id := range c.ProductIDs {
		if id == productID {
			return true
		}
	}
	for _, id := range c.CategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

// Repository provides lookup and mutation of coupon records.
type Repository interface {
	// FindByCode looks up a coupon by its normalized code.
	// Returns ErrNotFound when no such coupon exists.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	GetByID(ctx context.Context, id string) (*Coupon, error)
	// Create persists a new coupon. Returns ErrDuplicateCode when the
	// normalized code collides with an existing one.
	Create(ctx context.Context, c *Coupon) error
	// Update modifies everything except the code, which is immutable.
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
}

// UserUsage reports how many times a user has redeemed a coupon. Implemented
// by the usage ledger.
type UserUsage interface {
	UserCount(ctx context.Context, couponID, userID string) (int, error)
}
