package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/cart"
	"github.com/merchkit/promo-engine/internal/domain/discount"
)

// MinOrderBasis selects which subtotal a coupon's minimum-order threshold is
// checked against. The upstream behaviour was ambiguous, so the choice is an
// explicit configuration knob rather than a silent default.
type MinOrderBasis string

const (
	// BasisEligible checks the minimum against the coupon-eligible subtotal.
	BasisEligible MinOrderBasis = "eligible"
	// BasisCart checks the minimum against the full cart subtotal.
	BasisCart MinOrderBasis = "cart"
)

// Result is a successful validation: the coupon and the rounded amount it
// takes off the cart.
type Result struct {
	Coupon *Coupon
	Amount decimal.Decimal
}

// Validator checks whether a coupon code may be redeemed against a cart and
// computes the discount amount. Validate has no side effects; redemption is
// committed separately through the usage ledger, so callers may re-validate
// freely as the cart changes.
type Validator struct {
	repo  Repository
	usage UserUsage
	basis MinOrderBasis
	now   func() time.Time
}

// NewValidator creates a Validator. usage supplies per-user redemption counts
// and basis selects the minimum-order interpretation.
func NewValidator(repo Repository, usage UserUsage, basis MinOrderBasis) *Validator {
	if basis == "" {
		basis = BasisEligible
	}
	return &Validator{repo: repo, usage: usage, basis: basis, now: time.Now}
}

// Validate runs the full rejection ladder for a submitted code. Every
// rejection is one of the package sentinel errors; anything else is a store
// failure and the checkout step must surface it rather than degrade.
func (v *Validator) Validate(ctx context.Context, code string, lines cart.Snapshot, userID string) (*Result, error) {
	c, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()
	if !c.Active || now.After(c.EndsAt) {
		return nil, ErrExpired
	}
	if now.Before(c.StartsAt) {
		return nil, ErrNotYetActive
	}

	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return nil, ErrGlobalLimitReached
	}

	if c.UserUsageLimit > 0 {
		used, err := v.usage.UserCount(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "lookup user usage")
		}
		if used >= c.UserUsageLimit {
			return nil, ErrUserLimitReached
		}
	}

	eligible := eligibleSubtotal(c, lines)
	if !eligible.IsPositive() {
		return nil, ErrNotApplicableToCart
	}

	if c.MinOrderAmount.IsPositive() {
		basis := eligible
		if v.basis == BasisCart {
			basis = lines.Subtotal()
		}
		if basis.LessThan(c.MinOrderAmount) {
			return nil, ErrBelowMinimumOrder
		}
	}

	return &Result{Coupon: c, Amount: amountFor(c, eligible)}, nil
}

// eligibleSubtotal sums the lines the coupon's targeting actually covers.
func eligibleSubtotal(c *Coupon, lines cart.Snapshot) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		if c.AppliesTo(line.ProductID, line.CategoryID) {
			sum = sum.Add(line.Total())
		}
	}
	return sum
}

// amountFor computes the rounded discount amount: raw value per the coupon
// type, capped by MaxDiscountAmount when set, and never more than the
// eligible subtotal it applies to.
func amountFor(c *Coupon, eligible decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.Type {
	case discount.TypePercentage:
		amount = eligible.Mul(c.Value).Div(decimal.NewFromInt(100))
	case discount.TypeFixed:
		amount = c.Value
	default:
		return decimal.Zero
	}

	if c.MaxDiscountAmount.IsPositive() && amount.GreaterThan(c.MaxDiscountAmount) {
		amount = c.MaxDiscountAmount
	}
	if amount.GreaterThan(eligible) {
		amount = eligible
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}
