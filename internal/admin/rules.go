// Package admin implements the administrative create/update/delete surface
// for discount and coupon rules. Every invariant is checked here, before
// persistence: an invalid rule definition is rejected and never stored.
package admin

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
)

// ErrInvalidRule wraps every validation failure so callers can map the whole
// class to one response code while keeping the specific message.
var ErrInvalidRule = errors.New("invalid rule definition")

// DiscountInput is the administrative payload for creating or updating a
// discount. Struct tags cover shape; money and window invariants are checked
// in validateValues since they depend on the discount type.
type DiscountInput struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Type        string          `json:"type" validate:"required,oneof=percentage fixed"`
	Value       decimal.Decimal `json:"value"`
	Target      string          `json:"target" validate:"required,oneof=all category product"`
	CategoryIDs []string        `json:"categoryIds" validate:"dive,required"`
	ProductIDs  []string        `json:"productIds" validate:"dive,required"`

	StartsAt time.Time `json:"startsAt" validate:"required"`
	EndsAt   time.Time `json:"endsAt" validate:"required"`
	Active   bool      `json:"active"`

	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	MaxDiscountAmount decimal.Decimal `json:"maxDiscountAmount"`
	UsageLimit        int             `json:"usageLimit" validate:"min=0"`
}

// CouponInput is the administrative payload for creating a coupon. The code
// is immutable after creation; updates ignore it.
type CouponInput struct {
	Code        string          `json:"code" validate:"required,min=3,max=64"`
	Description string          `json:"description" validate:"max=2000"`
	Type        string          `json:"type" validate:"required,oneof=percentage fixed"`
	Value       decimal.Decimal `json:"value"`

	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	MaxDiscountAmount decimal.Decimal `json:"maxDiscountAmount"`
	UsageLimit        int             `json:"usageLimit" validate:"min=0"`
	UserUsageLimit    int             `json:"userUsageLimit" validate:"min=0"`

	ProductIDs  []string `json:"productIds" validate:"dive,required"`
	CategoryIDs []string `json:"categoryIds" validate:"dive,required"`

	StartsAt time.Time `json:"startsAt" validate:"required"`
	EndsAt   time.Time `json:"endsAt" validate:"required"`
	Active   bool      `json:"active"`
}

// Service validates and persists rule definitions.
type Service struct {
	discounts discount.Repository
	coupons   coupon.Repository
	validate  *validator.Validate
}

// NewService creates the administrative rules service.
func NewService(discounts discount.Repository, coupons coupon.Repository) *Service {
	return &Service{
		discounts: discounts,
		coupons:   coupons,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateDiscount validates the input and persists a new discount rule.
func (s *Service) CreateDiscount(ctx context.Context, in DiscountInput) (*discount.Discount, error) {
	d, err := s.buildDiscount(in)
	if err != nil {
		return nil, err
	}
	d.ID = uuid.New().String()

	if err := s.discounts.Create(ctx, d); err != nil {
		return nil, errors.Wrap(err, "create discount")
	}
	return d, nil
}

// UpdateDiscount validates the input and replaces the rule with the given id.
func (s *Service) UpdateDiscount(ctx context.Context, id string, in DiscountInput) (*discount.Discount, error) {
	existing, err := s.discounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	d, err := s.buildDiscount(in)
	if err != nil {
		return nil, err
	}
	d.ID = existing.ID
	d.UsageCount = existing.UsageCount

	if err := s.discounts.Update(ctx, d); err != nil {
		return nil, errors.Wrap(err, "update discount")
	}
	return d, nil
}

// DeleteDiscount removes a discount rule. Orders already placed with it are
// unaffected: they carry a frozen copy of the effect, not a reference.
func (s *Service) DeleteDiscount(ctx context.Context, id string) error {
	return s.discounts.Delete(ctx, id)
}

// CreateCoupon validates the input and persists a new coupon. The normalized
// code must be unique; collisions surface as coupon.ErrDuplicateCode.
func (s *Service) CreateCoupon(ctx context.Context, in CouponInput) (*coupon.Coupon, error) {
	c, err := s.buildCoupon(in)
	if err != nil {
		return nil, err
	}
	c.ID = uuid.New().String()

	if err := s.coupons.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// UpdateCoupon validates the input and replaces the coupon with the given id,
// keeping its original code: regenerating a code means creating a new coupon.
func (s *Service) UpdateCoupon(ctx context.Context, id string, in CouponInput) (*coupon.Coupon, error) {
	existing, err := s.coupons.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	in.Code = existing.Code
	c, err := s.buildCoupon(in)
	if err != nil {
		return nil, err
	}
	c.ID = existing.ID
	c.Code = existing.Code
	c.UsedCount = existing.UsedCount

	if err := s.coupons.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// DeleteCoupon removes a coupon.
func (s *Service) DeleteCoupon(ctx context.Context, id string) error {
	return s.coupons.Delete(ctx, id)
}

func (s *Service) buildDiscount(in DiscountInput) (*discount.Discount, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Wrap(ErrInvalidRule, err.Error())
	}
	if err := validateValue(discount.Type(in.Type), in.Value); err != nil {
		return nil, err
	}
	if err := validateWindow(in.StartsAt, in.EndsAt); err != nil {
		return nil, err
	}
	if err := validateTarget(discount.TargetType(in.Target), in.CategoryIDs, in.ProductIDs); err != nil {
		return nil, err
	}
	if in.MinOrderAmount.IsNegative() || in.MaxDiscountAmount.IsNegative() {
		return nil, errors.Wrap(ErrInvalidRule, "amounts must not be negative")
	}

	return &discount.Discount{
		Name:              in.Name,
		Description:       in.Description,
		Type:              discount.Type(in.Type),
		Value:             in.Value,
		Target:            discount.TargetType(in.Target),
		CategoryIDs:       in.CategoryIDs,
		ProductIDs:        in.ProductIDs,
		StartsAt:          in.StartsAt,
		EndsAt:            in.EndsAt,
		Active:            in.Active,
		MinOrderAmount:    in.MinOrderAmount,
		MaxDiscountAmount: in.MaxDiscountAmount,
		UsageLimit:        in.UsageLimit,
	}, nil
}

func (s *Service) buildCoupon(in CouponInput) (*coupon.Coupon, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Wrap(ErrInvalidRule, err.Error())
	}
	if err := validateValue(discount.Type(in.Type), in.Value); err != nil {
		return nil, err
	}
	if err := validateWindow(in.StartsAt, in.EndsAt); err != nil {
		return nil, err
	}
	if in.MinOrderAmount.IsNegative() || in.MaxDiscountAmount.IsNegative() {
		return nil, errors.Wrap(ErrInvalidRule, "amounts must not be negative")
	}

	return &coupon.Coupon{
		Code:              coupon.NormalizeCode(in.Code),
		Description:       in.Description,
		Type:              discount.Type(in.Type),
		Value:             in.Value,
		MinOrderAmount:    in.MinOrderAmount,
		MaxDiscountAmount: in.MaxDiscountAmount,
		UsageLimit:        in.UsageLimit,
		UserUsageLimit:    in.UserUsageLimit,
		ProductIDs:        in.ProductIDs,
		CategoryIDs:       in.CategoryIDs,
		StartsAt:          in.StartsAt,
		EndsAt:            in.EndsAt,
		Active:            in.Active,
	}, nil
}

// validateValue enforces the value range per discount type: percentages must
// fall in (0,100], fixed amounts must be positive.
func validateValue(t discount.Type, value decimal.Decimal) error {
	switch t {
	case discount.TypePercentage:
		if !value.IsPositive() || value.GreaterThan(decimal.NewFromInt(100)) {
			return errors.Wrap(ErrInvalidRule, "percentage value must be in (0,100]")
		}
	case discount.TypeFixed:
		if !value.IsPositive() {
			return errors.Wrap(ErrInvalidRule, "fixed amount must be positive")
		}
	}
	return nil
}

func validateWindow(start, end time.Time) error {
	if !start.Before(end) {
		return errors.Wrap(ErrInvalidRule, "window start must be before end")
	}
	return nil
}

// validateTarget requires a non-empty id set for targeted discounts.
func validateTarget(target discount.TargetType, categoryIDs, productIDs []string) error {
	switch target {
	case discount.TargetCategory:
		if len(categoryIDs) == 0 {
			return errors.Wrap(ErrInvalidRule, "category target requires category ids")
		}
	case discount.TargetProduct:
		if len(productIDs) == 0 {
			return errors.Wrap(ErrInvalidRule, "product target requires product ids")
		}
	}
	return nil
}
