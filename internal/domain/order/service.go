package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/merchkit/promo-engine/internal/domain/cart"
	"github.com/merchkit/promo-engine/internal/domain/catalog"
	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
	"github.com/merchkit/promo-engine/internal/domain/ledger"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems = errors.New("items required")
	ErrNoUser     = errors.New("user id required")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// CouponValidator validates a coupon code against a cart snapshot.
type CouponValidator interface {
	Validate(ctx context.Context, code string, lines cart.Snapshot, userID string) (*coupon.Result, error)
}

// DiscountSource supplies the currently-active discount set. Checkout uses
// the strict form: a store failure here fails the order rather than silently
// charging full price against the customer's expectation.
type DiscountSource interface {
	ActiveSet(ctx context.Context) ([]discount.Discount, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items      []ItemRequest
	CouponCode string
	UserID     string
}

// ItemRequest is one requested line: the authoritative price and category
// come from the catalog, not the client.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Service orchestrates checkout: it prices every line with the active
// discounts, validates and reserves an optional coupon, assembles totals,
// and freezes the result into an order record.
type Service struct {
	products  catalog.Repository
	discounts DiscountSource
	coupons   CouponValidator
	slots     ledger.Ledger
	orders    Repository
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products catalog.Repository,
	discounts DiscountSource,
	coupons CouponValidator,
	slots ledger.Ledger,
	orders Repository,
) *Service {
	return &Service{
		products:  products,
		discounts: discounts,
		coupons:   coupons,
		slots:     slots,
		orders:    orders,
		now:       time.Now,
	}
}

// PlaceOrder runs the full checkout sequence. When a coupon is used the
// redemption slot is reserved before the order is written and committed after;
// a persistence failure releases the slot so it is never stranded.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.UserID == "" {
		return nil, ErrNoUser
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productByID := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		productByID[p.ID] = p
	}

	snapshot := make(cart.Snapshot, len(req.Items))
	for i, item := range req.Items {
		p, ok := productByID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		snapshot[i] = cart.Line{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			UnitPrice:  p.Price,
			Quantity:   item.Quantity,
		}
	}

	lines, err := s.priceLines(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	var (
		couponDiscount = decimal.Zero
		couponCode     string
		reservation    *ledger.Reservation
	)
	if req.CouponCode != "" {
		result, err := s.coupons.Validate(ctx, req.CouponCode, snapshot, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}

		reservation, err = ledger.ReserveWithRetry(ctx, s.slots, result.Coupon.ID, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "reserve coupon")
		}
		couponDiscount = result.Amount
		couponCode = result.Coupon.Code
	}

	o := &Order{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Lines:      lines,
		CouponCode: couponCode,
		Totals:     Assemble(lines, couponDiscount),
		CreatedAt:  s.now(),
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if reservation != nil {
			if relErr := s.slots.Release(ctx, reservation.Token); relErr != nil {
				zctx.From(ctx).Error("Failed to release coupon reservation",
					zap.String("token", reservation.Token), zap.Error(relErr))
			}
		}
		return nil, errors.Wrap(err, "create order")
	}

	if reservation != nil {
		if err := s.slots.Commit(ctx, reservation.Token); err != nil {
			// The order is already placed; the pending reservation will
			// expire and return the slot, under-counting this redemption.
			zctx.From(ctx).Warn("Failed to commit coupon reservation",
				zap.String("token", reservation.Token), zap.Error(err))
		}
	}

	return o, nil
}

// priceLines applies the best active discount to every cart line. Discounts
// carrying a minimum order amount only count once the full cart subtotal
// clears it; display-time pricing ignores that field, checkout does not.
func (s *Service) priceLines(ctx context.Context, snapshot cart.Snapshot) ([]PricedLine, error) {
	active, err := s.discounts.ActiveSet(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active discounts")
	}

	subtotal := snapshot.Subtotal()
	eligible := make([]discount.Discount, 0, len(active))
	for _, d := range active {
		if d.MinOrderAmount.IsPositive() && subtotal.LessThan(d.MinOrderAmount) {
			continue
		}
		eligible = append(eligible, d)
	}

	lines := make([]PricedLine, len(snapshot))
	for i, line := range snapshot {
		applicable := make([]discount.Discount, 0, len(eligible))
		for _, d := range eligible {
			if d.AppliesTo(line.ProductID, line.CategoryID) {
				applicable = append(applicable, d)
			}
		}

		quote := discount.Price(line.UnitPrice, applicable)
		lines[i] = PricedLine{
			Line:           line,
			FinalUnitPrice: quote.FinalPrice,
			UnitSavings:    quote.Savings,
		}
		if quote.Chosen != nil {
			lines[i].DiscountID = quote.Chosen.ID
		}
	}
	return lines, nil
}
