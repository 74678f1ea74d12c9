package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/promo-engine/internal/domain/cart"
	"github.com/merchkit/promo-engine/internal/domain/catalog"
	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
	"github.com/merchkit/promo-engine/internal/domain/ledger"
)

// --- Mock implementations ---

type mockCatalog struct {
	byID map[string]catalog.Product
	err  error
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) GetCategory(_ context.Context, _ string) (*catalog.Category, error) {
	return nil, catalog.ErrNotFound
}

type mockDiscountSource struct {
	discounts []discount.Discount
	err       error
}

func (m *mockDiscountSource) ActiveSet(_ context.Context) ([]discount.Discount, error) {
	return m.discounts, m.err
}

type mockCouponValidator struct {
	result *coupon.Result
	err    error
}

func (m *mockCouponValidator) Validate(_ context.Context, _ string, _ cart.Snapshot, _ string) (*coupon.Result, error) {
	return m.result, m.err
}

type mockOrderRepo struct {
	lastOrder *Order
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.err != nil {
		return m.err
	}
	m.lastOrder = o
	return nil
}

// --- Helpers ---

func newCatalog(products ...catalog.Product) *mockCatalog {
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockCatalog{byID: byID}
}

func product(id, categoryID, price string) catalog.Product {
	return catalog.Product{
		ID:         id,
		Name:       id,
		CategoryID: categoryID,
		Price:      decimal.RequireFromString(price),
	}
}

func activeDiscount(id string, value int64) discount.Discount {
	now := time.Now()
	return discount.Discount{
		ID:       id,
		Type:     discount.TypePercentage,
		Value:    decimal.NewFromInt(value),
		Target:   discount.TargetAll,
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(time.Hour),
		Active:   true,
	}
}

func newTestService(
	products catalog.Repository,
	discounts DiscountSource,
	coupons CouponValidator,
	slots ledger.Ledger,
	orders Repository,
) *Service {
	return NewService(products, discounts, coupons, slots, orders)
}

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := newTestService(newCatalog(), &mockDiscountSource{}, &mockCouponValidator{}, ledger.NewMemory(time.Minute), &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1"})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_MissingUser(t *testing.T) {
	svc := newTestService(newCatalog(), &mockDiscountSource{}, &mockCouponValidator{}, ledger.NewMemory(time.Minute), &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrNoUser)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	svc := newTestService(newCatalog(product("p1", "c1", "10.00")), &mockDiscountSource{}, &mockCouponValidator{}, ledger.NewMemory(time.Minute), &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	svc := newTestService(newCatalog(), &mockDiscountSource{}, &mockCouponValidator{}, ledger.NewMemory(time.Minute), &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "missing", Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestPlaceOrder_NoRules(t *testing.T) {
	repo := &mockOrderRepo{}
	svc := newTestService(
		newCatalog(product("p1", "c1", "10.00"), product("p2", "c1", "20.00")),
		&mockDiscountSource{}, &mockCouponValidator{}, ledger.NewMemory(time.Minute), repo,
	)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("40.00").Equal(o.Totals.Subtotal))
	assert.True(t, decimal.RequireFromString("40.00").Equal(o.Totals.Total))
	assert.Equal(t, o, repo.lastOrder)
}

func TestPlaceOrder_DiscountAndCouponCombine(t *testing.T) {
	cv := &mockCouponValidator{
		result: &coupon.Result{
			Coupon: &coupon.Coupon{ID: "c1", Code: "SAVE20"},
			Amount: decimal.RequireFromString("20.00"),
		},
	}
	svc := newTestService(
		newCatalog(product("p1", "electronics", "200.00")),
		&mockDiscountSource{discounts: []discount.Discount{activeDiscount("d1", 10)}},
		cv, ledger.NewMemory(time.Minute), &mockOrderRepo{},
	)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:     "u1",
		CouponCode: "SAVE20",
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("200.00").Equal(o.Totals.Subtotal))
	assert.True(t, decimal.RequireFromString("20.00").Equal(o.Totals.ProductDiscountTotal))
	assert.True(t, decimal.RequireFromString("20.00").Equal(o.Totals.CouponDiscount))
	assert.True(t, decimal.RequireFromString("160.00").Equal(o.Totals.Total))
	assert.Equal(t, "SAVE20", o.CouponCode)
	assert.Equal(t, "d1", o.Lines[0].DiscountID)
}

func TestPlaceOrder_MinOrderDiscountSkippedBelowThreshold(t *testing.T) {
	d := activeDiscount("d1", 10)
	d.MinOrderAmount = decimal.RequireFromString("100.00")

	svc := newTestService(
		newCatalog(product("p1", "c1", "30.00")),
		&mockDiscountSource{discounts: []discount.Discount{d}},
		&mockCouponValidator{}, ledger.NewMemory(time.Minute), &mockOrderRepo{},
	)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})

	require.NoError(t, err)
	assert.True(t, o.Totals.ProductDiscountTotal.IsZero())
	assert.Empty(t, o.Lines[0].DiscountID)

	// The same discount applies once the cart clears the threshold.
	o, err = svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 4}},
	})

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.00").Equal(o.Totals.ProductDiscountTotal))
}

func TestPlaceOrder_CouponRejectionAborts(t *testing.T) {
	cv := &mockCouponValidator{err: coupon.ErrExpired}
	svc := newTestService(
		newCatalog(product("p1", "c1", "10.00")),
		&mockDiscountSource{}, cv, ledger.NewMemory(time.Minute), &mockOrderRepo{},
	)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:     "u1",
		CouponCode: "OLD",
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})

	require.ErrorIs(t, err, coupon.ErrExpired)
}

func TestPlaceOrder_ExhaustedCouponAborts(t *testing.T) {
	slots := ledger.NewMemory(time.Minute)
	slots.SetLimits("c1", ledger.Limits{Global: 1})

	cv := &mockCouponValidator{
		result: &coupon.Result{
			Coupon: &coupon.Coupon{ID: "c1", Code: "LAST1"},
			Amount: decimal.RequireFromString("5.00"),
		},
	}
	svc := newTestService(
		newCatalog(product("p1", "c1", "10.00")),
		&mockDiscountSource{}, cv, slots, &mockOrderRepo{},
	)

	req := PlaceOrderRequest{
		UserID:     "u1",
		CouponCode: "LAST1",
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
	}

	_, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, ledger.ErrLimitReached)
}

func TestPlaceOrder_PersistFailureReleasesReservation(t *testing.T) {
	slots := ledger.NewMemory(time.Minute)
	slots.SetLimits("c1", ledger.Limits{Global: 1})

	cv := &mockCouponValidator{
		result: &coupon.Result{
			Coupon: &coupon.Coupon{ID: "c1", Code: "LAST1"},
			Amount: decimal.RequireFromString("5.00"),
		},
	}
	failing := &mockOrderRepo{err: errors.New("db write failed")}
	svc := newTestService(
		newCatalog(product("p1", "c1", "10.00")),
		&mockDiscountSource{}, cv, slots, failing,
	)

	req := PlaceOrderRequest{
		UserID:     "u1",
		CouponCode: "LAST1",
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
	}

	_, err := svc.PlaceOrder(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")

	// The released slot is available to the next checkout.
	working := &mockOrderRepo{}
	svc = newTestService(
		newCatalog(product("p1", "c1", "10.00")),
		&mockDiscountSource{}, cv, slots, working,
	)
	_, err = svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
}

func TestPlaceOrder_DiscountStoreFailureAborts(t *testing.T) {
	svc := newTestService(
		newCatalog(product("p1", "c1", "10.00")),
		&mockDiscountSource{err: errors.New("connection refused")},
		&mockCouponValidator{}, ledger.NewMemory(time.Minute), &mockOrderRepo{},
	)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list active discounts")
}
