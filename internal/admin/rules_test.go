package admin

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
)

type mockDiscountStore struct {
	byID    map[string]*discount.Discount
	created *discount.Discount
	updated *discount.Discount
}

func (m *mockDiscountStore) GetByID(_ context.Context, id string) (*discount.Discount, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, discount.ErrNotFound
	}
	return d, nil
}

func (m *mockDiscountStore) ListActive(_ context.Context, _ time.Time) ([]discount.Discount, error) {
	return nil, nil
}

func (m *mockDiscountStore) Create(_ context.Context, d *discount.Discount) error {
	m.created = d
	return nil
}

func (m *mockDiscountStore) Update(_ context.Context, d *discount.Discount) error {
	m.updated = d
	return nil
}

func (m *mockDiscountStore) Delete(_ context.Context, _ string) error { return nil }

type mockCouponStore struct {
	byID      map[string]*coupon.Coupon
	created   *coupon.Coupon
	updated   *coupon.Coupon
	createErr error
}

func (m *mockCouponStore) FindByCode(_ context.Context, _ string) (*coupon.Coupon, error) {
	return nil, coupon.ErrNotFound
}

func (m *mockCouponStore) GetByID(_ context.Context, id string) (*coupon.Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *mockCouponStore) Create(_ context.Context, c *coupon.Coupon) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = c
	return nil
}

func (m *mockCouponStore) Update(_ context.Context, c *coupon.Coupon) error {
	m.updated = c
	return nil
}

func (m *mockCouponStore) Delete(_ context.Context, _ string) error { return nil }

func validDiscountInput() DiscountInput {
	return DiscountInput{
		Name:     "Spring Sale",
		Type:     "percentage",
		Value:    decimal.NewFromInt(10),
		Target:   "all",
		StartsAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Active:   true,
	}
}

func validCouponInput() CouponInput {
	return CouponInput{
		Code:     "save10",
		Type:     "percentage",
		Value:    decimal.NewFromInt(10),
		StartsAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Active:   true,
	}
}

func TestCreateDiscount_Valid(t *testing.T) {
	store := &mockDiscountStore{}
	svc := NewService(store, &mockCouponStore{})

	d, err := svc.CreateDiscount(context.Background(), validDiscountInput())
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, discount.TypePercentage, d.Type)
	assert.Equal(t, store.created, d)
}

func TestCreateDiscount_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DiscountInput)
	}{
		{
			name:   "missing name",
			mutate: func(in *DiscountInput) { in.Name = "" },
		},
		{
			name:   "unknown type",
			mutate: func(in *DiscountInput) { in.Type = "bogo" },
		},
		{
			name:   "percentage over 100",
			mutate: func(in *DiscountInput) { in.Value = decimal.NewFromInt(150) },
		},
		{
			name:   "percentage zero",
			mutate: func(in *DiscountInput) { in.Value = decimal.Zero },
		},
		{
			name: "fixed amount negative",
			mutate: func(in *DiscountInput) {
				in.Type = "fixed"
				in.Value = decimal.NewFromInt(-5)
			},
		},
		{
			name: "window inverted",
			mutate: func(in *DiscountInput) {
				in.StartsAt, in.EndsAt = in.EndsAt, in.StartsAt
			},
		},
		{
			name: "category target without categories",
			mutate: func(in *DiscountInput) {
				in.Target = "category"
				in.CategoryIDs = nil
			},
		},
		{
			name: "product target without products",
			mutate: func(in *DiscountInput) {
				in.Target = "product"
				in.ProductIDs = nil
			},
		},
		{
			name:   "negative min order amount",
			mutate: func(in *DiscountInput) { in.MinOrderAmount = decimal.NewFromInt(-1) },
		},
		{
			name:   "negative usage limit",
			mutate: func(in *DiscountInput) { in.UsageLimit = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockDiscountStore{}
			svc := NewService(store, &mockCouponStore{})

			in := validDiscountInput()
			tt.mutate(&in)

			_, err := svc.CreateDiscount(context.Background(), in)
			require.ErrorIs(t, err, ErrInvalidRule)
			assert.Nil(t, store.created, "invalid rule must never reach the store")
		})
	}
}

func TestUpdateDiscount_PreservesUsageCount(t *testing.T) {
	store := &mockDiscountStore{byID: map[string]*discount.Discount{
		"d1": {ID: "d1", UsageCount: 7},
	}}
	svc := NewService(store, &mockCouponStore{})

	d, err := svc.UpdateDiscount(context.Background(), "d1", validDiscountInput())
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)
	assert.Equal(t, 7, d.UsageCount)
}

func TestUpdateDiscount_NotFound(t *testing.T) {
	svc := NewService(&mockDiscountStore{}, &mockCouponStore{})

	_, err := svc.UpdateDiscount(context.Background(), "missing", validDiscountInput())
	require.ErrorIs(t, err, discount.ErrNotFound)
}

func TestCreateCoupon_NormalizesCode(t *testing.T) {
	store := &mockCouponStore{}
	svc := NewService(&mockDiscountStore{}, store)

	c, err := svc.CreateCoupon(context.Background(), validCouponInput())
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
	assert.NotEmpty(t, c.ID)
}

func TestCreateCoupon_DuplicateCode(t *testing.T) {
	store := &mockCouponStore{createErr: coupon.ErrDuplicateCode}
	svc := NewService(&mockDiscountStore{}, store)

	_, err := svc.CreateCoupon(context.Background(), validCouponInput())
	require.ErrorIs(t, err, coupon.ErrDuplicateCode)
}

func TestCreateCoupon_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CouponInput)
	}{
		{
			name:   "code too short",
			mutate: func(in *CouponInput) { in.Code = "ab" },
		},
		{
			name:   "percentage over 100",
			mutate: func(in *CouponInput) { in.Value = decimal.NewFromInt(101) },
		},
		{
			name: "window inverted",
			mutate: func(in *CouponInput) {
				in.StartsAt, in.EndsAt = in.EndsAt, in.StartsAt
			},
		},
		{
			name:   "negative user usage limit",
			mutate: func(in *CouponInput) { in.UserUsageLimit = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockCouponStore{}
			svc := NewService(&mockDiscountStore{}, store)

			in := validCouponInput()
			tt.mutate(&in)

			_, err := svc.CreateCoupon(context.Background(), in)
			require.ErrorIs(t, err, ErrInvalidRule)
			assert.Nil(t, store.created)
		})
	}
}

func TestUpdateCoupon_CodeImmutable(t *testing.T) {
	store := &mockCouponStore{byID: map[string]*coupon.Coupon{
		"c1": {ID: "c1", Code: "ORIGINAL", UsedCount: 3},
	}}
	svc := NewService(&mockDiscountStore{}, store)

	in := validCouponInput()
	in.Code = "HIJACKED"

	c, err := svc.UpdateCoupon(context.Background(), "c1", in)
	require.NoError(t, err)
	assert.Equal(t, "ORIGINAL", c.Code)
	assert.Equal(t, 3, c.UsedCount)
}
