package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
)

const (
	couponColumns = `id, code, description, discount_type, value,
		min_order_amount, max_discount_amount, usage_limit, user_usage_limit,
		used_count, product_ids, category_ids, starts_at, ends_at, active`

	findCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	insertCouponSQL = `INSERT INTO coupons (id, code, description, discount_type, value,
		min_order_amount, max_discount_amount, usage_limit, user_usage_limit,
		used_count, product_ids, category_ids, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updateCouponSQL = `UPDATE coupons SET description = $2, discount_type = $3, value = $4,
		min_order_amount = $5, max_discount_amount = $6, usage_limit = $7,
		user_usage_limit = $8, product_ids = $9, category_ids = $10,
		starts_at = $11, ends_at = $12, active = $13
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`
)

// uniqueViolation is the PostgreSQL error code raised by the case-insensitive
// unique index on coupon codes.
const uniqueViolation = "23505"

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no matching coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// GetByID returns a single coupon.
// Returns coupon.ErrNotFound when no matching coupon exists.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %q: %w", id, err)
	}
	return &c, nil
}

// Create persists a new coupon. A code collision on the case-insensitive
// unique index surfaces as coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Description, string(c.Type), c.Value,
		c.MinOrderAmount, c.MaxDiscountAmount, c.UsageLimit, c.UserUsageLimit,
		c.UsedCount, c.ProductIDs, c.CategoryIDs, c.StartsAt, c.EndsAt, c.Active,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces a coupon's definition. The code column is deliberately
// absent from the statement: codes are immutable.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Description, string(c.Type), c.Value,
		c.MinOrderAmount, c.MaxDiscountAmount, c.UsageLimit, c.UserUsageLimit,
		c.ProductIDs, c.CategoryIDs, c.StartsAt, c.EndsAt, c.Active,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		discountType   string
		usageLimit     int32
		userUsageLimit int32
		usedCount      int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.Value,
		&c.MinOrderAmount, &c.MaxDiscountAmount, &usageLimit, &userUsageLimit,
		&usedCount, &c.ProductIDs, &c.CategoryIDs, &c.StartsAt, &c.EndsAt, &c.Active,
	)
	c.Type = discount.Type(discountType)
	c.UsageLimit = int(usageLimit)
	c.UserUsageLimit = int(userUsageLimit)
	c.UsedCount = int(usedCount)
	return c, err
}
