package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/promo-engine/internal/domain/discount"
)

const (
	getDiscountSQL = `SELECT id, name, description, discount_type, value, target_type,
		category_ids, product_ids, starts_at, ends_at, active,
		min_order_amount, max_discount_amount, usage_limit, usage_count
		FROM discounts WHERE id = $1`

	listActiveDiscountsSQL = `SELECT id, name, description, discount_type, value, target_type,
		category_ids, product_ids, starts_at, ends_at, active,
		min_order_amount, max_discount_amount, usage_limit, usage_count
		FROM discounts
		WHERE active AND starts_at <= $1 AND ends_at >= $1
		ORDER BY id`

	insertDiscountSQL = `INSERT INTO discounts (id, name, description, discount_type, value,
		target_type, category_ids, product_ids, starts_at, ends_at, active,
		min_order_amount, max_discount_amount, usage_limit, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updateDiscountSQL = `UPDATE discounts SET name = $2, description = $3, discount_type = $4,
		value = $5, target_type = $6, category_ids = $7, product_ids = $8,
		starts_at = $9, ends_at = $10, active = $11,
		min_order_amount = $12, max_discount_amount = $13, usage_limit = $14
		WHERE id = $1`

	deleteDiscountSQL = `DELETE FROM discounts WHERE id = $1`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// GetByID returns a single discount rule.
// Returns discount.ErrNotFound when no matching rule exists.
func (r *DiscountRepository) GetByID(ctx context.Context, id string) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, getDiscountSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting discount %q: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("getting discount %q: %w", id, err)
	}
	return &d, nil
}

// ListActive returns every flagged-active discount whose window contains now,
// ordered by id.
func (r *DiscountRepository) ListActive(ctx context.Context, now time.Time) ([]discount.Discount, error) {
	rows, err := r.pool.Query(ctx, listActiveDiscountsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}

	discounts, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}
	return discounts, nil
}

// Create persists a new discount rule.
func (r *DiscountRepository) Create(ctx context.Context, d *discount.Discount) error {
	_, err := r.pool.Exec(ctx, insertDiscountSQL,
		d.ID, d.Name, d.Description, string(d.Type), d.Value, string(d.Target),
		d.CategoryIDs, d.ProductIDs, d.StartsAt, d.EndsAt, d.Active,
		d.MinOrderAmount, d.MaxDiscountAmount, d.UsageLimit, d.UsageCount,
	)
	if err != nil {
		return fmt.Errorf("creating discount %q: %w", d.ID, err)
	}
	return nil
}

// Update replaces a discount rule's definition. The usage counter is owned by
// the ledger and is not touched here.
func (r *DiscountRepository) Update(ctx context.Context, d *discount.Discount) error {
	tag, err := r.pool.Exec(ctx, updateDiscountSQL,
		d.ID, d.Name, d.Description, string(d.Type), d.Value, string(d.Target),
		d.CategoryIDs, d.ProductIDs, d.StartsAt, d.EndsAt, d.Active,
		d.MinOrderAmount, d.MaxDiscountAmount, d.UsageLimit,
	)
	if err != nil {
		return fmt.Errorf("updating discount %q: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

// Delete removes a discount rule.
func (r *DiscountRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteDiscountSQL, id)
	if err != nil {
		return fmt.Errorf("deleting discount %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d            discount.Discount
		discountType string
		targetType   string
		usageLimit   int32
		usageCount   int32
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Description, &discountType, &d.Value, &targetType,
		&d.CategoryIDs, &d.ProductIDs, &d.StartsAt, &d.EndsAt, &d.Active,
		&d.MinOrderAmount, &d.MaxDiscountAmount, &usageLimit, &usageCount,
	)
	d.Type = discount.Type(discountType)
	d.Target = discount.TargetType(targetType)
	d.UsageLimit = int(usageLimit)
	d.UsageCount = int(usageCount)
	return d, err
}
