package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/order"
)

const insertOrderSQL = `INSERT INTO orders (id, user_id, lines, coupon_code,
	subtotal, product_discount_total, coupon_discount, total, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// orderLine is the frozen JSONB shape of a priced cart line. Prices are
// stored as values so later rule edits cannot change a placed order.
type orderLine struct {
	ProductID      string          `json:"product_id"`
	CategoryID     string          `json:"category_id"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int             `json:"quantity"`
	FinalUnitPrice decimal.Decimal `json:"final_unit_price"`
	UnitSavings    decimal.Decimal `json:"unit_savings"`
	DiscountID     string          `json:"discount_id,omitempty"`
}

// Create persists a new order with its priced lines serialized to JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	lines := make([]orderLine, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = orderLine{
			ProductID:      l.ProductID,
			CategoryID:     l.CategoryID,
			UnitPrice:      l.UnitPrice,
			Quantity:       l.Quantity,
			FinalUnitPrice: l.FinalUnitPrice,
			UnitSavings:    l.UnitSavings,
			DiscountID:     l.DiscountID,
		}
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, linesJSON, o.CouponCode,
		o.Totals.Subtotal, o.Totals.ProductDiscountTotal,
		o.Totals.CouponDiscount, o.Totals.Total, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}
