package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/promo-engine/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, name, category_id, price FROM products WHERE id = $1`

	getProductsSQL = `SELECT id, name, category_id, price FROM products
		WHERE id = ANY($1) ORDER BY id`

	getCategorySQL = `SELECT id, name FROM categories WHERE id = $1`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository reads the catalog replica tables. The catalog service
// owns the data; this engine only looks up prices and category membership.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns a single product.
// Returns catalog.ErrNotFound when no matching product exists.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.pool.QueryRow(ctx, getProductSQL, id).Scan(&p.ID, &p.Name, &p.CategoryID, &p.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns the products matching the given ids in one query.
// Missing ids are simply absent from the result.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products: %w", err)
	}

	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		var p catalog.Product
		err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Price)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting products: %w", err)
	}
	return products, nil
}

// GetCategory returns a single category.
// Returns catalog.ErrNotFound when no matching category exists.
func (r *CatalogRepository) GetCategory(ctx context.Context, id string) (*catalog.Category, error) {
	var c catalog.Category
	err := r.pool.QueryRow(ctx, getCategorySQL, id).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting category %q: %w", id, err)
	}
	return &c, nil
}
