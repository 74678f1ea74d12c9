// Package catalog defines the read-only view of the product catalog that the
// promotions engine consumes. Catalog CRUD lives in a separate service; this
// engine only ever reads.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product or category does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID         string
	Name       string
	CategoryID string
	Price      decimal.Decimal
}

// Category groups related products for discount targeting.
type Category struct {
	ID   string
	Name string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	GetCategory(ctx context.Context, id string) (*Category, error)
}
