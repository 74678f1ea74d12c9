package discount

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// EligibilityMap is the bulk lookup structure built once per catalog page
// render: one query instead of one per product. It is derived state, rebuilt
// on demand, never persisted.
type EligibilityMap struct {
	// All holds discounts targeting the whole catalog.
	All []Discount
	// ByProduct maps product id to discounts targeting it directly.
	ByProduct map[string][]Discount
	// ByCategory maps category id to discounts targeting its products.
	ByCategory map[string][]Discount
}

// For returns the discounts applicable to the given product in the resolver's
// stable order (ascending id). Catalog-wide, category and product-targeted
// discounts are merged; a discount appears at most once.
func (m *EligibilityMap) For(productID, categoryID string) []Discount {
	merged := make([]Discount, 0, len(m.All))
	merged = append(merged, m.All...)
	merged = append(merged, m.ByCategory[categoryID]...)
	merged = append(merged, m.ByProduct[productID]...)

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })

	out := merged[:0]
	for i, d := range merged {
		if i > 0 && merged[i-1].ID == d.ID {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Resolver answers which active discounts apply to which catalog entries.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver creates a Resolver backed by the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// ActiveSet returns every currently-active discount ordered by id. Unlike the
// display-path methods it propagates store errors, so checkout callers fail
// loudly instead of silently pricing without discounts.
func (r *Resolver) ActiveSet(ctx context.Context) ([]Discount, error) {
	now := r.now()
	all, err := r.repo.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}

	active := all[:0]
	for _, d := range all {
		if d.ActiveAt(now) {
			active = append(active, d)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

// ActiveFor returns the active discounts applicable to a single product, in
// stable id order. A store failure degrades to no discounts: browsing must
// not break because the rules table is unreachable.
func (r *Resolver) ActiveFor(ctx context.Context, productID, categoryID string) []Discount {
	active, err := r.ActiveSet(ctx)
	if err != nil {
		zctx.From(ctx).Warn("Discount lookup failed, showing no discounts",
			zap.String("product_id", productID), zap.Error(err))
		return nil
	}

	applicable := make([]Discount, 0, len(active))
	for _, d := range active {
		if d.AppliesTo(productID, categoryID) {
			applicable = append(applicable, d)
		}
	}
	return applicable
}

// BuildMap builds the eligibility map for one catalog page. Only discounts
// relevant to the requested product and category ids are indexed; catalog-wide
// discounts always land in All. Store failures degrade to an empty map.
func (r *Resolver) BuildMap(ctx context.Context, productIDs, categoryIDs []string) *EligibilityMap {
	m := &EligibilityMap{
		ByProduct:  make(map[string][]Discount),
		ByCategory: make(map[string][]Discount),
	}

	active, err := r.ActiveSet(ctx)
	if err != nil {
		zctx.From(ctx).Warn("Discount lookup failed, returning empty eligibility map", zap.Error(err))
		return m
	}

	wantProduct := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wantProduct[id] = struct{}{}
	}
	wantCategory := make(map[string]struct{}, len(categoryIDs))
	for _, id := range categoryIDs {
		wantCategory[id] = struct{}{}
	}

	for _, d := range active {
		switch d.Target {
		case TargetAll:
			m.All = append(m.All, d)
		case TargetCategory:
			for _, id := range d.CategoryIDs {
				if _, ok := wantCategory[id]; ok {
					m.ByCategory[id] = append(m.ByCategory[id], d)
				}
			}
		case TargetProduct:
			for _, id := range d.ProductIDs {
				if _, ok := wantProduct[id]; ok {
					m.ByProduct[id] = append(m.ByProduct[id], d)
				}
			}
		}
	}
	return m
}
