// Package cache fronts eligibility map construction with a short-TTL LRU so
// a busy catalog page does not trigger a recomputation storm. Staleness only
// affects what discounts are displayed; the charged amount is always
// recomputed at checkout from live rule data.
package cache

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/merchkit/promo-engine/internal/domain/discount"
)

// Eligibility caches built eligibility maps keyed by the requested id sets.
type Eligibility struct {
	resolver *discount.Resolver
	lru      *expirable.LRU[string, *discount.EligibilityMap]
}

// NewEligibility wraps the resolver with an expiring LRU of the given
// capacity and entry TTL.
func NewEligibility(resolver *discount.Resolver, size int, ttl time.Duration) *Eligibility {
	return &Eligibility{
		resolver: resolver,
		lru:      expirable.NewLRU[string, *discount.EligibilityMap](size, nil, ttl),
	}
}

// BuildMap returns the cached map for this id set when fresh, building and
// caching it otherwise.
func (c *Eligibility) BuildMap(ctx context.Context, productIDs, categoryIDs []string) *discount.EligibilityMap {
	key := cacheKey(productIDs, categoryIDs)
	if m, ok := c.lru.Get(key); ok {
		return m
	}

	m := c.resolver.BuildMap(ctx, productIDs, categoryIDs)
	c.lru.Add(key, m)
	return m
}

// Purge drops every cached entry. Called after administrative rule changes so
// fresh rules show up without waiting out the TTL.
func (c *Eligibility) Purge() {
	c.lru.Purge()
}

// cacheKey is order-insensitive: the same page requested with ids in a
// different order hits the same entry.
func cacheKey(productIDs, categoryIDs []string) string {
	p := slices.Clone(productIDs)
	q := slices.Clone(categoryIDs)
	slices.Sort(p)
	slices.Sort(q)
	return strings.Join(p, ",") + "|" + strings.Join(q, ",")
}
