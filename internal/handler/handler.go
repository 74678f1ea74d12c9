// Package handler exposes the promotions engine over HTTP: eligibility maps
// and price quotes for the storefront, coupon validation and reservations for
// checkout, and rule CRUD for administrators.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merchkit/promo-engine/internal/admin"
	"github.com/merchkit/promo-engine/internal/cache"
	"github.com/merchkit/promo-engine/internal/domain/catalog"
	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
	"github.com/merchkit/promo-engine/internal/domain/ledger"
	"github.com/merchkit/promo-engine/internal/domain/order"
)

// Handler holds every dependency the HTTP surface needs.
type Handler struct {
	products    catalog.Repository
	resolver    *discount.Resolver
	eligibility *cache.Eligibility
	validator   *coupon.Validator
	slots       ledger.Ledger
	orders      *order.Service
	rules       *admin.Service
}

// New constructs a Handler with the required domain dependencies.
func New(
	products catalog.Repository,
	resolver *discount.Resolver,
	eligibility *cache.Eligibility,
	validator *coupon.Validator,
	slots ledger.Ledger,
	orders *order.Service,
	rules *admin.Service,
) *Handler {
	return &Handler{
		products:    products,
		resolver:    resolver,
		eligibility: eligibility,
		validator:   validator,
		slots:       slots,
		orders:      orders,
		rules:       rules,
	}
}

// Routes builds the API router. Admin routes additionally require an API key
// carrying the admin scope; the auth middleware is supplied by the caller so
// transport wiring stays out of this package's tests.
func (h *Handler) Routes(adminAuth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/discounts", h.GetEligibility)
	r.Get("/products/{productID}/quote", h.GetQuote)

	r.Post("/coupons/validate", h.ValidateCoupon)

	r.Post("/reservations", h.CreateReservation)
	r.Post("/reservations/{token}/commit", h.CommitReservation)
	r.Post("/reservations/{token}/release", h.ReleaseReservation)

	r.Post("/orders", h.PlaceOrder)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth)
		r.Post("/discounts", h.CreateDiscount)
		r.Put("/discounts/{id}", h.UpdateDiscount)
		r.Delete("/discounts/{id}", h.DeleteDiscount)
		r.Post("/coupons", h.CreateCoupon)
		r.Put("/coupons/{id}", h.UpdateCoupon)
		r.Delete("/coupons/{id}", h.DeleteCoupon)
	})

	return r
}
