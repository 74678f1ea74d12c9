package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/merchkit/promo-engine/internal/domain/catalog"
	"github.com/merchkit/promo-engine/internal/domain/discount"
)

// GetEligibility returns the bulk discount map for one catalog page render.
// This is the fail-open display path: when the rule store is down the
// response is an empty map, never an error.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	productIDs := splitIDs(r.URL.Query().Get("product_ids"))
	categoryIDs := splitIDs(r.URL.Query().Get("category_ids"))

	m := h.eligibility.BuildMap(r.Context(), productIDs, categoryIDs)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("all")
	encodeDiscounts(&e, m.All)
	e.FieldStart("byProduct")
	e.ObjStart()
	for _, id := range productIDs {
		if ds, ok := m.ByProduct[id]; ok {
			e.FieldStart(id)
			encodeDiscounts(&e, ds)
		}
	}
	e.ObjEnd()
	e.FieldStart("byCategory")
	e.ObjStart()
	for _, id := range categoryIDs {
		if ds, ok := m.ByCategory[id]; ok {
			e.FieldStart(id)
			encodeDiscounts(&e, ds)
		}
	}
	e.ObjEnd()
	e.ObjEnd()

	respond(w, http.StatusOK, &e)
}

// GetQuote returns the discounted display price for a single product.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	p, err := h.products.GetByID(r.Context(), productID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "product not found")
			return
		}
		respondInternal(w, r, err)
		return
	}

	applicable := h.resolver.ActiveFor(r.Context(), p.ID, p.CategoryID)
	quote := discount.Price(p.Price, applicable)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("productId")
	e.Str(p.ID)
	e.FieldStart("price")
	money(&e, p.Price)
	e.FieldStart("finalPrice")
	money(&e, quote.FinalPrice)
	e.FieldStart("hasDiscount")
	e.Bool(quote.HasDiscount)
	if quote.HasDiscount {
		e.FieldStart("percentOff")
		e.Int64(quote.PercentOff)
		e.FieldStart("savings")
		money(&e, quote.Savings)
		e.FieldStart("discountId")
		e.Str(quote.Chosen.ID)
	}
	e.ObjEnd()

	respond(w, http.StatusOK, &e)
}

func encodeDiscounts(e *jx.Encoder, ds []discount.Discount) {
	e.ArrStart()
	for i := range ds {
		encodeDiscount(e, &ds[i])
	}
	e.ArrEnd()
}

func encodeDiscount(e *jx.Encoder, d *discount.Discount) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(d.ID)
	e.FieldStart("name")
	e.Str(d.Name)
	e.FieldStart("description")
	e.Str(d.Description)
	e.FieldStart("type")
	e.Str(string(d.Type))
	e.FieldStart("value")
	money(e, d.Value)
	if d.MaxDiscountAmount.IsPositive() {
		e.FieldStart("maxDiscountAmount")
		money(e, d.MaxDiscountAmount)
	}
	e.FieldStart("endsAt")
	timestamp(e, d.EndsAt)
	e.ObjEnd()
}

// splitIDs parses a comma-separated id list, dropping empty segments.
func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
