package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/merchkit/promo-engine/internal/admin"
	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
)

// CreateDiscount validates and persists a new discount rule.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var in admin.DiscountInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	d, err := h.rules.CreateDiscount(r.Context(), in)
	if err != nil {
		h.respondRuleError(w, r, err)
		return
	}
	h.eligibility.Purge()

	var e jx.Encoder
	encodeDiscount(&e, d)
	respond(w, http.StatusCreated, &e)
}

// UpdateDiscount validates and replaces an existing discount rule.
func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	var in admin.DiscountInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	d, err := h.rules.UpdateDiscount(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.respondRuleError(w, r, err)
		return
	}
	h.eligibility.Purge()

	var e jx.Encoder
	encodeDiscount(&e, d)
	respond(w, http.StatusOK, &e)
}

// DeleteDiscount removes a discount rule. Placed orders keep their frozen
// totals regardless.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.DeleteDiscount(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondRuleError(w, r, err)
		return
	}
	h.eligibility.Purge()
	w.WriteHeader(http.StatusNoContent)
}

// CreateCoupon validates and persists a new coupon.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var in admin.CouponInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	c, err := h.rules.CreateCoupon(r.Context(), in)
	if err != nil {
		h.respondRuleError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeCoupon(&e, c)
	respond(w, http.StatusCreated, &e)
}

// UpdateCoupon validates and replaces an existing coupon, code excepted.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var in admin.CouponInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	c, err := h.rules.UpdateCoupon(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.respondRuleError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeCoupon(&e, c)
	respond(w, http.StatusOK, &e)
}

// DeleteCoupon removes a coupon.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.DeleteCoupon(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondRuleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondRuleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, admin.ErrInvalidRule):
		respondError(w, http.StatusUnprocessableEntity, "invalid_rule", err.Error())
	case errors.Is(err, coupon.ErrDuplicateCode):
		respondError(w, http.StatusConflict, "duplicate_code", "coupon code already exists")
	case errors.Is(err, discount.ErrNotFound), errors.Is(err, coupon.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "rule not found")
	default:
		respondInternal(w, r, err)
	}
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("type")
	e.Str(string(c.Type))
	e.FieldStart("value")
	money(e, c.Value)
	if c.MinOrderAmount.IsPositive() {
		e.FieldStart("minOrderAmount")
		money(e, c.MinOrderAmount)
	}
	if c.MaxDiscountAmount.IsPositive() {
		e.FieldStart("maxDiscountAmount")
		money(e, c.MaxDiscountAmount)
	}
	e.FieldStart("usageLimit")
	e.Int(c.UsageLimit)
	e.FieldStart("userUsageLimit")
	e.Int(c.UserUsageLimit)
	e.FieldStart("startsAt")
	timestamp(e, c.StartsAt)
	e.FieldStart("endsAt")
	timestamp(e, c.EndsAt)
	e.FieldStart("active")
	e.Bool(c.Active)
	e.ObjEnd()
}
