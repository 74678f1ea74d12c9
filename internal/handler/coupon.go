package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/cart"
	"github.com/merchkit/promo-engine/internal/domain/coupon"
)

type cartLineRequest struct {
	ProductID  string          `json:"productId"`
	CategoryID string          `json:"categoryId"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
}

type validateCouponRequest struct {
	Code   string            `json:"code"`
	Cart   []cartLineRequest `json:"cart"`
	UserID string            `json:"userId"`
}

// rejectionReason maps validation sentinels to wire-level reason codes. The
// storefront shows one user-facing message per code.
func rejectionReason(err error) (string, bool) {
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		return "not_found", true
	case errors.Is(err, coupon.ErrNotYetActive):
		return "not_yet_active", true
	case errors.Is(err, coupon.ErrExpired):
		return "expired", true
	case errors.Is(err, coupon.ErrGlobalLimitReached):
		return "global_limit_reached", true
	case errors.Is(err, coupon.ErrUserLimitReached):
		return "user_limit_reached", true
	case errors.Is(err, coupon.ErrNotApplicableToCart):
		return "not_applicable_to_cart", true
	case errors.Is(err, coupon.ErrBelowMinimumOrder):
		return "below_minimum_order", true
	}
	return "", false
}

// ValidateCoupon checks a submitted code against a cart snapshot. Rejections
// are normal responses with a reason code, not errors; only store failures
// become 5xx, because checkout must not silently proceed on stale rule data.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Code == "" || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "code and userId are required")
		return
	}

	lines := make(cart.Snapshot, len(req.Cart))
	for i, l := range req.Cart {
		lines[i] = cart.Line{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			UnitPrice:  l.UnitPrice,
			Quantity:   l.Quantity,
		}
	}

	result, err := h.validator.Validate(r.Context(), req.Code, lines, req.UserID)
	if err != nil {
		if reason, ok := rejectionReason(err); ok {
			var e jx.Encoder
			e.ObjStart()
			e.FieldStart("valid")
			e.Bool(false)
			e.FieldStart("reason")
			e.Str(reason)
			e.FieldStart("message")
			e.Str(err.Error())
			e.ObjEnd()
			respond(w, http.StatusOK, &e)
			return
		}
		respondInternal(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("valid")
	e.Bool(true)
	e.FieldStart("discountAmount")
	money(&e, result.Amount)
	e.FieldStart("coupon")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(result.Coupon.ID)
	e.FieldStart("code")
	e.Str(result.Coupon.Code)
	e.FieldStart("description")
	e.Str(result.Coupon.Description)
	e.ObjEnd()
	e.ObjEnd()
	respond(w, http.StatusOK, &e)
}
