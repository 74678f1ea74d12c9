package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/merchkit/promo-engine/internal/domain/ledger"
	"github.com/merchkit/promo-engine/internal/domain/order"
)

type placeOrderRequest struct {
	Items      []orderItemRequest `json:"items"`
	CouponCode string             `json:"couponCode"`
	UserID     string             `json:"userId"`
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PlaceOrder runs the checkout sequence and returns the frozen order record.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	o, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Items:      items,
		CouponCode: req.CouponCode,
		UserID:     req.UserID,
	})
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, line := range o.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(line.ProductID)
		e.FieldStart("quantity")
		e.Int(line.Quantity)
		e.FieldStart("unitPrice")
		money(&e, line.UnitPrice)
		e.FieldStart("finalUnitPrice")
		money(&e, line.FinalUnitPrice)
		if line.DiscountID != "" {
			e.FieldStart("discountId")
			e.Str(line.DiscountID)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("subtotal")
	money(&e, o.Totals.Subtotal)
	e.FieldStart("productDiscountTotal")
	money(&e, o.Totals.ProductDiscountTotal)
	e.FieldStart("couponDiscount")
	money(&e, o.Totals.CouponDiscount)
	e.FieldStart("total")
	money(&e, o.Totals.Total)
	e.ObjEnd()
	respond(w, http.StatusCreated, &e)
}

// respondOrderError maps checkout failures onto response codes: malformed
// input is 400, unprocessable carts and rejected coupons are 422, exhausted
// redemption slots are 409, everything else is a loud 500.
func (h *Handler) respondOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrNoUser):
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, ledger.ErrLimitReached), errors.Is(err, ledger.ErrConflict):
		respondError(w, http.StatusConflict, "limit_reached", "no redemption slot available")
		return
	}

	var iqErr *order.InvalidQuantityError
	if errors.As(err, &iqErr) {
		respondError(w, http.StatusUnprocessableEntity, "invalid_quantity", iqErr.Error())
		return
	}
	var pnfErr *order.ProductNotFoundError
	if errors.As(err, &pnfErr) {
		respondError(w, http.StatusUnprocessableEntity, "product_not_found", pnfErr.Error())
		return
	}

	if reason, ok := rejectionReason(err); ok {
		respondError(w, http.StatusUnprocessableEntity, reason, err.Error())
		return
	}

	respondInternal(w, r, err)
}
