package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/merchkit/promo-engine/internal/domain/ledger"
)

type createReservationRequest struct {
	CouponID string `json:"couponId"`
	UserID   string `json:"userId"`
}

// CreateReservation atomically holds one redemption slot for a coupon.
// Exhausted limits answer 409; a lost race is retried once internally before
// surfacing as 409 too.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.CouponID == "" || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "couponId and userId are required")
		return
	}

	res, err := ledger.ReserveWithRetry(r.Context(), h.slots, req.CouponID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrLimitReached), errors.Is(err, ledger.ErrConflict):
			respondError(w, http.StatusConflict, "limit_reached", "no redemption slot available")
		case errors.Is(err, ledger.ErrReservationNotFound):
			respondError(w, http.StatusNotFound, "not_found", "unknown coupon or discount id")
		default:
			respondInternal(w, r, err)
		}
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("reservationToken")
	e.Str(res.Token)
	e.FieldStart("expiresAt")
	timestamp(&e, res.ExpiresAt)
	e.ObjEnd()
	respond(w, http.StatusCreated, &e)
}

// CommitReservation finalizes a pending reservation once its order is
// confirmed.
func (h *Handler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	h.settleReservation(w, r, h.slots.Commit)
}

// ReleaseReservation returns a pending reservation's slot, e.g. after a
// declined payment.
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	h.settleReservation(w, r, h.slots.Release)
}

func (h *Handler) settleReservation(w http.ResponseWriter, r *http.Request, settle func(ctx context.Context, token string) error) {
	token := chi.URLParam(r, "token")

	if err := settle(r.Context(), token); err != nil {
		if errors.Is(err, ledger.ErrReservationNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "reservation not found")
			return
		}
		respondInternal(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
