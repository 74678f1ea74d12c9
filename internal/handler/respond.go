package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// respond writes the encoder's buffer as a JSON response. Encoding happens
// fully in memory first, so a failed handler never emits a half-written body.
func respond(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// respondError writes a JSON error body with a machine-readable reason code
// and a human-readable message.
func respondError(w http.ResponseWriter, status int, reason, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("reason")
	e.Str(reason)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	respond(w, status, &e)
}

// respondInternal logs the error and writes an opaque 500. Store failures on
// the checkout path land here: money correctness beats availability.
func respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// money encodes a monetary amount as a JSON number with exactly two decimal
// places.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

// timestamp encodes a time in RFC 3339.
func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}
