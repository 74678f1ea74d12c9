// Package ledger tracks coupon and discount redemption counts and hands out
// redemption slots through an atomic reserve/commit/release protocol. Reserve
// is the only contention-sensitive mutation in the whole engine: two
// concurrent checkouts must never both win the last slot.
package ledger

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrLimitReached is returned when no redemption slot remains, globally
	// or for this user.
	ErrLimitReached = errors.New("redemption limit reached")
	// ErrConflict is returned when a reservation attempt lost a race and may
	// succeed on retry with fresh data.
	ErrConflict = errors.New("concurrent reservation conflict")
	// ErrReservationNotFound is returned by Commit and Release for unknown or
	// already-settled tokens.
	ErrReservationNotFound = errors.New("reservation not found")
)

// Reservation is a held redemption slot. It counts against the rule's limits
// immediately; Commit finalizes it when the order is confirmed and Release
// returns the slot if the order falls through. Reservations left pending past
// ExpiresAt are reclaimed so a crashed checkout cannot strand a slot forever.
type Reservation struct {
	Token     string
	RuleID    string
	UserID    string
	ExpiresAt time.Time
}

// Ledger is the redemption slot accounting contract. Reserve must perform its
// limit check and increment as one indivisible operation, serialized per rule
// id only — unrelated coupons must not block each other.
type Ledger interface {
	Reserve(ctx context.Context, ruleID, userID string) (*Reservation, error)
	Commit(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
	// UserCount reports committed plus pending redemptions for a user.
	UserCount(ctx context.Context, ruleID, userID string) (int, error)
}

// ReserveWithRetry reserves a slot, retrying exactly once on ErrConflict.
// A conflict can be a transient race rather than genuine exhaustion, so one
// retry with fresh data runs before the error reaches the user.
func ReserveWithRetry(ctx context.Context, l Ledger, ruleID, userID string) (*Reservation, error) {
	res, err := l.Reserve(ctx, ruleID, userID)
	if errors.Is(err, ErrConflict) {
		res, err = l.Reserve(ctx, ruleID, userID)
	}
	return res, err
}
