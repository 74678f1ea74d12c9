package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/promo-engine/internal/domain/ledger"
)

const (
	// The WHERE clause is the whole point: the limit check and the increment
	// are one statement, so two concurrent checkouts can never both take the
	// last slot. Row locking serializes per coupon id only.
	takeCouponSlotSQL = `UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	takeDiscountSlotSQL = `UPDATE discounts
		SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	returnCouponSlotSQL = `UPDATE coupons
		SET used_count = used_count - 1 WHERE id = $1 AND used_count > 0`

	returnDiscountSlotSQL = `UPDATE discounts
		SET usage_count = usage_count - 1 WHERE id = $1 AND usage_count > 0`

	couponUserLimitSQL = `SELECT user_usage_limit FROM coupons WHERE id = $1`

	discountExistsSQL = `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`

	// Conditional counted upsert: zero rows affected means the per-user limit
	// is already consumed.
	takeUserSlotSQL = `INSERT INTO rule_user_usage (rule_id, user_id, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (rule_id, user_id) DO UPDATE
		SET used_count = rule_user_usage.used_count + 1
		WHERE $3 = 0 OR rule_user_usage.used_count < $3`

	returnUserSlotSQL = `UPDATE rule_user_usage
		SET used_count = used_count - 1
		WHERE rule_id = $1 AND user_id = $2 AND used_count > 0`

	insertReservationSQL = `INSERT INTO reservations (token, rule_id, user_id, status, expires_at)
		VALUES ($1, $2, $3, 'pending', $4)`

	commitReservationSQL = `UPDATE reservations SET status = 'committed'
		WHERE token = $1 AND status = 'pending'`

	settleReservationSQL = `UPDATE reservations SET status = $2
		WHERE token = $1 AND status = 'pending'
		RETURNING rule_id, user_id`

	expiredReservationsSQL = `SELECT token FROM reservations
		WHERE status = 'pending' AND expires_at < $1`

	userCountSQL = `SELECT used_count FROM rule_user_usage
		WHERE rule_id = $1 AND user_id = $2`
)

var _ ledger.Ledger = (*UsageLedger)(nil)

// UsageLedger implements ledger.Ledger on PostgreSQL. A reservation increments
// the rule's counters inside one transaction; Commit marks it final and
// Release (or expiry reclamation) decrements them back.
type UsageLedger struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewUsageLedger returns a UsageLedger whose pending reservations expire
// after ttl.
func NewUsageLedger(pool *pgxpool.Pool, ttl time.Duration) *UsageLedger {
	return &UsageLedger{pool: pool, ttl: ttl, now: time.Now}
}

// Reserve atomically takes one redemption slot for the rule, which may be a
// coupon or a discount id. Returns ledger.ErrLimitReached when no slot
// remains and ledger.ErrConflict on a serialization race worth retrying.
func (l *UsageLedger) Reserve(ctx context.Context, ruleID, userID string) (*ledger.Reservation, error) {
	res := &ledger.Reservation{
		Token:     uuid.New().String(),
		RuleID:    ruleID,
		UserID:    userID,
		ExpiresAt: l.now().Add(l.ttl),
	}

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		isCoupon, err := l.takeGlobalSlot(ctx, tx, ruleID)
		if err != nil {
			return err
		}

		if isCoupon {
			if err := l.takeUserSlot(ctx, tx, ruleID, userID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, insertReservationSQL,
			res.Token, ruleID, userID, res.ExpiresAt); err != nil {
			return fmt.Errorf("inserting reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mapConflict(err)
	}
	return res, nil
}

// takeGlobalSlot increments the global usage counter of whichever rule table
// holds the id. Reports whether the rule is a coupon (and thus subject to
// per-user limits).
func (l *UsageLedger) takeGlobalSlot(ctx context.Context, tx pgx.Tx, ruleID string) (bool, error) {
	tag, err := tx.Exec(ctx, takeCouponSlotSQL, ruleID)
	if err != nil {
		return false, fmt.Errorf("taking coupon slot %q: %w", ruleID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Either the coupon limit is exhausted or the id belongs to a discount.
	var limit int32
	err = tx.QueryRow(ctx, couponUserLimitSQL, ruleID).Scan(&limit)
	if err == nil {
		return false, ledger.ErrLimitReached
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("checking coupon %q: %w", ruleID, err)
	}

	tag, err = tx.Exec(ctx, takeDiscountSlotSQL, ruleID)
	if err != nil {
		return false, fmt.Errorf("taking discount slot %q: %w", ruleID, err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, discountExistsSQL, ruleID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking discount %q: %w", ruleID, err)
	}
	if exists {
		return false, ledger.ErrLimitReached
	}
	return false, ledger.ErrReservationNotFound
}

func (l *UsageLedger) takeUserSlot(ctx context.Context, tx pgx.Tx, ruleID, userID string) error {
	var limit int32
	if err := tx.QueryRow(ctx, couponUserLimitSQL, ruleID).Scan(&limit); err != nil {
		return fmt.Errorf("reading user limit for %q: %w", ruleID, err)
	}

	tag, err := tx.Exec(ctx, takeUserSlotSQL, ruleID, userID, limit)
	if err != nil {
		return fmt.Errorf("taking user slot %q/%q: %w", ruleID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrLimitReached
	}
	return nil
}

// Commit finalizes a pending reservation. The counters already reflect it.
func (l *UsageLedger) Commit(ctx context.Context, token string) error {
	tag, err := l.pool.Exec(ctx, commitReservationSQL, token)
	if err != nil {
		return fmt.Errorf("committing reservation %q: %w", token, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrReservationNotFound
	}
	return nil
}

// Release returns a pending reservation's slot to the pool.
func (l *UsageLedger) Release(ctx context.Context, token string) error {
	return l.settle(ctx, token, "released")
}

// ReleaseExpired reclaims slots from reservations whose checkout never
// finished. Called periodically by the application.
func (l *UsageLedger) ReleaseExpired(ctx context.Context) (int, error) {
	rows, err := l.pool.Query(ctx, expiredReservationsSQL, l.now())
	if err != nil {
		return 0, fmt.Errorf("listing expired reservations: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var token string
		err := row.Scan(&token)
		return token, err
	})
	if err != nil {
		return 0, fmt.Errorf("listing expired reservations: %w", err)
	}

	released := 0
	for _, token := range tokens {
		err := l.settle(ctx, token, "expired")
		if errors.Is(err, ledger.ErrReservationNotFound) {
			continue // settled concurrently
		}
		if err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// settle moves a pending reservation to a terminal state and returns its slot.
func (l *UsageLedger) settle(ctx context.Context, token, status string) error {
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var ruleID, userID string
		err := tx.QueryRow(ctx, settleReservationSQL, token, status).Scan(&ruleID, &userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ledger.ErrReservationNotFound
			}
			return fmt.Errorf("settling reservation %q: %w", token, err)
		}

		tag, err := tx.Exec(ctx, returnCouponSlotSQL, ruleID)
		if err != nil {
			return fmt.Errorf("returning coupon slot %q: %w", ruleID, err)
		}
		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx, returnUserSlotSQL, ruleID, userID); err != nil {
				return fmt.Errorf("returning user slot %q/%q: %w", ruleID, userID, err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx, returnDiscountSlotSQL, ruleID); err != nil {
			return fmt.Errorf("returning discount slot %q: %w", ruleID, err)
		}
		return nil
	})
	return mapConflict(err)
}

// UserCount reports how many redemptions (committed plus pending) the user
// holds for the rule.
func (l *UsageLedger) UserCount(ctx context.Context, ruleID, userID string) (int, error) {
	var count int32
	err := l.pool.QueryRow(ctx, userCountSQL, ruleID, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("counting user usage %q/%q: %w", ruleID, userID, err)
	}
	return int(count), nil
}

// mapConflict converts PostgreSQL serialization and deadlock failures into
// ledger.ErrConflict so callers retry once with fresh data.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return ledger.ErrConflict
		}
	}
	return err
}
