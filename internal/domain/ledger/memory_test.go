package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ReserveCommit(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetLimits("c1", Limits{Global: 2})

	ctx := context.Background()

	r1, err := m.Reserve(ctx, "c1", "u1")
	require.NoError(t, err)
	require.NotEmpty(t, r1.Token)

	r2, err := m.Reserve(ctx, "c1", "u2")
	require.NoError(t, err)

	// Both slots held, the third reservation must fail even though nothing
	// has been committed yet.
	_, err = m.Reserve(ctx, "c1", "u3")
	require.ErrorIs(t, err, ErrLimitReached)

	require.NoError(t, m.Commit(ctx, r1.Token))
	require.NoError(t, m.Commit(ctx, r2.Token))

	_, err = m.Reserve(ctx, "c1", "u3")
	require.ErrorIs(t, err, ErrLimitReached)
}

func TestMemory_ReleaseReturnsSlot(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetLimits("c1", Limits{Global: 1})

	ctx := context.Background()

	r1, err := m.Reserve(ctx, "c1", "u1")
	require.NoError(t, err)

	_, err = m.Reserve(ctx, "c1", "u2")
	require.ErrorIs(t, err, ErrLimitReached)

	require.NoError(t, m.Release(ctx, r1.Token))

	_, err = m.Reserve(ctx, "c1", "u2")
	require.NoError(t, err)
}

func TestMemory_ExpiredReservationReclaimed(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetLimits("c1", Limits{Global: 1})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()

	_, err := m.Reserve(ctx, "c1", "u1")
	require.NoError(t, err)

	_, err = m.Reserve(ctx, "c1", "u2")
	require.ErrorIs(t, err, ErrLimitReached)

	// Past the TTL the abandoned slot is reclaimable by the next caller.
	now = now.Add(2 * time.Minute)

	_, err = m.Reserve(ctx, "c1", "u2")
	require.NoError(t, err)
}

func TestMemory_CommitUnknownToken(t *testing.T) {
	m := NewMemory(time.Minute)

	err := m.Commit(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrReservationNotFound)

	err = m.Release(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestMemory_CommitIsIdempotencyBoundary(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	r, err := m.Reserve(ctx, "c1", "u1")
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, r.Token))
	require.ErrorIs(t, m.Commit(ctx, r.Token), ErrReservationNotFound)
	require.ErrorIs(t, m.Release(ctx, r.Token), ErrReservationNotFound)
}

func TestMemory_PerUserLimit(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetLimits("c1", Limits{PerUser: 1})

	ctx := context.Background()

	r1, err := m.Reserve(ctx, "c1", "u1")
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, r1.Token))

	_, err = m.Reserve(ctx, "c1", "u1")
	require.ErrorIs(t, err, ErrLimitReached)

	// Other users are unaffected.
	_, err = m.Reserve(ctx, "c1", "u2")
	require.NoError(t, err)
}

func TestMemory_UserCountIncludesPending(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	n, err := m.UserCount(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r, err := m.Reserve(ctx, "c1", "u1")
	require.NoError(t, err)

	n, err = m.UserCount(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Commit(ctx, r.Token))

	n, err = m.UserCount(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemory_ConcurrentReserveNeverOversells(t *testing.T) {
	const (
		limit   = 10
		callers = 50
	)

	m := NewMemory(time.Minute)
	m.SetLimits("c1", Limits{Global: limit})

	var (
		wg        sync.WaitGroup
		wins      atomic.Int64
		rejected  atomic.Int64
		unexpect  atomic.Int64
		startLine = make(chan struct{})
	)

	for i := range callers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-startLine

			_, err := m.Reserve(context.Background(), "c1", "user")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrLimitReached):
				rejected.Add(1)
			default:
				unexpect.Add(1)
			}
		}(i)
	}

	close(startLine)
	wg.Wait()

	assert.Equal(t, int64(limit), wins.Load())
	assert.Equal(t, int64(callers-limit), rejected.Load())
	assert.Zero(t, unexpect.Load())
}

func TestMemory_UnrelatedRulesDoNotInterfere(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetLimits("c1", Limits{Global: 1})
	m.SetLimits("c2", Limits{Global: 1})

	ctx := context.Background()

	_, err := m.Reserve(ctx, "c1", "u1")
	require.NoError(t, err)

	_, err = m.Reserve(ctx, "c2", "u1")
	require.NoError(t, err)
}

type flakyLedger struct {
	Ledger
	failures int
	calls    int
}

func (f *flakyLedger) Reserve(ctx context.Context, ruleID, userID string) (*Reservation, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, ErrConflict
	}
	return f.Ledger.Reserve(ctx, ruleID, userID)
}

func TestReserveWithRetry(t *testing.T) {
	t.Run("retries once on conflict", func(t *testing.T) {
		inner := NewMemory(time.Minute)
		fl := &flakyLedger{Ledger: inner, failures: 1}

		res, err := ReserveWithRetry(context.Background(), fl, "c1", "u1")
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, 2, fl.calls)
	})

	t.Run("gives up after second conflict", func(t *testing.T) {
		inner := NewMemory(time.Minute)
		fl := &flakyLedger{Ledger: inner, failures: 2}

		_, err := ReserveWithRetry(context.Background(), fl, "c1", "u1")
		require.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, 2, fl.calls)
	})

	t.Run("limit errors are not retried", func(t *testing.T) {
		inner := NewMemory(time.Minute)
		inner.SetLimits("c2", Limits{Global: 1})

		_, err := inner.Reserve(context.Background(), "c2", "u1")
		require.NoError(t, err)

		fl := &flakyLedger{Ledger: inner}
		_, err = ReserveWithRetry(context.Background(), fl, "c2", "u1")
		require.ErrorIs(t, err, ErrLimitReached)
		assert.Equal(t, 1, fl.calls)
	})
}
