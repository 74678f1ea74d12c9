package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Limits holds the redemption caps for a single rule. Zero means unlimited.
type Limits struct {
	Global  int
	PerUser int
}

// Memory is an in-process Ledger implementation. It backs unit tests and
// single-node deployments that run without a database; the check-and-increment
// race is closed with a plain mutex.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu            sync.Mutex
	limits        map[string]Limits
	committed     map[string]int
	userCommitted map[userKey]int
	pending       map[string]Reservation
}

type userKey struct {
	ruleID string
	userID string
}

// NewMemory creates a Memory ledger whose pending reservations expire after
// ttl. Rule limits are registered with SetLimits.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:           ttl,
		now:           time.Now,
		limits:        make(map[string]Limits),
		committed:     make(map[string]int),
		userCommitted: make(map[userKey]int),
		pending:       make(map[string]Reservation),
	}
}

// SetLimits registers the redemption caps for a rule id.
func (m *Memory) SetLimits(ruleID string, l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[ruleID] = l
}

// Reserve holds one redemption slot for the rule, if any remains.
func (m *Memory) Reserve(_ context.Context, ruleID, userID string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneExpiredLocked(now)

	limits := m.limits[ruleID]

	if limits.Global > 0 {
		if m.committed[ruleID]+m.pendingCountLocked(ruleID, "") >= limits.Global {
			return nil, ErrLimitReached
		}
	}
	if limits.PerUser > 0 {
		held := m.userCommitted[userKey{ruleID, userID}] + m.pendingCountLocked(ruleID, userID)
		if held >= limits.PerUser {
			return nil, ErrLimitReached
		}
	}

	res := Reservation{
		Token:     uuid.New().String(),
		RuleID:    ruleID,
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl),
	}
	m.pending[res.Token] = res
	return &res, nil
}

// Commit finalizes a pending reservation.
func (m *Memory) Commit(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.pending[token]
	if !ok {
		return ErrReservationNotFound
	}
	delete(m.pending, token)
	m.committed[res.RuleID]++
	m.userCommitted[userKey{res.RuleID, res.UserID}]++
	return nil
}

// Release returns a pending reservation's slot.
func (m *Memory) Release(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[token]; !ok {
		return ErrReservationNotFound
	}
	delete(m.pending, token)
	return nil
}

// UserCount reports committed plus live pending redemptions for the user.
func (m *Memory) UserCount(_ context.Context, ruleID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneExpiredLocked(m.now())
	return m.userCommitted[userKey{ruleID, userID}] + m.pendingCountLocked(ruleID, userID), nil
}

// pendingCountLocked counts live pending reservations for a rule, optionally
// narrowed to one user. Caller must hold mu.
func (m *Memory) pendingCountLocked(ruleID, userID string) int {
	n := 0
	for _, res := range m.pending {
		if res.RuleID != ruleID {
			continue
		}
		if userID != "" && res.UserID != userID {
			continue
		}
		n++
	}
	return n
}

// pruneExpiredLocked reclaims slots from reservations past their expiry.
// Caller must hold mu.
func (m *Memory) pruneExpiredLocked(now time.Time) {
	for token, res := range m.pending {
		if now.After(res.ExpiresAt) {
			delete(m.pending, token)
		}
	}
}
