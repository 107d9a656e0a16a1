// Package outcome closes the loop: platform adapters report what
// happened to a claimed action, and the report updates health scores
// and account status. A reservation ledger fences double reporting.
package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sendloop/rotor/internal/domain"
)

// DefaultTokenTTL bounds how long an unreported reservation stays
// consumable. Adapters that never report simply let the token lapse.
const DefaultTokenTTL = 24 * time.Hour

// Ledger issues reservation tokens at claim time and consumes them
// exactly once at report time.
type Ledger interface {
	Issue(ctx context.Context, acct *domain.Account, action domain.ActionType) (*domain.Reservation, error)

	// Consume retires the token and returns its reservation, or a
	// *domain.TokenError when the token is unknown, expired, or already
	// consumed.
	Consume(ctx context.Context, token string) (*domain.Reservation, error)
}

// MemoryLedger is the in-process reservation ledger.
type MemoryLedger struct {
	mu     sync.Mutex
	open   map[string]*domain.Reservation
	expiry map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryLedger creates a ledger with the default token TTL.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		open:   make(map[string]*domain.Reservation),
		expiry: make(map[string]time.Time),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
}

// WithTTL overrides the token TTL.
func (l *MemoryLedger) WithTTL(ttl time.Duration) *MemoryLedger {
	l.ttl = ttl
	return l
}

// WithClock overrides the clock source. Tests only.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

// Issue mints a single-use reservation token for the claimed account.
func (l *MemoryLedger) Issue(ctx context.Context, acct *domain.Account, action domain.ActionType) (*domain.Reservation, error) {
	res := &domain.Reservation{
		Token:     uuid.NewString(),
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		Platform:  acct.Platform,
		Action:    action,
		IssuedAt:  l.now().UTC(),
	}

	l.mu.Lock()
	l.open[res.Token] = res
	l.expiry[res.Token] = res.IssuedAt.Add(l.ttl)
	l.mu.Unlock()
	return res, nil
}

// Consume retires the token, exactly once.
func (l *MemoryLedger) Consume(ctx context.Context, token string) (*domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.open[token]
	if !ok {
		return nil, &domain.TokenError{Token: token, Reason: "unknown or already consumed"}
	}
	if l.now().After(l.expiry[token]) {
		delete(l.open, token)
		delete(l.expiry, token)
		return nil, &domain.TokenError{Token: token, Reason: "expired"}
	}
	delete(l.open, token)
	delete(l.expiry, token)
	return res, nil
}
