// Package usage owns the "is this account usable right now" computation
// and the atomic claim that reserves one quota unit. The daily rollover
// is lazy: a counter stamped with a previous UTC day reads as zero and
// is rewritten inside the same compare-and-swap claim, so no background
// reset job can race a claim.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/store"
)

// Ineligibility explains why an account was filtered out of the
// candidate set. The selector uses it to pick the right exhaustion
// error and compute retry-after.
type Ineligibility int

const (
	Eligible Ineligibility = iota
	NotActive
	InCooldown
	OverDailyLimit
)

func (r Ineligibility) String() string {
	switch r {
	case Eligible:
		return "eligible"
	case NotActive:
		return "not_active"
	case InCooldown:
		return "in_cooldown"
	case OverDailyLimit:
		return "over_daily_limit"
	default:
		return "unknown"
	}
}

// Tracker performs eligibility checks and atomic claims against an
// account store.
type Tracker struct {
	store store.AccountStore
	now   func() time.Time
}

// NewTracker creates a usage tracker over the given store.
func NewTracker(s store.AccountStore) *Tracker {
	return &Tracker{store: s, now: time.Now}
}

// WithClock overrides the clock source. Tests only.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Check classifies the account against policy for action at the
// tracker's current time.
func (t *Tracker) Check(acct *domain.Account, action domain.ActionType, p *domain.RotationPolicy) (Ineligibility, error) {
	limit, err := p.LimitFor(action)
	if err != nil {
		return NotActive, err
	}

	now := t.now()
	if acct.Status != domain.StatusActive {
		return NotActive, nil
	}
	if acct.InCooldown(now) {
		return InCooldown, nil
	}
	if acct.CounterFor(action, now) >= limit {
		return OverDailyLimit, nil
	}
	return Eligible, nil
}

// EligibleNow reports whether the account can take one more action of
// the given type right now.
func (t *Tracker) EligibleNow(acct *domain.Account, action domain.ActionType, p *domain.RotationPolicy) bool {
	r, err := t.Check(acct, action, p)
	return err == nil && r == Eligible
}

// ClaimAndIncrement is the only mutating entry point. It re-reads the
// account, re-checks eligibility at the moment of increment, bumps the
// daily counter (resetting it first when the stored day stamp is
// stale), stamps last-action time and any policy cooldown, and writes
// everything back in a single version-checked update.
//
// Returns the claimed account snapshot, or domain.ErrClaimConflict when
// concurrent claims kept winning the version race, or *IneligibleError
// when the account became unusable between selection and claim. Version
// conflicts are retried here with a fresh read, so a conflict only
// escapes under sustained contention.
func (t *Tracker) ClaimAndIncrement(ctx context.Context, accountID string, action domain.ActionType, p *domain.RotationPolicy) (*domain.Account, error) {
	const maxAttempts = 8

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		acct, err := t.store.Get(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}

		reason, err := t.Check(acct, action, p)
		if err != nil {
			return nil, err
		}
		if reason != Eligible {
			return nil, &IneligibleError{AccountID: accountID, Reason: reason}
		}

		now := t.now()
		day := domain.DayStamp(now)
		dc := acct.DailyCounters[action]
		if dc.Day != day {
			dc = domain.DayCount{Day: day}
		}
		dc.Count++
		acct.DailyCounters[action] = dc

		ts := now.UTC()
		acct.LastActionAt = &ts

		if p.AppliesCooldown() {
			until := now.UTC().Add(time.Duration(p.CooldownMinutes) * time.Minute)
			acct.CooldownUntil = &until
		}

		if err := t.store.Update(ctx, acct); err != nil {
			if errors.Is(err, domain.ErrClaimConflict) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("claim write: %w", err)
		}

		log.Debug().
			Str("account", acct.ID).
			Str("action", string(action)).
			Int("count", dc.Count).
			Str("day", day).
			Msg("Quota unit claimed")
		return acct, nil
	}
	return nil, lastErr
}

// IneligibleError reports that an account failed the claim-time
// eligibility re-check.
type IneligibleError struct {
	AccountID string
	Reason    Ineligibility
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("account %s ineligible: %s", e.AccountID, e.Reason)
}
