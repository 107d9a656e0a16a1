// Package selector implements the rotation core: given a pool of
// candidate accounts and a policy, deterministically pick one, claim it
// atomically, and return it, or explain exhaustion with a typed error.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/metrics"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/store"
	"github.com/sendloop/rotor/internal/usage"
)

// ReservationIssuer mints the token the outcome reporter later demands.
type ReservationIssuer interface {
	Issue(ctx context.Context, acct *domain.Account, action domain.ActionType) (*domain.Reservation, error)
}

// Selector is the scheduler core. Selection itself is read-only; only
// the claim step inside the usage tracker takes exclusivity, so any
// number of campaign workers can call Acquire concurrently.
type Selector struct {
	accounts store.AccountStore
	policies policy.Store
	tracker  *usage.Tracker
	cursors  CursorStore
	issuer   ReservationIssuer
	metrics  *metrics.Registry
	now      func() time.Time

	randMu sync.Mutex
	rands  map[string]*rand.Rand
}

// New creates a selector over the given collaborators. metrics may be
// nil.
func New(accounts store.AccountStore, policies policy.Store, tracker *usage.Tracker, cursors CursorStore, issuer ReservationIssuer, m *metrics.Registry) *Selector {
	return &Selector{
		accounts: accounts,
		policies: policies,
		tracker:  tracker,
		cursors:  cursors,
		issuer:   issuer,
		metrics:  m,
		now:      time.Now,
		rands:    make(map[string]*rand.Rand),
	}
}

// WithClock overrides the clock source. Tests only.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	s.tracker.WithClock(now)
	return s
}

// Acquire picks and atomically claims one eligible account for the
// action. It never blocks waiting for a cooldown: exhaustion returns
// immediately with a retry-after hint and the caller owns backoff.
//
// Errors: domain.ErrNoActiveAccounts, *domain.PoolExhaustedError,
// *domain.PolicyConfigError.
func (s *Selector) Acquire(ctx context.Context, tenantID string, platform domain.Platform, action domain.ActionType) (*domain.Account, *domain.Reservation, error) {
	started := s.now()
	acct, res, err := s.acquire(ctx, tenantID, platform, action)
	s.observe(platform, started, err)
	return acct, res, err
}

func (s *Selector) acquire(ctx context.Context, tenantID string, platform domain.Platform, action domain.ActionType) (*domain.Account, *domain.Reservation, error) {
	p, err := s.policies.Get(ctx, tenantID, platform)
	if err != nil {
		return nil, nil, fmt.Errorf("load policy: %w", err)
	}
	if !p.Enabled {
		return nil, nil, &domain.PolicyConfigError{Reason: fmt.Sprintf("rotation disabled for %s/%s", tenantID, platform)}
	}
	if _, err := p.LimitFor(action); err != nil {
		return nil, nil, err
	}

	pool, err := s.accounts.List(ctx, tenantID, platform)
	if err != nil {
		return nil, nil, fmt.Errorf("load pool: %w", err)
	}

	candidates, active, err := s.filter(pool, action, p)
	if err != nil {
		return nil, nil, err
	}
	if active == 0 {
		return nil, nil, domain.ErrNoActiveAccounts
	}
	if s.metrics != nil {
		s.metrics.CandidatePool.WithLabelValues(tenantID, string(platform)).Set(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		return nil, nil, s.exhausted(tenantID, platform, action, pool, p)
	}

	// Bounded retry: each failed claim removes one candidate, so at
	// most len(candidates) attempts before declaring exhaustion.
	for len(candidates) > 0 {
		winner := s.pick(pool, candidates, p, action, s.now())

		claimed, err := s.tracker.ClaimAndIncrement(ctx, winner.ID, action, p)
		if err != nil {
			var inel *usage.IneligibleError
			switch {
			case errors.As(err, &inel), errors.Is(err, domain.ErrClaimConflict):
				// Another worker raced ahead; drop this candidate and
				// rerun the strategy on the remainder.
				if s.metrics != nil {
					if errors.Is(err, domain.ErrClaimConflict) {
						s.metrics.ClaimConflicts.Inc()
					}
					s.metrics.ClaimRetries.Inc()
				}
				candidates = without(candidates, winner.ID)
				continue
			default:
				return nil, nil, err
			}
		}

		if p.Strategy == domain.StrategySequential {
			s.cursors.Commit(tenantID, platform, claimed.ID, p.SwitchAfterActions)
		}

		res, err := s.issuer.Issue(ctx, claimed, action)
		if err != nil {
			return nil, nil, fmt.Errorf("issue reservation: %w", err)
		}

		log.Debug().
			Str("tenant", tenantID).
			Str("platform", string(platform)).
			Str("action", string(action)).
			Str("account", claimed.ID).
			Str("strategy", string(p.Strategy)).
			Msg("Account acquired")
		return claimed, res, nil
	}

	// Everything we could see got claimed away: recompute exhaustion
	// from a fresh pool read so retry-after reflects reality.
	pool, err = s.accounts.List(ctx, tenantID, platform)
	if err != nil {
		return nil, nil, fmt.Errorf("load pool: %w", err)
	}
	return nil, nil, s.exhausted(tenantID, platform, action, pool, p)
}

// filter splits the pool into eligible candidates and counts active
// accounts.
func (s *Selector) filter(pool []*domain.Account, action domain.ActionType, p *domain.RotationPolicy) ([]*domain.Account, int, error) {
	var candidates []*domain.Account
	active := 0
	for _, a := range pool {
		if a.Status == domain.StatusActive {
			active++
		}
		r, err := s.tracker.Check(a, action, p)
		if err != nil {
			return nil, 0, err
		}
		if r == usage.Eligible {
			candidates = append(candidates, a)
		}
	}
	return candidates, active, nil
}

// exhausted builds the typed pool-exhaustion error. Retry-after is the
// earliest cooldown expiry among active accounts, or the next UTC
// midnight when only daily limits stand in the way. AutoSwitchOnLimit
// never manufactures eligibility; it only tells the dispatcher whether
// this exhaustion is transient.
func (s *Selector) exhausted(tenantID string, platform domain.Platform, action domain.ActionType, pool []*domain.Account, p *domain.RotationPolicy) error {
	now := s.now()
	limitedOnly := true
	var earliestCooldown time.Time

	for _, a := range pool {
		if a.Status != domain.StatusActive {
			continue
		}
		if a.InCooldown(now) {
			limitedOnly = false
			if earliestCooldown.IsZero() || a.CooldownUntil.Before(earliestCooldown) {
				earliestCooldown = *a.CooldownUntil
			}
		}
	}

	retryAfter := nextUTCMidnight(now)
	if !earliestCooldown.IsZero() && earliestCooldown.Before(retryAfter) {
		retryAfter = earliestCooldown
	}

	cause := "daily_limit"
	if !limitedOnly {
		cause = "cooldown"
	}
	if s.metrics != nil {
		s.metrics.PoolExhausted.WithLabelValues(string(platform), cause).Inc()
	}

	log.Info().
		Str("tenant", tenantID).
		Str("platform", string(platform)).
		Str("action", string(action)).
		Str("cause", cause).
		Time("retry_after", retryAfter).
		Bool("auto_switch_on_limit", p.AutoSwitchOnLimit).
		Msg("Account pool exhausted")

	return &domain.PoolExhaustedError{
		TenantID:    tenantID,
		Platform:    platform,
		Action:      action,
		RetryAfter:  retryAfter,
		LimitedOnly: limitedOnly,
	}
}

func (s *Selector) observe(platform domain.Platform, started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case domain.IsPoolExhausted(err):
		result = "exhausted"
	case errors.Is(err, domain.ErrNoActiveAccounts):
		result = "no_active_accounts"
	case domain.IsPolicyConfig(err):
		result = "invalid_policy"
	default:
		result = "error"
	}
	s.metrics.AcquireTotal.WithLabelValues(string(platform), result).Inc()
	s.metrics.AcquireDuration.WithLabelValues(string(platform)).Observe(s.now().Sub(started).Seconds())
}

func without(accounts []*domain.Account, id string) []*domain.Account {
	out := accounts[:0]
	for _, a := range accounts {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
