// Package health maintains the per-account reliability score used by
// the weighted strategy and for auto-disconnection.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/store"
)

const (
	// SuccessStep is added to the score on a successful outcome.
	SuccessStep = 0.05
	// FailureStep is subtracted on a failed outcome. Failures cost four
	// times what successes earn, so a flaky account decays fast.
	FailureStep = 0.2
	// DisconnectFloor is the score below which the account is pulled
	// from rotation as disconnected.
	DisconnectFloor = 0.1
)

// DisconnectEvent describes an account forced out of rotation because
// its score fell through the floor. Surfaced as a warning, not an error
// to the reporting caller.
type DisconnectEvent struct {
	AccountID string
	TenantID  string
	Platform  domain.Platform
	Score     float64
	At        time.Time
}

// Scorer applies outcome results to account health scores.
type Scorer struct {
	store store.AccountStore

	// onDisconnect, when set, receives health-driven disconnect events.
	onDisconnect func(DisconnectEvent)
}

// NewScorer creates a health scorer over the given store.
func NewScorer(s store.AccountStore) *Scorer {
	return &Scorer{store: s}
}

// OnDisconnect registers a hook for health-driven disconnections.
func (sc *Scorer) OnDisconnect(fn func(DisconnectEvent)) {
	sc.onDisconnect = fn
}

// Apply returns score moved one outcome step, clamped to [0, 1].
func Apply(score float64, success bool) float64 {
	if success {
		score += SuccessStep
		if score > 1 {
			score = 1
		}
		return score
	}
	score -= FailureStep
	if score < 0 {
		score = 0
	}
	return score
}

// OnOutcome folds one action result into the account's score and, when
// the score drops through the floor, transitions the account to
// disconnected. Write races with concurrent claims are retried with a
// fresh read.
func (sc *Scorer) OnOutcome(ctx context.Context, accountID string, success bool) error {
	const maxAttempts = 5

	for attempt := 0; attempt < maxAttempts; attempt++ {
		acct, err := sc.store.Get(ctx, accountID)
		if err != nil {
			return err
		}

		acct.HealthScore = Apply(acct.HealthScore, success)
		disconnect := !success && acct.HealthScore < DisconnectFloor && acct.Status == domain.StatusActive
		if disconnect {
			acct.Status = domain.StatusDisconnected
		}

		if err := sc.store.Update(ctx, acct); err != nil {
			if errors.Is(err, domain.ErrClaimConflict) {
				continue
			}
			return err
		}

		if disconnect {
			ev := DisconnectEvent{
				AccountID: acct.ID,
				TenantID:  acct.TenantID,
				Platform:  acct.Platform,
				Score:     acct.HealthScore,
				At:        time.Now().UTC(),
			}
			log.Warn().
				Str("account", ev.AccountID).
				Str("tenant", ev.TenantID).
				Str("platform", string(ev.Platform)).
				Float64("health_score", ev.Score).
				Msg("Account disconnected: health score below floor")
			if sc.onDisconnect != nil {
				sc.onDisconnect(ev)
			}
		}
		return nil
	}
	return domain.ErrClaimConflict
}
