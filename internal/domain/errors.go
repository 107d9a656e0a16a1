package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the engine.
var (
	// ErrNoActiveAccounts means the pool has zero active accounts at all.
	// This is a configuration problem: the user needs to add or reconnect
	// an account.
	ErrNoActiveAccounts = errors.New("no active accounts in pool")

	// ErrClaimConflict is returned by a store when a compare-and-swap
	// write lost a race. It is retried internally and never surfaced to
	// callers.
	ErrClaimConflict = errors.New("claim conflict: account modified concurrently")

	// ErrNotFound is returned when an account or policy does not exist.
	ErrNotFound = errors.New("not found")
)

// PoolExhaustedError means every active account is over its daily limit
// or resting in cooldown. RetryAfter is the earliest moment the pool can
// recover: the minimum cooldown expiry, or the next UTC midnight when
// only daily limits are in the way.
type PoolExhaustedError struct {
	TenantID   string
	Platform   Platform
	Action     ActionType
	RetryAfter time.Time

	// LimitedOnly is true when exhaustion comes purely from daily limits
	// (no cooldowns involved). Paired with RotationPolicy.AutoSwitchOnLimit
	// it drives the dispatcher's pause-or-requeue decision.
	LimitedOnly bool
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("account pool exhausted for %s/%s action %s, retry after %s",
		e.TenantID, e.Platform, e.Action, e.RetryAfter.UTC().Format(time.RFC3339))
}

// PolicyConfigError marks a malformed or incomplete rotation policy.
type PolicyConfigError struct {
	Reason string
}

func (e *PolicyConfigError) Error() string {
	return "invalid policy config: " + e.Reason
}

// TokenError marks a reservation token that is unknown, expired, or
// already consumed.
type TokenError struct {
	Token  string
	Reason string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("reservation token %s: %s", e.Token, e.Reason)
}

// IsPoolExhausted reports whether err is a pool exhaustion error.
func IsPoolExhausted(err error) bool {
	var pe *PoolExhaustedError
	return errors.As(err, &pe)
}

// IsPolicyConfig reports whether err is a policy configuration error.
func IsPolicyConfig(err error) bool {
	var pc *PolicyConfigError
	return errors.As(err, &pc)
}
