package domain

import "fmt"

// Strategy names the rotation algorithm used to pick one account from
// the eligible candidates.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyRandom     Strategy = "random"
	StrategyLeastUsed  Strategy = "least_used"
	StrategyCooldown   Strategy = "cooldown"
	StrategyWeighted   Strategy = "weighted"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyRandom, StrategyLeastUsed, StrategyCooldown, StrategyWeighted:
		return true
	}
	return false
}

// RotationPolicy is the per tenant+platform rotation configuration.
// It is mutated only through explicit configuration calls, never by the
// selector.
type RotationPolicy struct {
	TenantID string   `json:"tenant_id" yaml:"tenant_id" db:"tenant_id"`
	Platform Platform `json:"platform" yaml:"platform" db:"platform"`

	Enabled  bool     `json:"enabled" yaml:"enabled" db:"enabled"`
	Strategy Strategy `json:"strategy" yaml:"strategy" db:"strategy"`

	// SwitchAfterActions rotates the sequential cursor after N consecutive
	// claims of the same account. Ignored by other strategies.
	SwitchAfterActions int `json:"switch_after_actions" yaml:"switch_after_actions" db:"switch_after_actions"`

	// CooldownMinutes is the rest window stamped on an account after a
	// claim. Zero disables per-claim cooldown except under the cooldown
	// strategy, which requires it.
	CooldownMinutes int `json:"cooldown_minutes" yaml:"cooldown_minutes" db:"cooldown_minutes"`

	DailyLimits map[ActionType]int `json:"daily_limits" yaml:"daily_limits" db:"-"`

	// AutoSwitchOnLimit tells the dispatcher whether pool exhaustion from
	// daily limits is transient (retry later) or should pause the campaign.
	AutoSwitchOnLimit bool `json:"auto_switch_on_limit" yaml:"auto_switch_on_limit" db:"auto_switch_on_limit"`

	Version int64 `json:"version" db:"version"`
}

// Validate rejects malformed policies at save time rather than at
// selection time.
func (p *RotationPolicy) Validate() error {
	if p.TenantID == "" {
		return &PolicyConfigError{Reason: "tenant id is required"}
	}
	if p.Platform == "" {
		return &PolicyConfigError{Reason: "platform is required"}
	}
	if !p.Strategy.Valid() {
		return &PolicyConfigError{Reason: fmt.Sprintf("unknown strategy %q", p.Strategy)}
	}
	if p.Strategy == StrategySequential && p.SwitchAfterActions < 1 {
		return &PolicyConfigError{Reason: "sequential strategy requires switch_after_actions >= 1"}
	}
	if p.Strategy == StrategyCooldown && p.CooldownMinutes < 1 {
		return &PolicyConfigError{Reason: "cooldown strategy requires cooldown_minutes >= 1"}
	}
	if p.CooldownMinutes < 0 {
		return &PolicyConfigError{Reason: "cooldown_minutes cannot be negative"}
	}
	if len(p.DailyLimits) == 0 {
		return &PolicyConfigError{Reason: "daily_limits must define at least one action type"}
	}
	for action, limit := range p.DailyLimits {
		if limit < 1 {
			return &PolicyConfigError{Reason: fmt.Sprintf("daily limit for %q must be >= 1", action)}
		}
	}
	return nil
}

// LimitFor returns the daily limit for action, or a config error when
// the policy does not cover it.
func (p *RotationPolicy) LimitFor(action ActionType) (int, error) {
	limit, ok := p.DailyLimits[action]
	if !ok {
		return 0, &PolicyConfigError{Reason: fmt.Sprintf("no daily limit configured for action %q", action)}
	}
	return limit, nil
}

// AppliesCooldown reports whether a claim under this policy stamps a
// cooldown on the winning account. The cooldown strategy always does;
// the others do whenever a rest window is configured.
func (p *RotationPolicy) AppliesCooldown() bool {
	return p.Strategy == StrategyCooldown || p.CooldownMinutes > 0
}

// Clone returns a deep copy of the policy.
func (p *RotationPolicy) Clone() *RotationPolicy {
	cp := *p
	cp.DailyLimits = make(map[ActionType]int, len(p.DailyLimits))
	for k, v := range p.DailyLimits {
		cp.DailyLimits[k] = v
	}
	return &cp
}

// SelectionCursor is the per tenant+platform pointer used by the
// sequential strategy: the account used last and how many consecutive
// uses remain before the cursor is forced onward.
type SelectionCursor struct {
	TenantID  string   `json:"tenant_id"`
	Platform  Platform `json:"platform"`
	AccountID string   `json:"account_id"`
	Remaining int      `json:"remaining"`
}
