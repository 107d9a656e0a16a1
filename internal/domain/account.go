package domain

import (
	"time"
)

// Platform identifies the social network an account belongs to.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTelegram  Platform = "telegram"
	PlatformTikTok    Platform = "tiktok"
	PlatformWhatsApp  Platform = "whatsapp"
)

// ActionType names an outbound bulk action counted against daily limits.
// Platform-specific modes (e.g. WhatsApp group-add) are just additional
// named action types, not separate engines.
type ActionType string

const (
	ActionMessage  ActionType = "message"
	ActionFollow   ActionType = "follow"
	ActionPost     ActionType = "post"
	ActionDM       ActionType = "dm"
	ActionGroupAdd ActionType = "group_add"
)

// AccountStatus is the lifecycle state of an automation account.
// Only active accounts are ever selectable.
type AccountStatus string

const (
	StatusPending      AccountStatus = "pending"
	StatusActive       AccountStatus = "active"
	StatusInactive     AccountStatus = "inactive"
	StatusDisconnected AccountStatus = "disconnected"
)

// Valid reports whether s is a known account status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive, StatusDisconnected:
		return true
	}
	return false
}

// DayCount is a usage counter scoped to one UTC calendar day.
// Day uses the "2006-01-02" format; a counter whose Day differs from
// the current UTC day counts as zero for eligibility purposes.
type DayCount struct {
	Count int    `json:"count" db:"count"`
	Day   string `json:"day" db:"day"`
}

// DayStamp formats t as the UTC day key used by DayCount.
func DayStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Account is the durable record of one automation account.
type Account struct {
	ID       string        `json:"id" db:"id"`
	TenantID string        `json:"tenant_id" db:"tenant_id"`
	Platform Platform      `json:"platform" db:"platform"`
	Status   AccountStatus `json:"status" db:"status"`

	// Proxy is an opaque binding; its presence feeds the health scorer
	// but never affects eligibility directly.
	Proxy string `json:"proxy,omitempty" db:"proxy"`

	DailyCounters map[ActionType]DayCount `json:"daily_counters" db:"-"`

	CooldownUntil *time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
	LastActionAt  *time.Time `json:"last_action_at,omitempty" db:"last_action_at"`

	HealthScore float64 `json:"health_score" db:"health_score"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Version guards compare-and-swap updates; every successful write
	// increments it.
	Version int64 `json:"version" db:"version"`
}

// CounterFor returns the effective counter for action at now, applying
// the lazy daily rollover: a stored counter from a previous UTC day
// reads as zero.
func (a *Account) CounterFor(action ActionType, now time.Time) int {
	dc, ok := a.DailyCounters[action]
	if !ok || dc.Day != DayStamp(now) {
		return 0
	}
	return dc.Count
}

// InCooldown reports whether the account is resting at now.
func (a *Account) InCooldown(now time.Time) bool {
	return a.CooldownUntil != nil && a.CooldownUntil.After(now)
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (a *Account) Clone() *Account {
	cp := *a
	cp.DailyCounters = make(map[ActionType]DayCount, len(a.DailyCounters))
	for k, v := range a.DailyCounters {
		cp.DailyCounters[k] = v
	}
	if a.CooldownUntil != nil {
		t := *a.CooldownUntil
		cp.CooldownUntil = &t
	}
	if a.LastActionAt != nil {
		t := *a.LastActionAt
		cp.LastActionAt = &t
	}
	return &cp
}
