package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendloop/rotor/internal/domain"
)

func TestGetFallsBackToDefaults(t *testing.T) {
	s := NewMemoryStore()

	p, err := s.Get(context.Background(), "t1", domain.PlatformLinkedIn)
	require.NoError(t, err)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, domain.PlatformLinkedIn, p.Platform)
	assert.Equal(t, domain.StrategySequential, p.Strategy)
	assert.True(t, p.Enabled)
	assert.Equal(t, 50, p.DailyLimits[domain.ActionMessage])
}

func TestSetThenGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := Defaults("t1", domain.PlatformTelegram)
	p.Strategy = domain.StrategyRandom
	p.DailyLimits = map[domain.ActionType]int{domain.ActionMessage: 7}
	require.NoError(t, s.Set(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	got, err := s.Get(ctx, "t1", domain.PlatformTelegram)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyRandom, got.Strategy)
	assert.Equal(t, 7, got.DailyLimits[domain.ActionMessage])
}

func TestSetRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()

	p := Defaults("t1", domain.PlatformTelegram)
	p.Strategy = "round_robin"
	err := s.Set(context.Background(), p)
	assert.True(t, domain.IsPolicyConfig(err))

	// Nothing was saved; Get still serves defaults.
	got, err := s.Get(context.Background(), "t1", domain.PlatformTelegram)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategySequential, got.Strategy)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := Defaults("t1", domain.PlatformTelegram)
	require.NoError(t, s.Set(ctx, p))

	first, err := s.Get(ctx, "t1", domain.PlatformTelegram)
	require.NoError(t, err)
	first.DailyLimits[domain.ActionMessage] = 1

	second, err := s.Get(ctx, "t1", domain.PlatformTelegram)
	require.NoError(t, err)
	assert.Equal(t, 50, second.DailyLimits[domain.ActionMessage])
}

func TestWithDefaultsOverride(t *testing.T) {
	s := NewMemoryStore().WithDefaults(func(tenantID string, platform domain.Platform) *domain.RotationPolicy {
		p := Defaults(tenantID, platform)
		p.Strategy = domain.StrategyLeastUsed
		p.CooldownMinutes = 45
		return p
	})

	got, err := s.Get(context.Background(), "t9", domain.PlatformWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLeastUsed, got.Strategy)
	assert.Equal(t, 45, got.CooldownMinutes)
	assert.Equal(t, "t9", got.TenantID)
}
