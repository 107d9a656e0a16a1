package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPolicy() *RotationPolicy {
	return &RotationPolicy{
		TenantID:           "t1",
		Platform:           PlatformInstagram,
		Enabled:            true,
		Strategy:           StrategyLeastUsed,
		CooldownMinutes:    10,
		DailyLimits:        map[ActionType]int{ActionMessage: 50},
		AutoSwitchOnLimit:  true,
		SwitchAfterActions: 5,
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validPolicy().Validate())
	})

	t.Run("missing_tenant", func(t *testing.T) {
		p := validPolicy()
		p.TenantID = ""
		err := p.Validate()
		require.Error(t, err)
		assert.True(t, IsPolicyConfig(err))
	})

	t.Run("unknown_strategy", func(t *testing.T) {
		p := validPolicy()
		p.Strategy = "round_trip"
		assert.True(t, IsPolicyConfig(p.Validate()))
	})

	t.Run("sequential_needs_switch_after", func(t *testing.T) {
		p := validPolicy()
		p.Strategy = StrategySequential
		p.SwitchAfterActions = 0
		assert.Error(t, p.Validate())
	})

	t.Run("cooldown_strategy_needs_minutes", func(t *testing.T) {
		p := validPolicy()
		p.Strategy = StrategyCooldown
		p.CooldownMinutes = 0
		assert.Error(t, p.Validate())
	})

	t.Run("empty_limits", func(t *testing.T) {
		p := validPolicy()
		p.DailyLimits = nil
		assert.Error(t, p.Validate())
	})

	t.Run("zero_limit", func(t *testing.T) {
		p := validPolicy()
		p.DailyLimits[ActionPost] = 0
		assert.Error(t, p.Validate())
	})
}

func TestPolicyLimitFor(t *testing.T) {
	p := validPolicy()

	limit, err := p.LimitFor(ActionMessage)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	_, err = p.LimitFor(ActionFollow)
	require.Error(t, err)
	assert.True(t, IsPolicyConfig(err))
}

func TestPolicyAppliesCooldown(t *testing.T) {
	p := validPolicy()
	assert.True(t, p.AppliesCooldown())

	p.CooldownMinutes = 0
	assert.False(t, p.AppliesCooldown())

	p.Strategy = StrategyCooldown
	assert.True(t, p.AppliesCooldown())
}
