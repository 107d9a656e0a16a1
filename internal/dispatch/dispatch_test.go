package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/health"
	"github.com/sendloop/rotor/internal/outcome"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/selector"
	"github.com/sendloop/rotor/internal/store"
	"github.com/sendloop/rotor/internal/usage"
)

type harness struct {
	store      *store.MemoryStore
	policies   *policy.MemoryStore
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, mutate func(*domain.RotationPolicy)) *harness {
	t.Helper()

	s := store.NewMemoryStore()
	policies := policy.NewMemoryStore()
	ledger := outcome.NewMemoryLedger()
	sel := selector.New(s, policies, usage.NewTracker(s), selector.NewMemoryCursorStore(), ledger, nil)
	reporter := outcome.NewReporter(ledger, s, health.NewScorer(s), nil)

	p := policy.Defaults("t1", domain.PlatformTikTok)
	p.Strategy = domain.StrategyLeastUsed
	p.CooldownMinutes = 0
	p.DailyLimits = map[domain.ActionType]int{domain.ActionPost: 2}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, policies.Set(context.Background(), p))

	cfg := DefaultConfig()
	cfg.TenantRPS = 0 // no pacing in tests

	return &harness{
		store:      s,
		policies:   policies,
		dispatcher: New(sel, reporter, policies, cfg, nil),
	}
}

func (h *harness) addAccount(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.store.Create(context.Background(), &domain.Account{
		ID:          id,
		TenantID:    "t1",
		Platform:    domain.PlatformTikTok,
		Status:      domain.StatusActive,
		HealthScore: 1.0,
	}))
}

func (h *harness) dispatch(ctx context.Context) Result {
	return h.dispatcher.Dispatch(ctx, "t1", domain.PlatformTikTok, domain.ActionPost)
}

func okAdapter() Adapter {
	return AdapterFunc(func(ctx context.Context, acct *domain.Account, action domain.ActionType) error {
		return nil
	})
}

func TestDispatchDone(t *testing.T) {
	h := newHarness(t, nil)
	h.addAccount(t, "a1")
	h.dispatcher.RegisterAdapter(domain.PlatformTikTok, okAdapter())

	res := h.dispatch(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, Done, res.Disposition)
	require.NotNil(t, res.Account)
	assert.Equal(t, "a1", res.Account.ID)

	// The outcome was reported: counter bumped, health raised and clamped.
	acct, err := h.store.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.CounterFor(domain.ActionPost, time.Now().UTC()))
	assert.Equal(t, 1.0, acct.HealthScore)
}

func TestDispatchFailedReportsOutcome(t *testing.T) {
	h := newHarness(t, nil)
	h.addAccount(t, "a1")
	h.dispatcher.RegisterAdapter(domain.PlatformTikTok, AdapterFunc(
		func(ctx context.Context, acct *domain.Account, action domain.ActionType) error {
			return errors.New("timeline unavailable")
		}))

	res := h.dispatch(context.Background())
	assert.Equal(t, Failed, res.Disposition)
	assert.Error(t, res.Err)

	acct, err := h.store.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, acct.HealthScore, 1e-9)
	assert.Equal(t, domain.StatusActive, acct.Status)
}

func TestDispatchAuthFailureDisconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.addAccount(t, "a1")
	h.dispatcher.RegisterAdapter(domain.PlatformTikTok, AdapterFunc(
		func(ctx context.Context, acct *domain.Account, action domain.ActionType) error {
			return &AuthError{Platform: domain.PlatformTikTok, Message: "session revoked"}
		}))

	res := h.dispatch(context.Background())
	assert.Equal(t, Failed, res.Disposition)

	acct, err := h.store.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, acct.Status)
}

func TestDispatchRequeueOnLimitWithAutoSwitch(t *testing.T) {
	h := newHarness(t, nil) // AutoSwitchOnLimit true by default
	h.addAccount(t, "a1")
	h.dispatcher.RegisterAdapter(domain.PlatformTikTok, okAdapter())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.Equal(t, Done, h.dispatch(ctx).Disposition)
	}

	res := h.dispatch(ctx)
	assert.Equal(t, Requeue, res.Disposition)
	assert.False(t, res.RetryAfter.IsZero())
	assert.True(t, domain.IsPoolExhausted(res.Err))
}

func TestDispatchPauseOnLimitWithoutAutoSwitch(t *testing.T) {
	h := newHarness(t, func(p *domain.RotationPolicy) { p.AutoSwitchOnLimit = false })
	h.addAccount(t, "a1")
	h.dispatcher.RegisterAdapter(domain.PlatformTikTok, okAdapter())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.Equal(t, Done, h.dispatch(ctx).Disposition)
	}

	res := h.dispatch(ctx)
	assert.Equal(t, Pause, res.Disposition)
}

func TestDispatchRequeueOnCooldownExhaustion(t *testing.T) {
	h := newHarness(t, func(p *domain.RotationPolicy) {
		p.CooldownMinutes = 30
		p.AutoSwitchOnLimit = false // cooldown exhaustion requeues regardless
	})
	h.addAccount(t, "a1")
	h.dispatcher.RegisterAdapter(domain.PlatformTikTok, okAdapter())

	ctx := context.Background()
	require.Equal(t, Done, h.dispatch(ctx).Disposition)

	res := h.dispatch(ctx)
	assert.Equal(t, Requeue, res.Disposition)
	assert.False(t, res.RetryAfter.IsZero())
}

func TestDispatchPauseWhenNoActiveAccounts(t *testing.T) {
	h := newHarness(t, nil)
	h.dispatcher.RegisterAdapter(domain.PlatformTikTok, okAdapter())

	res := h.dispatch(context.Background())
	assert.Equal(t, Pause, res.Disposition)
	assert.ErrorIs(t, res.Err, domain.ErrNoActiveAccounts)
}

func TestDispatchPauseWithoutAdapter(t *testing.T) {
	h := newHarness(t, nil)
	h.addAccount(t, "a1")

	res := h.dispatch(context.Background())
	assert.Equal(t, Pause, res.Disposition)
	assert.Error(t, res.Err)

	// The dangling claim was settled as a failure.
	acct, err := h.store.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, acct.HealthScore, 1e-9)
}

func TestClassifyAdapterError(t *testing.T) {
	assert.Equal(t, outcome.ErrorKindRateLimit, classifyAdapterError(gobreaker.ErrOpenState))
	assert.Equal(t, outcome.ErrorKindRateLimit, classifyAdapterError(fmt.Errorf("execute: %w", gobreaker.ErrTooManyRequests)))
	assert.Equal(t, outcome.ErrorKindAuth, classifyAdapterError(&AuthError{Platform: domain.PlatformTikTok, Message: "revoked"}))
	assert.Equal(t, outcome.ErrorKindOther, classifyAdapterError(errors.New("timeout")))
}
