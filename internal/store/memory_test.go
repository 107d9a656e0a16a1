package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendloop/rotor/internal/domain"
)

func newAccount(id string) *domain.Account {
	return &domain.Account{
		ID:          id,
		TenantID:    "t1",
		Platform:    domain.PlatformFacebook,
		Status:      domain.StatusActive,
		HealthScore: 1.0,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	acct := newAccount("a1")
	acct.Status = ""
	require.NoError(t, s.Create(ctx, acct))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Error(t, s.Create(ctx, newAccount("a1")), "duplicate id must fail")
}

func TestMemoryStoreListCreationOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Create(ctx, newAccount(id)))
	}
	// Different tenant stays invisible.
	other := newAccount("z")
	other.TenantID = "t2"
	require.NoError(t, s.Create(ctx, other))

	got, err := s.List(ctx, "t1", domain.PlatformFacebook)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestMemoryStoreUpdateCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newAccount("a1")))

	first, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	second, err := s.Get(ctx, "a1")
	require.NoError(t, err)

	first.HealthScore = 0.5
	require.NoError(t, s.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	// The stale snapshot must lose the race.
	second.HealthScore = 0.9
	assert.ErrorIs(t, s.Update(ctx, second), domain.ErrClaimConflict)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.HealthScore)
}

func TestMemoryStoreStatusVisibleImmediately(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newAccount("a1")))

	require.NoError(t, s.UpdateStatus(ctx, "a1", domain.StatusInactive))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, got.Status)

	assert.Error(t, s.UpdateStatus(ctx, "a1", "bogus"))
}

func TestMemoryStoreSetCooldown(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newAccount("a1")))

	until := time.Now().Add(30 * time.Minute)
	require.NoError(t, s.SetCooldown(ctx, "a1", &until))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got.CooldownUntil)
	assert.True(t, got.InCooldown(time.Now()))

	require.NoError(t, s.SetCooldown(ctx, "a1", nil))
	got, err = s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got.CooldownUntil)
}

func TestMemoryStoreNoTornReads(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newAccount("a1")))

	// Mutating a returned snapshot must not leak into the store.
	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	got.DailyCounters[domain.ActionMessage] = domain.DayCount{Count: 999, Day: "2025-01-01"}

	fresh, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, fresh.DailyCounters)
}
