// Package policy owns rotation policy storage and defaults. Policies
// are validated at save time so the selector never has to reject a
// malformed config mid-campaign.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/rotor/internal/domain"
)

// Store is the policy persistence contract consumed by the selector and
// the configuration surface.
type Store interface {
	// Get returns the policy for tenant+platform, falling back to the
	// configured defaults when none has been saved yet.
	Get(ctx context.Context, tenantID string, platform domain.Platform) (*domain.RotationPolicy, error)

	// Set validates and saves the policy.
	Set(ctx context.Context, p *domain.RotationPolicy) error
}

// Defaults returns the policy created on the first account for a
// platform, before the user has touched the rotation settings form.
func Defaults(tenantID string, platform domain.Platform) *domain.RotationPolicy {
	return &domain.RotationPolicy{
		TenantID:           tenantID,
		Platform:           platform,
		Enabled:            true,
		Strategy:           domain.StrategySequential,
		SwitchAfterActions: 10,
		CooldownMinutes:    15,
		DailyLimits: map[domain.ActionType]int{
			domain.ActionMessage: 50,
			domain.ActionFollow:  100,
			domain.ActionPost:    10,
			domain.ActionDM:      30,
		},
		AutoSwitchOnLimit: true,
	}
}

// MemoryStore keeps policies in process, keyed by tenant+platform.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*domain.RotationPolicy

	// defaults overrides the built-in Defaults when set (seeded from the
	// YAML config default_policy section).
	defaults func(tenantID string, platform domain.Platform) *domain.RotationPolicy
}

// NewMemoryStore creates a policy store with built-in defaults.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*domain.RotationPolicy),
		defaults: Defaults,
	}
}

// WithDefaults replaces the default-policy factory.
func (s *MemoryStore) WithDefaults(fn func(tenantID string, platform domain.Platform) *domain.RotationPolicy) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = fn
	return s
}

func key(tenantID string, platform domain.Platform) string {
	return tenantID + "/" + string(platform)
}

// Get returns the saved policy or a fresh default.
func (s *MemoryStore) Get(ctx context.Context, tenantID string, platform domain.Platform) (*domain.RotationPolicy, error) {
	s.mu.RLock()
	p, ok := s.policies[key(tenantID, platform)]
	defaults := s.defaults
	s.mu.RUnlock()

	if ok {
		return p.Clone(), nil
	}

	def := defaults(tenantID, platform)
	def.TenantID = tenantID
	def.Platform = platform
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	return def, nil
}

// Set validates and saves the policy.
func (s *MemoryStore) Set(ctx context.Context, p *domain.RotationPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := p.Clone()
	cp.Version++
	s.policies[key(p.TenantID, p.Platform)] = cp
	p.Version = cp.Version

	log.Info().
		Str("tenant", p.TenantID).
		Str("platform", string(p.Platform)).
		Str("strategy", string(p.Strategy)).
		Bool("enabled", p.Enabled).
		Msg("Rotation policy saved")
	return nil
}
