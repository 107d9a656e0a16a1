package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/policy"
)

// PolicyStore is the sqlx-backed policy.Store.
type PolicyStore struct {
	db      *sqlx.DB
	timeout time.Duration

	defaults func(tenantID string, platform domain.Platform) *domain.RotationPolicy
}

var _ policy.Store = (*PolicyStore)(nil)

// NewPolicyStore creates a PostgreSQL policy store with built-in
// defaults.
func NewPolicyStore(db *sqlx.DB, timeout time.Duration) *PolicyStore {
	return &PolicyStore{db: db, timeout: timeout, defaults: policy.Defaults}
}

// WithDefaults replaces the default-policy factory.
func (s *PolicyStore) WithDefaults(fn func(tenantID string, platform domain.Platform) *domain.RotationPolicy) *PolicyStore {
	s.defaults = fn
	return s
}

type policyRow struct {
	TenantID           string `db:"tenant_id"`
	Platform           string `db:"platform"`
	Enabled            bool   `db:"enabled"`
	Strategy           string `db:"strategy"`
	SwitchAfterActions int    `db:"switch_after_actions"`
	CooldownMinutes    int    `db:"cooldown_minutes"`
	DailyLimits        []byte `db:"daily_limits"`
	AutoSwitchOnLimit  bool   `db:"auto_switch_on_limit"`
	Version            int64  `db:"version"`
}

// Get returns the saved policy or a fresh default.
func (s *PolicyStore) Get(ctx context.Context, tenantID string, platform domain.Platform) (*domain.RotationPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row policyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM rotation_policies WHERE tenant_id = $1 AND platform = $2`,
		tenantID, string(platform))
	if errors.Is(err, sql.ErrNoRows) {
		def := s.defaults(tenantID, platform)
		def.TenantID = tenantID
		def.Platform = platform
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("default policy: %w", err)
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	limits := make(map[domain.ActionType]int)
	if len(row.DailyLimits) > 0 {
		if err := json.Unmarshal(row.DailyLimits, &limits); err != nil {
			return nil, fmt.Errorf("unmarshal daily limits: %w", err)
		}
	}
	return &domain.RotationPolicy{
		TenantID:           row.TenantID,
		Platform:           domain.Platform(row.Platform),
		Enabled:            row.Enabled,
		Strategy:           domain.Strategy(row.Strategy),
		SwitchAfterActions: row.SwitchAfterActions,
		CooldownMinutes:    row.CooldownMinutes,
		DailyLimits:        limits,
		AutoSwitchOnLimit:  row.AutoSwitchOnLimit,
		Version:            row.Version,
	}, nil
}

// Set validates and upserts the policy.
func (s *PolicyStore) Set(ctx context.Context, p *domain.RotationPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limits, err := json.Marshal(p.DailyLimits)
	if err != nil {
		return fmt.Errorf("marshal daily limits: %w", err)
	}

	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO rotation_policies
			(tenant_id, platform, enabled, strategy, switch_after_actions, cooldown_minutes, daily_limits, auto_switch_on_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, platform) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			strategy = EXCLUDED.strategy,
			switch_after_actions = EXCLUDED.switch_after_actions,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			daily_limits = EXCLUDED.daily_limits,
			auto_switch_on_limit = EXCLUDED.auto_switch_on_limit,
			version = rotation_policies.version + 1
		RETURNING version`,
		p.TenantID, string(p.Platform), p.Enabled, string(p.Strategy),
		p.SwitchAfterActions, p.CooldownMinutes, limits, p.AutoSwitchOnLimit).
		Scan(&p.Version)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}
