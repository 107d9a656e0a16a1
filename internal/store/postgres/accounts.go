// Package postgres implements the account and policy stores on
// PostgreSQL via sqlx. Counters live in a JSONB column; optimistic
// concurrency rides the version column, so a lost claim race surfaces
// as zero updated rows and maps to domain.ErrClaimConflict.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/store"
)

// Schema creates the tables this package expects.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	platform       TEXT NOT NULL,
	status         TEXT NOT NULL,
	proxy          TEXT NOT NULL DEFAULT '',
	daily_counters JSONB NOT NULL DEFAULT '{}',
	cooldown_until TIMESTAMPTZ,
	last_action_at TIMESTAMPTZ,
	health_score   DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	version        BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_accounts_pool ON accounts (tenant_id, platform, created_at);

CREATE TABLE IF NOT EXISTS rotation_policies (
	tenant_id            TEXT NOT NULL,
	platform             TEXT NOT NULL,
	enabled              BOOLEAN NOT NULL DEFAULT TRUE,
	strategy             TEXT NOT NULL,
	switch_after_actions INT NOT NULL DEFAULT 0,
	cooldown_minutes     INT NOT NULL DEFAULT 0,
	daily_limits         JSONB NOT NULL DEFAULT '{}',
	auto_switch_on_limit BOOLEAN NOT NULL DEFAULT TRUE,
	version              BIGINT NOT NULL DEFAULT 1,
	PRIMARY KEY (tenant_id, platform)
);`

// Connect opens and pings a PostgreSQL connection pool.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// EnsureSchema creates the tables when they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// accountRow is the flat row shape scanned from the accounts table.
type accountRow struct {
	ID            string         `db:"id"`
	TenantID      string         `db:"tenant_id"`
	Platform      string         `db:"platform"`
	Status        string         `db:"status"`
	Proxy         string         `db:"proxy"`
	DailyCounters []byte         `db:"daily_counters"`
	CooldownUntil sql.NullTime   `db:"cooldown_until"`
	LastActionAt  sql.NullTime   `db:"last_action_at"`
	HealthScore   float64        `db:"health_score"`
	CreatedAt     time.Time      `db:"created_at"`
	Version       int64          `db:"version"`
}

func (r *accountRow) toDomain() (*domain.Account, error) {
	counters := make(map[domain.ActionType]domain.DayCount)
	if len(r.DailyCounters) > 0 {
		if err := json.Unmarshal(r.DailyCounters, &counters); err != nil {
			return nil, fmt.Errorf("unmarshal counters for %s: %w", r.ID, err)
		}
	}
	acct := &domain.Account{
		ID:            r.ID,
		TenantID:      r.TenantID,
		Platform:      domain.Platform(r.Platform),
		Status:        domain.AccountStatus(r.Status),
		Proxy:         r.Proxy,
		DailyCounters: counters,
		HealthScore:   r.HealthScore,
		CreatedAt:     r.CreatedAt,
		Version:       r.Version,
	}
	if r.CooldownUntil.Valid {
		t := r.CooldownUntil.Time
		acct.CooldownUntil = &t
	}
	if r.LastActionAt.Valid {
		t := r.LastActionAt.Time
		acct.LastActionAt = &t
	}
	return acct, nil
}

// AccountStore is the sqlx-backed store.AccountStore.
type AccountStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ store.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates a PostgreSQL account store.
func NewAccountStore(db *sqlx.DB, timeout time.Duration) *AccountStore {
	return &AccountStore{db: db, timeout: timeout}
}

// Create registers a new account.
func (s *AccountStore) Create(ctx context.Context, acct *domain.Account) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if acct.Status == "" {
		acct.Status = domain.StatusPending
	}
	if !acct.Status.Valid() {
		return fmt.Errorf("invalid account status %q", acct.Status)
	}
	counters, err := json.Marshal(acct.DailyCounters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	query := `
		INSERT INTO accounts (id, tenant_id, platform, status, proxy, daily_counters, cooldown_until, last_action_at, health_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, version`

	err = s.db.QueryRowxContext(ctx, query,
		acct.ID, acct.TenantID, string(acct.Platform), string(acct.Status),
		acct.Proxy, counters, acct.CooldownUntil, acct.LastActionAt, acct.HealthScore).
		Scan(&acct.CreatedAt, &acct.Version)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Get returns the account or domain.ErrNotFound.
func (s *AccountStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row accountRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return row.toDomain()
}

// List returns the tenant+platform pool in creation order.
func (s *AccountStore) List(ctx context.Context, tenantID string, platform domain.Platform) ([]*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM accounts
		WHERE tenant_id = $1 AND platform = $2
		ORDER BY created_at ASC, id ASC`, tenantID, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	out := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		acct, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// Update writes the account back under compare-and-swap on version.
func (s *AccountStore) Update(ctx context.Context, acct *domain.Account) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	counters, err := json.Marshal(acct.DailyCounters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET status = $1, proxy = $2, daily_counters = $3, cooldown_until = $4,
		    last_action_at = $5, health_score = $6, version = version + 1
		WHERE id = $7 AND version = $8`,
		string(acct.Status), acct.Proxy, counters, acct.CooldownUntil,
		acct.LastActionAt, acct.HealthScore, acct.ID, acct.Version)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		// Either gone or the version moved; disambiguate for callers.
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, acct.ID); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		if !exists {
			return fmt.Errorf("account %s: %w", acct.ID, domain.ErrNotFound)
		}
		return domain.ErrClaimConflict
	}
	acct.Version++
	return nil
}

// UpdateStatus transitions the account status unconditionally.
func (s *AccountStore) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid account status %q", status)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = $1, version = version + 1 WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetCooldown stamps or clears the account cooldown.
func (s *AccountStore) SetCooldown(ctx context.Context, id string, until *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET cooldown_until = $1, version = version + 1 WHERE id = $2`,
		until, id)
	if err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
