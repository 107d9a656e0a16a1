// Package store defines the durable account record contract and its
// in-memory implementation. Mutations are atomic with respect to
// concurrent readers: readers always see a complete snapshot, never a
// torn counter map, and status changes are visible to the selector on
// the very next read.
package store

import (
	"context"
	"time"

	"github.com/sendloop/rotor/internal/domain"
)

// AccountStore is the persistence contract the selector and usage
// tracker depend on. Implementations must provide optimistic
// concurrency on Update via the account Version field, returning
// domain.ErrClaimConflict when the stored version moved.
type AccountStore interface {
	// Create registers a new account. A zero status defaults to pending.
	Create(ctx context.Context, acct *domain.Account) error

	// Get returns a copy of the account or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Account, error)

	// List returns copies of every account for tenant+platform in
	// creation order. Creation order is the stable ordering the
	// sequential strategy walks.
	List(ctx context.Context, tenantID string, platform domain.Platform) ([]*domain.Account, error)

	// Update writes acct back if and only if the stored version equals
	// acct.Version, then increments the version. Returns
	// domain.ErrClaimConflict on a lost race.
	Update(ctx context.Context, acct *domain.Account) error

	// UpdateStatus transitions the account status unconditionally.
	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error

	// SetCooldown stamps or clears (nil) the account cooldown.
	SetCooldown(ctx context.Context, id string, until *time.Time) error
}
