package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sendloop/rotor/internal/domain"
)

// MemoryStore is the in-process AccountStore. It is the default backend
// and the reference semantics for the postgres implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	seq      int64
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*domain.Account),
	}
}

// Create registers a new account. A zero status defaults to pending.
func (s *MemoryStore) Create(ctx context.Context, acct *domain.Account) error {
	if acct.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if acct.Status == "" {
		acct.Status = domain.StatusPending
	}
	if !acct.Status.Valid() {
		return fmt.Errorf("invalid account status %q", acct.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.ID]; exists {
		return fmt.Errorf("account %s already exists", acct.ID)
	}

	cp := acct.Clone()
	if cp.DailyCounters == nil {
		cp.DailyCounters = make(map[domain.ActionType]domain.DayCount)
	}
	if cp.CreatedAt.IsZero() {
		s.seq++
		// Monotonic tie-break so same-instant registrations keep a
		// stable creation order.
		cp.CreatedAt = time.Now().UTC().Add(time.Duration(s.seq) * time.Nanosecond)
	}
	cp.Version = 1
	s.accounts[cp.ID] = cp
	acct.CreatedAt = cp.CreatedAt
	acct.Version = cp.Version
	return nil
}

// Get returns a copy of the account or domain.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return acct.Clone(), nil
}

// List returns copies of every account for tenant+platform in creation
// order.
func (s *MemoryStore) List(ctx context.Context, tenantID string, platform domain.Platform) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Account
	for _, acct := range s.accounts {
		if acct.TenantID == tenantID && acct.Platform == platform {
			out = append(out, acct.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update writes acct back under compare-and-swap on Version.
func (s *MemoryStore) Update(ctx context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[acct.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", acct.ID, domain.ErrNotFound)
	}
	if current.Version != acct.Version {
		return domain.ErrClaimConflict
	}

	cp := acct.Clone()
	cp.Version = current.Version + 1
	s.accounts[cp.ID] = cp
	acct.Version = cp.Version
	return nil
}

// UpdateStatus transitions the account status unconditionally.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid account status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	acct.Status = status
	acct.Version++
	return nil
}

// SetCooldown stamps or clears the account cooldown.
func (s *MemoryStore) SetCooldown(ctx context.Context, id string, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if until == nil {
		acct.CooldownUntil = nil
	} else {
		t := until.UTC()
		acct.CooldownUntil = &t
	}
	acct.Version++
	return nil
}
