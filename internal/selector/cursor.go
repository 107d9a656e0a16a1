package selector

import (
	"sync"

	"github.com/sendloop/rotor/internal/domain"
)

// CursorStore persists the sequential strategy's per-pool pointer: the
// account used last and how many consecutive uses remain before the
// cursor is forced onward.
type CursorStore interface {
	Get(tenantID string, platform domain.Platform) domain.SelectionCursor
	// Commit records a successful claim of accountID, starting a fresh
	// switchAfter countdown when the account changed and decrementing
	// it otherwise.
	Commit(tenantID string, platform domain.Platform, accountID string, switchAfter int)
}

// MemoryCursorStore is the in-process cursor store.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]domain.SelectionCursor
}

// NewMemoryCursorStore creates an empty cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]domain.SelectionCursor)}
}

func cursorKey(tenantID string, platform domain.Platform) string {
	return tenantID + "/" + string(platform)
}

// Get returns the current cursor; a zero cursor means no claim has been
// committed for the pool yet.
func (s *MemoryCursorStore) Get(tenantID string, platform domain.Platform) domain.SelectionCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[cursorKey(tenantID, platform)]
}

// Commit records a successful claim.
func (s *MemoryCursorStore) Commit(tenantID string, platform domain.Platform, accountID string, switchAfter int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cursorKey(tenantID, platform)
	cur := s.cursors[key]
	switch {
	case cur.AccountID == accountID:
		cur.Remaining--
		if cur.Remaining < 0 {
			cur.Remaining = 0
		}
	case cur.AccountID == "":
		// Initial placement: this claim already consumed one of the
		// account's uses.
		cur = domain.SelectionCursor{
			TenantID:  tenantID,
			Platform:  platform,
			AccountID: accountID,
			Remaining: switchAfter - 1,
		}
	default:
		// The claim that moves the cursor onward starts a full
		// countdown for the new account.
		cur = domain.SelectionCursor{
			TenantID:  tenantID,
			Platform:  platform,
			AccountID: accountID,
			Remaining: switchAfter,
		}
	}
	s.cursors[key] = cur
}
