package selector

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/sendloop/rotor/internal/domain"
)

// pick applies the policy strategy to a non-empty candidate slice and
// returns the winner. pool is the full account list in creation order
// (the stable ordering the sequential strategy walks); candidates is
// the eligible subset of it, same order.
func (s *Selector) pick(pool, candidates []*domain.Account, p *domain.RotationPolicy, action domain.ActionType, now time.Time) *domain.Account {
	switch p.Strategy {
	case domain.StrategySequential:
		return s.pickSequential(pool, candidates, p)
	case domain.StrategyRandom:
		return s.pickRandom(candidates, p.TenantID)
	case domain.StrategyWeighted:
		return pickWeighted(candidates, action, now)
	default:
		// least_used, and cooldown which shares its ordering; the
		// cooldown strategy's distinguishing behavior is the mandatory
		// per-claim rest window applied at claim time.
		return pickLeastUsed(candidates, action, now)
	}
}

// pickSequential keeps using the cursor account while it is still a
// candidate and its countdown has not run out, otherwise advances to
// the next eligible account in creation order, wrapping around.
func (s *Selector) pickSequential(pool, candidates []*domain.Account, p *domain.RotationPolicy) *domain.Account {
	cur := s.cursors.Get(p.TenantID, p.Platform)

	eligible := make(map[string]*domain.Account, len(candidates))
	for _, c := range candidates {
		eligible[c.ID] = c
	}

	if cur.Remaining > 0 {
		if c, ok := eligible[cur.AccountID]; ok {
			return c
		}
	}

	// Countdown exhausted or cursor account no longer eligible: walk
	// the pool in creation order starting just past the cursor
	// position, wrapping, and take the first eligible account.
	start := 0
	for i, a := range pool {
		if a.ID == cur.AccountID {
			start = i + 1
			break
		}
	}
	for i := 0; i < len(pool); i++ {
		a := pool[(start+i)%len(pool)]
		if c, ok := eligible[a.ID]; ok {
			return c
		}
	}
	return candidates[0]
}

// pickRandom draws uniformly from a tenant-isolated source so that
// tenants never share a seed.
func (s *Selector) pickRandom(candidates []*domain.Account, tenantID string) *domain.Account {
	s.randMu.Lock()
	rng, ok := s.rands[tenantID]
	if !ok {
		h := fnv.New64a()
		h.Write([]byte(tenantID))
		rng = rand.New(rand.NewSource(int64(h.Sum64()) ^ time.Now().UnixNano()))
		s.rands[tenantID] = rng
	}
	n := rng.Intn(len(candidates))
	s.randMu.Unlock()
	return candidates[n]
}

// pickLeastUsed orders by smallest effective daily count, then oldest
// last action (never-used first), then id ascending so selection is
// fully deterministic.
func pickLeastUsed(candidates []*domain.Account, action domain.ActionType, now time.Time) *domain.Account {
	sorted := make([]*domain.Account, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return lessUsed(sorted[i], sorted[j], action, now)
	})
	return sorted[0]
}

// pickWeighted maximizes health score, breaking ties like least_used.
func pickWeighted(candidates []*domain.Account, action domain.ActionType, now time.Time) *domain.Account {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.HealthScore > best.HealthScore {
			best = c
			continue
		}
		if c.HealthScore == best.HealthScore && lessUsed(c, best, action, now) {
			best = c
		}
	}
	return best
}

func lessUsed(a, b *domain.Account, action domain.ActionType, now time.Time) bool {
	ca, cb := a.CounterFor(action, now), b.CounterFor(action, now)
	if ca != cb {
		return ca < cb
	}
	la, lb := lastActionOrZero(a), lastActionOrZero(b)
	if !la.Equal(lb) {
		return la.Before(lb)
	}
	return a.ID < b.ID
}

func lastActionOrZero(a *domain.Account) time.Time {
	if a.LastActionAt == nil {
		return time.Time{}
	}
	return *a.LastActionAt
}
