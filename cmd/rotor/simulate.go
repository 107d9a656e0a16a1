package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sendloop/rotor/internal/dispatch"
	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/health"
	"github.com/sendloop/rotor/internal/outcome"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/selector"
	"github.com/sendloop/rotor/internal/store"
	"github.com/sendloop/rotor/internal/usage"
)

// runSimulate drives the full engine in memory: a worker swarm racing
// for claims against one pool, with a fake adapter failing at the
// configured rate. Useful for eyeballing strategy behavior and limit
// enforcement under contention.
func runSimulate(cmd *cobra.Command, args []string) error {
	numAccounts, _ := cmd.Flags().GetInt("accounts")
	workers, _ := cmd.Flags().GetInt("workers")
	actions, _ := cmd.Flags().GetInt("actions")
	dailyLimit, _ := cmd.Flags().GetInt("daily-limit")
	strategy, _ := cmd.Flags().GetString("strategy")
	cooldownMinutes, _ := cmd.Flags().GetInt("cooldown-minutes")
	failureRate, _ := cmd.Flags().GetFloat64("failure-rate")

	const (
		tenant   = "sim-tenant"
		platform = domain.PlatformInstagram
		action   = domain.ActionMessage
	)

	accounts := store.NewMemoryStore()
	policies := policy.NewMemoryStore()
	ledger := outcome.NewMemoryLedger()
	tracker := usage.NewTracker(accounts)
	scorer := health.NewScorer(accounts)
	sel := selector.New(accounts, policies, tracker, selector.NewMemoryCursorStore(), ledger, nil)
	reporter := outcome.NewReporter(ledger, accounts, scorer, nil)

	p := policy.Defaults(tenant, platform)
	p.Strategy = domain.Strategy(strategy)
	p.CooldownMinutes = cooldownMinutes
	p.DailyLimits = map[domain.ActionType]int{action: dailyLimit}
	if err := policies.Set(context.Background(), p); err != nil {
		return err
	}

	for i := 0; i < numAccounts; i++ {
		acct := &domain.Account{
			ID:          fmt.Sprintf("acct-%02d", i),
			TenantID:    tenant,
			Platform:    platform,
			Status:      domain.StatusActive,
			HealthScore: 1.0,
		}
		if err := accounts.Create(context.Background(), acct); err != nil {
			return err
		}
	}

	cfg := dispatch.DefaultConfig()
	cfg.TenantRPS = 0 // unpaced, the point is contention
	d := dispatch.New(sel, reporter, policies, cfg, nil)
	d.RegisterAdapter(platform, dispatch.AdapterFunc(func(ctx context.Context, acct *domain.Account, a domain.ActionType) error {
		if rand.Float64() < failureRate {
			return errors.New("simulated adapter failure")
		}
		return nil
	}))

	log.Info().
		Int("accounts", numAccounts).
		Int("workers", workers).
		Int("actions", actions).
		Int("daily_limit", dailyLimit).
		Str("strategy", strategy).
		Msg("Simulation starting")

	type counts struct {
		done, failed, requeued, paused int
		perAccount                     map[string]int
	}
	var (
		mu    sync.Mutex
		total counts
	)
	total.perAccount = make(map[string]int)

	jobs := make(chan struct{}, actions)
	for i := 0; i < actions; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				res := d.Dispatch(context.Background(), tenant, platform, action)
				mu.Lock()
				switch res.Disposition {
				case dispatch.Done:
					total.done++
					total.perAccount[res.Account.ID]++
				case dispatch.Failed:
					total.failed++
					total.perAccount[res.Account.ID]++
				case dispatch.Requeue:
					total.requeued++
				default:
					total.paused++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	log.Info().
		Int("done", total.done).
		Int("failed", total.failed).
		Int("requeued", total.requeued).
		Int("paused", total.paused).
		Msg("Simulation finished")
	for id, n := range total.perAccount {
		log.Info().Str("account", id).Int("claims", n).Msg("Claim distribution")
	}

	claimed := total.done + total.failed
	if claimed > numAccounts*dailyLimit {
		return fmt.Errorf("limit breach: %d claims exceed pool capacity %d", claimed, numAccounts*dailyLimit)
	}
	return nil
}
