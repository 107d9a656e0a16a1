// Package dispatch is the glue between campaign workers and the
// rotation engine: it paces Acquire per tenant, executes the platform
// adapter behind a circuit breaker, and reports the outcome back.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/metrics"
	"github.com/sendloop/rotor/internal/outcome"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/selector"
)

// Adapter performs one real action against a platform. Implementations
// live outside this module (browser automation, platform APIs); the
// dispatcher only sees success or failure.
type Adapter interface {
	Execute(ctx context.Context, acct *domain.Account, action domain.ActionType) error
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, acct *domain.Account, action domain.ActionType) error

func (f AdapterFunc) Execute(ctx context.Context, acct *domain.Account, action domain.ActionType) error {
	return f(ctx, acct, action)
}

// Disposition tells the campaign worker what to do after a failed
// dispatch.
type Disposition int

const (
	// Done: the action executed and was reported.
	Done Disposition = iota
	// Requeue: transient exhaustion, retry after the hinted time.
	Requeue
	// Pause: the campaign should stop until the user intervenes
	// (no active accounts, limits hit with auto-switch off, bad policy).
	Pause
	// Failed: the adapter ran and reported a failure; the worker decides
	// whether the action itself is retryable.
	Failed
)

// Result is the outcome of one dispatched action.
type Result struct {
	Disposition Disposition
	Account     *domain.Account
	RetryAfter  time.Time
	Err         error
}

// Config tunes pacing and breaker behavior.
type Config struct {
	// TenantRPS caps Acquire calls per tenant per second. Zero disables
	// pacing.
	TenantRPS   float64
	TenantBurst int

	// Breaker settings applied per platform adapter.
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	BreakerMinRequests uint32
	BreakerFailureRate float64
}

// DefaultConfig mirrors the engine defaults.
func DefaultConfig() Config {
	return Config{
		TenantRPS:          5,
		TenantBurst:        10,
		BreakerMaxRequests: 3,
		BreakerInterval:    60 * time.Second,
		BreakerTimeout:     30 * time.Second,
		BreakerMinRequests: 10,
		BreakerFailureRate: 0.5,
	}
}

// Dispatcher wires the selector, adapters, and outcome reporter
// together for campaign workers.
type Dispatcher struct {
	sel      *selector.Selector
	reporter *outcome.Reporter
	policies policy.Store
	adapters map[domain.Platform]Adapter
	cfg      Config
	metrics  *metrics.Registry

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[domain.Platform]*gobreaker.CircuitBreaker
}

// New creates a dispatcher. metrics may be nil.
func New(sel *selector.Selector, reporter *outcome.Reporter, policies policy.Store, cfg Config, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		sel:      sel,
		reporter: reporter,
		policies: policies,
		adapters: make(map[domain.Platform]Adapter),
		cfg:      cfg,
		metrics:  m,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[domain.Platform]*gobreaker.CircuitBreaker),
	}
}

// RegisterAdapter binds the platform adapter used for Execute calls.
func (d *Dispatcher) RegisterAdapter(platform domain.Platform, a Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[platform] = a
}

// Dispatch acquires an account, runs the platform adapter behind its
// breaker, and reports the outcome. The returned Result tells the
// worker whether to requeue, pause, or move on.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, platform domain.Platform, action domain.ActionType) Result {
	if err := d.pace(ctx, tenantID); err != nil {
		return Result{Disposition: Pause, Err: err}
	}

	acct, res, err := d.sel.Acquire(ctx, tenantID, platform, action)
	if err != nil {
		return d.classify(ctx, tenantID, platform, err)
	}

	adapter := d.adapter(platform)
	if adapter == nil {
		// No adapter registered: release the reservation as a failure
		// so the claim is accounted for instead of dangling.
		_ = d.reporter.Report(ctx, res.Token, false, outcome.ErrorKindOther)
		return Result{Disposition: Pause, Err: fmt.Errorf("no adapter registered for platform %s", platform)}
	}

	execErr := d.execute(ctx, platform, adapter, acct, action)
	kind := outcome.ErrorKindNone
	if execErr != nil {
		kind = classifyAdapterError(execErr)
	}
	if err := d.reporter.Report(ctx, res.Token, execErr == nil, kind); err != nil {
		log.Error().Err(err).Str("token", res.Token).Msg("Outcome report failed")
	}

	if execErr != nil {
		return Result{Disposition: Failed, Account: acct, Err: execErr}
	}
	return Result{Disposition: Done, Account: acct}
}

// pace blocks on the per-tenant limiter, bounding how fast one tenant's
// workers can drain the pool.
func (d *Dispatcher) pace(ctx context.Context, tenantID string) error {
	if d.cfg.TenantRPS <= 0 {
		return nil
	}

	d.mu.Lock()
	lim, ok := d.limiters[tenantID]
	if !ok {
		burst := d.cfg.TenantBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(d.cfg.TenantRPS), burst)
		d.limiters[tenantID] = lim
	}
	d.mu.Unlock()

	if lim.Allow() {
		return nil
	}
	if d.metrics != nil {
		d.metrics.PacingWaits.Inc()
	}
	return lim.Wait(ctx)
}

// execute runs the adapter behind the platform breaker so a dead
// platform API stops burning account quota.
func (d *Dispatcher) execute(ctx context.Context, platform domain.Platform, a Adapter, acct *domain.Account, action domain.ActionType) error {
	cb := d.breaker(platform)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, a.Execute(ctx, acct, action)
	})
	return err
}

func (d *Dispatcher) adapter(platform domain.Platform) Adapter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adapters[platform]
}

func (d *Dispatcher) breaker(platform domain.Platform) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[platform]
	if !ok {
		cfg := d.cfg
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(platform),
			MaxRequests: cfg.BreakerMaxRequests,
			Interval:    cfg.BreakerInterval,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.BreakerMinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRate
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("platform", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Adapter breaker state changed")
				if d.metrics != nil {
					d.metrics.BreakerStates.WithLabelValues(name).Set(breakerStateValue(to))
				}
			},
		})
		d.breakers[platform] = cb
	}
	return cb
}

// classify maps an Acquire error to the worker disposition mandated by
// the policy: exhaustion from daily limits requeues when auto-switch is
// on and pauses when it is off; cooldown exhaustion always requeues.
func (d *Dispatcher) classify(ctx context.Context, tenantID string, platform domain.Platform, err error) Result {
	var pe *domain.PoolExhaustedError
	if errors.As(err, &pe) {
		disposition := Requeue
		if pe.LimitedOnly {
			p, perr := d.policies.Get(ctx, tenantID, platform)
			if perr != nil || !p.AutoSwitchOnLimit {
				disposition = Pause
			}
		}
		return Result{Disposition: disposition, RetryAfter: pe.RetryAfter, Err: err}
	}
	return Result{Disposition: Pause, Err: err}
}

func classifyAdapterError(err error) outcome.ErrorKind {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return outcome.ErrorKindRateLimit
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return outcome.ErrorKindAuth
	}
	return outcome.ErrorKindOther
}

// AuthError is how adapters signal an irrecoverable credential failure;
// the engine reacts by disconnecting the account.
type AuthError struct {
	Platform domain.Platform
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth failure: %s", e.Platform, e.Message)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
