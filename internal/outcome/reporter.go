package outcome

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/health"
	"github.com/sendloop/rotor/internal/metrics"
	"github.com/sendloop/rotor/internal/store"
)

// ErrorKind classifies a failed action for status handling. An auth
// failure is irrecoverable and moves the account to disconnected
// immediately, regardless of health score.
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindAuth      ErrorKind = "auth"
	ErrorKindRateLimit ErrorKind = "rate_limited"
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindOther     ErrorKind = "other"
)

// Reporter is the only path platform adapters have back into the
// engine.
type Reporter struct {
	ledger   Ledger
	accounts store.AccountStore
	scorer   *health.Scorer
	metrics  *metrics.Registry
}

// NewReporter creates an outcome reporter. metrics may be nil.
func NewReporter(ledger Ledger, accounts store.AccountStore, scorer *health.Scorer, m *metrics.Registry) *Reporter {
	r := &Reporter{
		ledger:   ledger,
		accounts: accounts,
		scorer:   scorer,
		metrics:  m,
	}
	if m != nil {
		scorer.OnDisconnect(func(health.DisconnectEvent) {
			m.HealthDisconnects.Inc()
		})
	}
	return r
}

// Report consumes the reservation token and folds the result into the
// account's counters, health score, and status. A token can be spent
// only once; a second report for the same token returns a
// *domain.TokenError.
func (r *Reporter) Report(ctx context.Context, token string, success bool, kind ErrorKind) error {
	res, err := r.ledger.Consume(ctx, token)
	if err != nil {
		var te *domain.TokenError
		if r.metrics != nil && errors.As(err, &te) {
			r.metrics.DoubleReportsDenied.Inc()
		}
		return err
	}

	if r.metrics != nil {
		result := "success"
		if !success {
			result = "failure"
		}
		r.metrics.OutcomesTotal.WithLabelValues(string(res.Platform), result).Inc()
	}

	if !success && kind == ErrorKindAuth {
		// Irrecoverable auth failure: pull the account out of rotation
		// before the health score has a chance to decay there.
		if err := r.accounts.UpdateStatus(ctx, res.AccountID, domain.StatusDisconnected); err != nil {
			return fmt.Errorf("disconnect account %s: %w", res.AccountID, err)
		}
		log.Warn().
			Str("account", res.AccountID).
			Str("tenant", res.TenantID).
			Str("platform", string(res.Platform)).
			Msg("Account disconnected: auth failure reported")
	}

	if err := r.scorer.OnOutcome(ctx, res.AccountID, success); err != nil {
		return fmt.Errorf("update health score: %w", err)
	}

	log.Debug().
		Str("account", res.AccountID).
		Str("action", string(res.Action)).
		Bool("success", success).
		Str("error_kind", string(kind)).
		Msg("Outcome reported")
	return nil
}
