// Package metrics holds the Prometheus registry for the rotation
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the rotation engine.
type Registry struct {
	// Selector metrics
	AcquireTotal    *prometheus.CounterVec
	AcquireDuration *prometheus.HistogramVec
	ClaimConflicts  prometheus.Counter
	ClaimRetries    prometheus.Counter
	PoolExhausted   *prometheus.CounterVec
	CandidatePool   *prometheus.GaugeVec

	// Outcome metrics
	OutcomesTotal      *prometheus.CounterVec
	HealthDisconnects  prometheus.Counter
	DoubleReportsDenied prometheus.Counter

	// Dispatch metrics
	PacingWaits   prometheus.Counter
	BreakerStates *prometheus.GaugeVec
}

// NewRegistry creates the engine metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		AcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_acquire_total",
				Help: "Acquire calls by platform and result",
			},
			[]string{"platform", "result"},
		),
		AcquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotor_acquire_duration_seconds",
				Help:    "Duration of account acquisition in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"platform"},
		),
		ClaimConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotor_claim_conflicts_total",
				Help: "Compare-and-swap claim conflicts retried internally",
			},
		),
		ClaimRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotor_claim_retries_total",
				Help: "Selection retries after a candidate was claimed away",
			},
		),
		PoolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_pool_exhausted_total",
				Help: "Pool exhaustion results by platform and cause",
			},
			[]string{"platform", "cause"},
		),
		CandidatePool: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotor_candidate_pool_size",
				Help: "Eligible candidates seen by the last acquire per tenant/platform",
			},
			[]string{"tenant", "platform"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_outcomes_total",
				Help: "Reported action outcomes by platform and result",
			},
			[]string{"platform", "result"},
		),
		HealthDisconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotor_health_disconnects_total",
				Help: "Accounts auto-disconnected after the health score fell through the floor",
			},
		),
		DoubleReportsDenied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotor_double_reports_denied_total",
				Help: "Outcome reports rejected because the reservation token was already consumed",
			},
		),
		PacingWaits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotor_pacing_waits_total",
				Help: "Acquire calls delayed by the per-tenant pacing limiter",
			},
		),
		BreakerStates: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotor_breaker_state",
				Help: "Adapter circuit breaker state per platform (0=closed, 1=half-open, 2=open)",
			},
			[]string{"platform"},
		),
	}
}

// Register adds all metrics to a Prometheus registerer.
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.AcquireTotal,
		r.AcquireDuration,
		r.ClaimConflicts,
		r.ClaimRetries,
		r.PoolExhausted,
		r.CandidatePool,
		r.OutcomesTotal,
		r.HealthDisconnects,
		r.DoubleReportsDenied,
		r.PacingWaits,
		r.BreakerStates,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	log.Debug().Int("collectors", len(collectors)).Msg("Rotation metrics registered")
	return nil
}
