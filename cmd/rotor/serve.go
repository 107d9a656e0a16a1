package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sendloop/rotor/internal/config"
	"github.com/sendloop/rotor/internal/health"
	httpapi "github.com/sendloop/rotor/internal/interfaces/http"
	"github.com/sendloop/rotor/internal/metrics"
	"github.com/sendloop/rotor/internal/outcome"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/selector"
	"github.com/sendloop/rotor/internal/store"
	"github.com/sendloop/rotor/internal/store/postgres"
	"github.com/sendloop/rotor/internal/usage"
)

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		accounts store.AccountStore
		policies policy.Store
	)
	switch cfg.Store.Backend {
	case "postgres":
		db, err := postgres.Connect(cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
		accounts = postgres.NewAccountStore(db, cfg.Store.Timeout)
		pg := postgres.NewPolicyStore(db, cfg.Store.Timeout)
		if defaults := cfg.PolicyDefaults(); defaults != nil {
			pg.WithDefaults(defaults)
		}
		policies = pg
		log.Info().Msg("Using postgres account store")
	default:
		accounts = store.NewMemoryStore()
		mem := policy.NewMemoryStore()
		if defaults := cfg.PolicyDefaults(); defaults != nil {
			mem.WithDefaults(defaults)
		}
		policies = mem
		log.Info().Msg("Using in-memory account store")
	}

	var ledger outcome.Ledger
	if cfg.Redis.Addr != "" {
		rl := outcome.NewRedisLedger(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rl.Close()
		ledger = rl
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis reservation ledger")
	} else {
		ledger = outcome.NewMemoryLedger()
	}

	registry := metrics.NewRegistry()
	promReg := prometheus.NewRegistry()
	if err := registry.Register(promReg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	tracker := usage.NewTracker(accounts)
	scorer := health.NewScorer(accounts)
	sel := selector.New(accounts, policies, tracker, selector.NewMemoryCursorStore(), ledger, registry)
	reporter := outcome.NewReporter(ledger, accounts, scorer, registry)

	server := httpapi.NewServer(httpapi.ServerConfig{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, sel, reporter, policies, accounts, promReg)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	return server.Shutdown(context.Background())
}
