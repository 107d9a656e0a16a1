package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "rotor"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Account rotation and rate-limit scheduler",
		Version: version,
		Long: `rotor picks one eligible automation account per outbound action,
enforcing per-account daily limits and cooldowns even under concurrent
campaign workers.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rotation engine HTTP API",
		Long:  "Serve the acquire/outcome/policy/account API backed by the configured store",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to YAML config file")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-memory campaign simulation",
		Long:  "Spawn concurrent workers against an in-memory pool and report claim distribution",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().Int("accounts", 3, "Accounts in the pool")
	simulateCmd.Flags().Int("workers", 16, "Concurrent campaign workers")
	simulateCmd.Flags().Int("actions", 100, "Actions to attempt")
	simulateCmd.Flags().Int("daily-limit", 25, "Per-account daily limit")
	simulateCmd.Flags().String("strategy", "least_used", "Rotation strategy (sequential|random|least_used|cooldown|weighted)")
	simulateCmd.Flags().Int("cooldown-minutes", 0, "Cooldown minutes applied per claim")
	simulateCmd.Flags().Float64("failure-rate", 0.05, "Simulated adapter failure rate")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, keeping info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
