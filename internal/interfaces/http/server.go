// Package http exposes the engine's machine surface: acquire, outcome
// reporting, and the policy/account configuration calls the dashboard
// forms drive. The dashboard itself lives elsewhere; this is only its
// backend.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sendloop/rotor/internal/outcome"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/selector"
	"github.com/sendloop/rotor/internal/store"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the engine's HTTP API server.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *handlers
	cfg      ServerConfig
}

// NewServer creates the API server over the engine collaborators.
func NewServer(cfg ServerConfig, sel *selector.Selector, reporter *outcome.Reporter, policies policy.Store, accounts store.AccountStore, gatherer prometheus.Gatherer) *Server {
	router := mux.NewRouter()

	s := &Server{
		router: router,
		handlers: &handlers{
			selector: sel,
			reporter: reporter,
			policies: policies,
			accounts: accounts,
		},
		cfg: cfg,
	}
	s.setupRoutes(gatherer)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/acquire", s.handlers.acquire).Methods(http.MethodPost)
	api.HandleFunc("/outcomes", s.handlers.reportOutcome).Methods(http.MethodPost)

	api.HandleFunc("/policies/{tenant}/{platform}", s.handlers.getPolicy).Methods(http.MethodGet)
	api.HandleFunc("/policies/{tenant}/{platform}", s.handlers.setPolicy).Methods(http.MethodPut)

	api.HandleFunc("/accounts", s.handlers.listAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handlers.createAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/status", s.handlers.setAccountStatus).Methods(http.MethodPut)

	s.router.HandleFunc("/health", s.handlers.health).Methods(http.MethodGet)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("HTTP API listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
