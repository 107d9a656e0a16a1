package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/outcome"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/selector"
	"github.com/sendloop/rotor/internal/store"
)

type handlers struct {
	selector *selector.Selector
	reporter *outcome.Reporter
	policies policy.Store
	accounts store.AccountStore
}

type acquireRequest struct {
	TenantID string `json:"tenant_id"`
	Platform string `json:"platform"`
	Action   string `json:"action"`
}

type acquireResponse struct {
	Account     *domain.Account     `json:"account"`
	Reservation *domain.Reservation `json:"reservation"`
}

type outcomeRequest struct {
	Token     string `json:"token"`
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// acquire is the single integration point a campaign dispatcher needs.
func (h *handlers) acquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.TenantID == "" || req.Platform == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tenant_id, platform, and action are required")
		return
	}

	acct, res, err := h.selector.Acquire(r.Context(), req.TenantID, domain.Platform(req.Platform), domain.ActionType(req.Action))
	if err != nil {
		writeAcquireError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acquireResponse{Account: acct, Reservation: res})
}

func writeAcquireError(w http.ResponseWriter, err error) {
	var pe *domain.PoolExhaustedError
	switch {
	case errors.As(err, &pe):
		// 429 with Retry-After so generic HTTP clients back off
		// correctly.
		secs := int(time.Until(pe.RetryAfter).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      err.Error(),
			Kind:       "pool_exhausted",
			RetryAfter: pe.RetryAfter.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, domain.ErrNoActiveAccounts):
		writeError(w, http.StatusConflict, "no_active_accounts", err.Error())
	case domain.IsPolicyConfig(err):
		writeError(w, http.StatusUnprocessableEntity, "invalid_policy", err.Error())
	default:
		log.Error().Err(err).Msg("Acquire failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// reportOutcome is the only path platform adapters have into the
// engine.
func (h *handlers) reportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "token is required")
		return
	}

	err := h.reporter.Report(r.Context(), req.Token, req.Success, outcome.ErrorKind(req.ErrorKind))
	if err != nil {
		var te *domain.TokenError
		if errors.As(err, &te) {
			writeError(w, http.StatusConflict, "invalid_token", err.Error())
			return
		}
		log.Error().Err(err).Msg("Outcome report failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := h.policies.Get(r.Context(), vars["tenant"], domain.Platform(vars["platform"]))
	if err != nil {
		log.Error().Err(err).Msg("Policy load failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) setPolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var p domain.RotationPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	p.TenantID = vars["tenant"]
	p.Platform = domain.Platform(vars["platform"])

	if err := h.policies.Set(r.Context(), &p); err != nil {
		if domain.IsPolicyConfig(err) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_policy", err.Error())
			return
		}
		log.Error().Err(err).Msg("Policy save failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

func (h *handlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	platform := r.URL.Query().Get("platform")
	if tenant == "" || platform == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tenant and platform query params are required")
		return
	}

	accounts, err := h.accounts.List(r.Context(), tenant, domain.Platform(platform))
	if err != nil {
		log.Error().Err(err).Msg("Account list failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type createAccountRequest struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenant_id"`
	Platform string `json:"platform"`
	Proxy    string `json:"proxy,omitempty"`
}

func (h *handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.TenantID == "" || req.Platform == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tenant_id and platform are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	acct := &domain.Account{
		ID:          req.ID,
		TenantID:    req.TenantID,
		Platform:    domain.Platform(req.Platform),
		Status:      domain.StatusPending,
		Proxy:       req.Proxy,
		HealthScore: 1.0,
	}
	if err := h.accounts.Create(r.Context(), acct); err != nil {
		writeError(w, http.StatusConflict, "create_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) setAccountStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	status := domain.AccountStatus(req.Status)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown status "+req.Status)
		return
	}

	if err := h.accounts.UpdateStatus(r.Context(), vars["id"], status); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		log.Error().Err(err).Msg("Status update failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
