package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendloop/rotor/internal/domain"
	"github.com/sendloop/rotor/internal/health"
	"github.com/sendloop/rotor/internal/outcome"
	"github.com/sendloop/rotor/internal/policy"
	"github.com/sendloop/rotor/internal/selector"
	"github.com/sendloop/rotor/internal/store"
	"github.com/sendloop/rotor/internal/usage"
)

type env struct {
	store   *store.MemoryStore
	handler http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	s := store.NewMemoryStore()
	policies := policy.NewMemoryStore()
	ledger := outcome.NewMemoryLedger()
	sel := selector.New(s, policies, usage.NewTracker(s), selector.NewMemoryCursorStore(), ledger, nil)
	reporter := outcome.NewReporter(ledger, s, health.NewScorer(s), nil)

	srv := NewServer(ServerConfig{Addr: ":0"}, sel, reporter, policies, s, nil)
	return &env{store: s, handler: srv.Handler()}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) addActive(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.store.Create(context.Background(), &domain.Account{
		ID:          id,
		TenantID:    "t1",
		Platform:    domain.PlatformFacebook,
		Status:      domain.StatusActive,
		HealthScore: 1.0,
	}))
}

func TestAcquireEndpoint(t *testing.T) {
	e := newEnv(t)
	e.addActive(t, "a1")

	rec := e.do(t, http.MethodPost, "/v1/acquire", acquireRequest{
		TenantID: "t1", Platform: "facebook", Action: "message",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp acquireResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "a1", resp.Account.ID)
	assert.NotEmpty(t, resp.Reservation.Token)
}

func TestAcquireMissingFields(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/acquire", acquireRequest{TenantID: "t1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcquireNoActiveAccounts(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/acquire", acquireRequest{
		TenantID: "t1", Platform: "facebook", Action: "message",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "no_active_accounts", resp.Kind)
}

func TestAcquireExhaustedReturns429(t *testing.T) {
	e := newEnv(t)
	e.addActive(t, "a1")

	// Single account, limit 1: the second acquire is exhaustion.
	p := policy.Defaults("t1", domain.PlatformFacebook)
	p.Strategy = domain.StrategyLeastUsed
	p.CooldownMinutes = 0
	p.DailyLimits = map[domain.ActionType]int{domain.ActionMessage: 1}
	rec := e.do(t, http.MethodPut, "/v1/policies/t1/facebook", p)
	require.Equal(t, http.StatusOK, rec.Code)

	body := acquireRequest{TenantID: "t1", Platform: "facebook", Action: "message"}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/acquire", body).Code)

	rec = e.do(t, http.MethodPost, "/v1/acquire", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, secs, 0)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pool_exhausted", resp.Kind)
	assert.NotEmpty(t, resp.RetryAfter)
}

func TestAcquireInvalidPolicy(t *testing.T) {
	e := newEnv(t)
	e.addActive(t, "a1")

	rec := e.do(t, http.MethodPost, "/v1/acquire", acquireRequest{
		TenantID: "t1", Platform: "facebook", Action: "group_add",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "no daily limit configured for the action")
}

func TestOutcomeRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.addActive(t, "a1")

	rec := e.do(t, http.MethodPost, "/v1/acquire", acquireRequest{
		TenantID: "t1", Platform: "facebook", Action: "message",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp acquireResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	rec = e.do(t, http.MethodPost, "/v1/outcomes", outcomeRequest{Token: resp.Reservation.Token, Success: true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Double report is fenced.
	rec = e.do(t, http.MethodPost, "/v1/outcomes", outcomeRequest{Token: resp.Reservation.Token, Success: true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOutcomeUnknownToken(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/outcomes", outcomeRequest{Token: "nope", Success: true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPolicyGetDefaults(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/policies/t1/facebook", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var p domain.RotationPolicy
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, domain.StrategySequential, p.Strategy)
}

func TestPolicyPutValidates(t *testing.T) {
	e := newEnv(t)

	p := policy.Defaults("ignored", domain.PlatformFacebook)
	p.Strategy = "bogus"
	rec := e.do(t, http.MethodPut, "/v1/policies/t1/facebook", p)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPolicyPutOverridesIdentityFromPath(t *testing.T) {
	e := newEnv(t)

	p := policy.Defaults("other-tenant", domain.PlatformWhatsApp)
	rec := e.do(t, http.MethodPut, "/v1/policies/t1/facebook", p)
	require.Equal(t, http.StatusOK, rec.Code)

	var saved domain.RotationPolicy
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&saved))
	assert.Equal(t, "t1", saved.TenantID)
	assert.Equal(t, domain.PlatformFacebook, saved.Platform)
}

func TestAccountLifecycle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/accounts", createAccountRequest{
		TenantID: "t1", Platform: "facebook", Proxy: "socks5://127.0.0.1:9050",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var acct domain.Account
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&acct))
	assert.NotEmpty(t, acct.ID)
	assert.Equal(t, domain.StatusPending, acct.Status)
	assert.Equal(t, 1.0, acct.HealthScore)

	rec = e.do(t, http.MethodPut, "/v1/accounts/"+acct.ID+"/status", statusRequest{Status: "active"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/accounts?tenant=t1&platform=facebook", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*domain.Account
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusActive, list[0].Status)
}

func TestAccountStatusValidation(t *testing.T) {
	e := newEnv(t)
	e.addActive(t, "a1")

	rec := e.do(t, http.MethodPut, "/v1/accounts/a1/status", statusRequest{Status: "zombie"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/v1/accounts/missing/status", statusRequest{Status: "inactive"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAccountsRequiresParams(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/accounts", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
