package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/common/config"
	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/detector"
	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/identity"
	"payment-orchestrator/internal/localstate"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/notifier"
	"payment-orchestrator/internal/orchestrator"
)

// ==========================
// Test Helper Functions
// ==========================

// fakeBackend serves both the gateway adapter and the orchestrator.
type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]json.RawMessage
	errs      map[string]error
}

func (f *fakeBackend) Call(ctx context.Context, method, path string, body interface{}, params url.Values) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	return f.responses[path], nil
}

// failWith makes every call to path return err; a nil err clears the fault.
func (f *fakeBackend) failWith(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[string]error{}
	}
	if err == nil {
		delete(f.errs, path)
		return
	}
	f.errs[path] = err
}

func (f *fakeBackend) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func newTestServer(t *testing.T) (*Server, *fakeBackend, *localstate.Store) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewTestLogger(t)
	store := localstate.New(rdb, "test", log)

	backend := &fakeBackend{
		calls: map[string]int{},
		responses: map[string]json.RawMessage{
			"/payments/paypal/orders":  json.RawMessage(`{"order_id":"ORDER-1","approval_url":"https://checkout.example.com/approve"}`),
			"/payments/stripe/intents": json.RawMessage(`{"payment_intent_id":"pi_1","client_secret":"pi_1_secret"}`),
			"/payments/paypal/confirm": json.RawMessage(`{"success":true,"has_active_membership":true,"profile":{"user_id":"user-1","profile_type":"0","has_active_membership":true,"account_step":0}}`),
			"/payments/stripe/confirm": json.RawMessage(`{"success":true,"has_active_membership":true}`),
			"/profile":                 json.RawMessage(`{"user_id":"user-1","profile_type":"0","has_active_membership":true,"account_step":0}`),
		},
	}

	resolver := identity.NewResolver(log,
		identity.Source{
			Name: "cached_profile",
			Lookup: func(ctx context.Context) (string, error) {
				profile, err := store.CachedProfile(ctx)
				if err != nil || profile == nil {
					return "", err
				}
				return profile.UserID, nil
			},
		},
	)

	orch := orchestrator.New(backend, store, resolver, notifier.New(log), log)
	srv := New(config.ServerConfig{Port: 0}, gateway.NewAdapter(backend, log), nil, orch, nil, nil, log)
	return srv, backend, store
}

func signIn(t *testing.T, store *localstate.Store) {
	ctx := context.Background()
	require.NoError(t, store.SetAuthToken(ctx, "valid-token"))
	require.NoError(t, store.SetCachedProfile(ctx, &models.UserSessionState{
		UserID:      "user-1",
		ProfileType: models.ProfileMember,
	}))
}

func doJSON(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

// ==========================
// Initialize Tests
// ==========================

func TestHandleInitialize_Redirect(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/initialize",
		`{"plan_id":7,"amount":49.99,"currency":"AUD","hours":10,"gateway":"REDIRECT"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp initializeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ORDER-1", resp.ExternalReference)
	assert.Equal(t, models.GatewayRedirect, resp.Gateway)
	assert.Equal(t, "https://checkout.example.com/approve", resp.ApprovalURL)
	assert.Empty(t, resp.ClientSecret)
}

func TestHandleInitialize_Tokenized(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/initialize",
		`{"plan_id":7,"amount":49.99,"currency":"AUD","gateway":"TOKENIZED"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp initializeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pi_1", resp.ExternalReference)
	assert.Equal(t, "pi_1_secret", resp.ClientSecret)
}

func TestHandleInitialize_ValidationError(t *testing.T) {
	srv, backend, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/initialize",
		`{"plan_id":7,"amount":0,"currency":"AUD","gateway":"REDIRECT"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, backend.callCount("/payments/paypal/orders"))
}

// ==========================
// Navigation Event Tests
// ==========================

func initRedirectFlow(t *testing.T, srv *Server) string {
	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/initialize",
		`{"plan_id":7,"amount":49.99,"currency":"AUD","hours":10,"gateway":"REDIRECT"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp initializeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ExternalReference
}

func TestHandleNavigationEvent_LoadingThenSuccess(t *testing.T) {
	srv, backend, store := newTestServer(t)
	signIn(t, store)
	ref := initRedirectFlow(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events",
		`{"url":"https://checkout.example.com/checkoutnow?token=EC-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var loading navigationEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loading))
	assert.Equal(t, detector.StateLoading, loading.State)
	assert.True(t, loading.ContinueLoading)
	assert.Nil(t, loading.Result)

	rec = doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events",
		`{"url":"https://api.example.com/paypal/return?PayerID=ABC"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var done navigationEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, detector.StateSuccess, done.State)
	assert.False(t, done.ContinueLoading)
	assert.NotNil(t, done.Result)
	assert.Equal(t, 1, backend.callCount("/payments/paypal/confirm"))

	// Settled flows are torn down; a further event is unknown.
	rec = doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events",
		`{"url":"https://api.example.com/paypal/return?PayerID=ABC"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleNavigationEvent_RetryAfterBackendFailure(t *testing.T) {
	srv, backend, store := newTestServer(t)
	signIn(t, store)
	ref := initRedirectFlow(t, srv)

	backend.failWith("/payments/paypal/confirm", apperrors.NewServerError(502, "bad gateway"))

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events",
		`{"url":"https://api.example.com/paypal/return?PayerID=ABC"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1, backend.callCount("/payments/paypal/confirm"))

	// The flow stays registered; the next success event is the retry and must
	// reach the backend a second time.
	backend.failWith("/payments/paypal/confirm", nil)
	rec = doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events",
		`{"url":"https://api.example.com/paypal/return?PayerID=ABC"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var done navigationEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	require.NotNil(t, done.Result)
	assert.Equal(t, 2, backend.callCount("/payments/paypal/confirm"))

	data, _ := json.Marshal(done.Result)
	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, models.StatusSucceeded, result.Status)
}

func TestHandleNavigationEvent_Cancel(t *testing.T) {
	srv, backend, store := newTestServer(t)
	signIn(t, store)
	ref := initRedirectFlow(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events",
		`{"url":"https://checkout.example.com/checkoutnow?useraction=cancel"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp navigationEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, detector.StateCancelled, resp.State)
	assert.Equal(t, 0, backend.callCount("/payments/paypal/confirm"), "cancel never confirms")

	data, _ := json.Marshal(resp.Result)
	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, models.StatusCancelled, result.Status)
	assert.Equal(t, "Payment cancelled", result.Notice)
}

func TestHandleNavigationEvent_UnknownReference(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/NOPE/events",
		`{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleNavigationEvent_MissingURL(t *testing.T) {
	srv, _, store := newTestServer(t)
	signIn(t, store)
	ref := initRedirectFlow(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleNavigationEvent_TokenizedFlowRejected(t *testing.T) {
	srv, _, store := newTestServer(t)
	signIn(t, store)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/initialize",
		`{"plan_id":7,"amount":49.99,"currency":"AUD","gateway":"TOKENIZED"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/api/v1/payments/pi_1/events",
		`{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==========================
// Expiry And Cancel Endpoint Tests
// ==========================

func TestSettle_AuthExpiredTearsDown(t *testing.T) {
	srv, _, _ := newTestServer(t)
	// No sign-in: the orchestrator aborts with session expiry.
	ref := initRedirectFlow(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/events",
		`{"url":"https://api.example.com/paypal/return?PayerID=ABC"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AUTH_EXPIRED", resp.Code)

	// Expired flows are removed; the reference is gone.
	rec = doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancel(t *testing.T) {
	srv, _, store := newTestServer(t)
	signIn(t, store)
	ref := initRedirectFlow(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/"+ref+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp navigationEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, detector.StateCancelled, resp.State)
}

func TestHandleCardConfirm_NotConfigured(t *testing.T) {
	srv, _, store := newTestServer(t)
	signIn(t, store)

	rec := doJSON(srv, http.MethodPost, "/api/v1/payments/initialize",
		`{"plan_id":7,"amount":49.99,"currency":"AUD","gateway":"TOKENIZED"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/api/v1/payments/pi_1/card", `{"card_token":"tok_visa"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
