package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/testutil"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/profilesync"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/tokenguard"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

var testIdentity = &types.Identity{UserID: "user-1", Email: "user@example.com"}

type fixture struct {
	clock    *testutil.FakeClock
	provider *testutil.MockIdentityProvider
	session  *testutil.MockSession
	tier     *testutil.CountingTier
	store    *testutil.MemoryProfileStore
	reloader *testutil.RecordingReloader
	guard    *tokenguard.Guard
	sync     *profilesync.Coordinator
	server   *Server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, cfg backendtypes.BackendConfig, withSync bool) *fixture {
	t.Helper()
	f := &fixture{
		clock:    testutil.NewFakeClock(),
		provider: testutil.NewMockIdentityProvider(),
		session:  testutil.NewMockSession(testIdentity),
		tier:     testutil.NewCountingTier("memory"),
		store:    testutil.NewMemoryProfileStore(),
		reloader: &testutil.RecordingReloader{},
	}

	guard, err := tokenguard.New(tokenguard.Config{Clock: f.clock.Now, Jitter: func() float64 { return 1.0 }}, tokenguard.Dependencies{
		Provider:  f.provider,
		Session:   f.session,
		Tiers:     []tokenguard.CredentialTier{f.tier},
		Confirmer: testutil.NewMockConfirmer(false),
		Reloader:  f.reloader,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(guard.Reset)
	f.guard = guard

	if withSync {
		f.sync, err = profilesync.New(profilesync.Config{Clock: f.clock.Now}, profilesync.Dependencies{
			Gate:    guard,
			Store:   f.store,
			Session: f.session,
			Logger:  discardLogger(),
		})
		require.NoError(t, err)
	}

	cfg.Server.Version = "test"
	f.server = NewServer(cfg, guard, f.sync, discardLogger())
	return f
}

func (f *fixture) call(t *testing.T, method, target string, body string, data interface{}) (*httptest.ResponseRecorder, backendtypes.APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	resp := backendtypes.APIResponse{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	var health backendtypes.HealthResponse
	w, resp := f.call(t, http.MethodGet, "/health", "", &health)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)

	f.guard.BlockRequests("maintenance")
	_, _ = f.call(t, http.MethodGet, "/health", "", &health)
	assert.Equal(t, "degraded", health.Status)
}

func TestTokenStatus(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, true)
	f.guard.BlockRequests("maintenance")

	var status backendtypes.TokenStatusResponse
	w, _ := f.call(t, http.MethodGet, "/api/token/status", "", &status)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, status.SignedIn)
	assert.Equal(t, "user-1", status.UserID)
	assert.True(t, status.Blocked)
	assert.False(t, status.Healthy)
	assert.Equal(t, "maintenance", status.BlockReason)
	assert.Equal(t, 300, status.BlockRemainingSecs)
	assert.True(t, status.Health.Valid)
	require.NotNil(t, status.Sync)
	assert.Equal(t, "idle", status.Sync.State)
	assert.Equal(t, 120, status.Sync.PeriodSeconds)
}

func TestTokenStatus_KeepsPendingReload(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)
	f.guard.Observe(types.Observation{IdentityEndpoint: true, Outcome: types.HTTPError(401)})
	require.True(t, f.guard.IsBlocked())

	f.clock.Advance(6 * time.Minute)

	var status backendtypes.TokenStatusResponse
	w, _ := f.call(t, http.MethodGet, "/api/token/status", "", &status)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, status.Blocked)
	assert.True(t, status.ReloadPending)
	assert.Equal(t, 0, f.reloader.Count())

	assert.False(t, f.guard.IsBlocked())
	assert.Equal(t, 1, f.reloader.Count(), "the reload survives a status poll")
}

func TestBlockAndUnblock(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	var action backendtypes.ActionResponse
	w, _ := f.call(t, http.MethodPost, "/api/block", `{"reason":"incident 42"}`, &action)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, action.OK)
	assert.True(t, f.guard.IsBlocked())
	assert.Equal(t, "incident 42", f.guard.Blocker().Reason())

	w, _ = f.call(t, http.MethodDelete, "/api/block", "", &action)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.guard.IsBlocked())
}

func TestBlock_RejectsBadBody(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	w, resp := f.call(t, http.MethodPost, "/api/block", `{"reason": 7}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "server.request.invalid_input", resp.Error.Code)
	assert.False(t, f.guard.IsBlocked())
}

func TestHeal(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	var action backendtypes.ActionResponse
	w, _ := f.call(t, http.MethodPost, "/api/token/heal", "", &action)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, action.OK)
	assert.Equal(t, 1, f.provider.ForcedCalls())

	require.NoError(t, f.session.SignOut(context.Background()))
	w, resp := f.call(t, http.MethodPost, "/api/token/heal", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOT_SIGNED_IN", resp.Error.Code)
}

func TestPurge(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	// the confirmer declines
	var action backendtypes.ActionResponse
	_, _ = f.call(t, http.MethodPost, "/api/token/purge", `{"consent":true}`, &action)
	assert.False(t, action.OK)
	assert.Equal(t, 0, f.tier.Wipes())

	_, _ = f.call(t, http.MethodPost, "/api/token/purge", "", &action)
	assert.True(t, action.OK)
	assert.Equal(t, 1, f.tier.Wipes())
	assert.Equal(t, 1, f.session.SignOutCalls())
	assert.True(t, f.guard.IsBlocked())
	assert.True(t, f.guard.IsCircuitOpen())

	// debounced
	_, _ = f.call(t, http.MethodPost, "/api/token/purge", "", &action)
	assert.False(t, action.OK)
	assert.Equal(t, 1, f.tier.Wipes())
}

func TestSync(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, true)

	var action backendtypes.ActionResponse
	w, _ := f.call(t, http.MethodPost, "/api/sync", "", &action)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, action.OK)
	assert.Equal(t, 1, f.store.Writes())

	// inside the minimum interval only a forced sync runs
	_, _ = f.call(t, http.MethodPost, "/api/sync", "", &action)
	assert.False(t, action.OK)
	f.clock.Advance(time.Second)
	_, _ = f.call(t, http.MethodPost, "/api/sync?force=true", "", &action)
	assert.True(t, action.OK)
	assert.Equal(t, 2, f.store.Writes())

	w, _ = f.call(t, http.MethodPost, "/api/sync?force=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var status backendtypes.SyncStatus
	_, _ = f.call(t, http.MethodGet, "/api/sync", "", &status)
	assert.Equal(t, "idle", status.State)
	assert.NotNil(t, status.LastSuccessAt)

	_, _ = f.call(t, http.MethodPost, "/api/sync/reset-quota", "", &action)
	assert.True(t, action.OK)
}

func TestSync_Disabled(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	w, resp := f.call(t, http.MethodPost, "/api/sync", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SYNC_DISABLED", resp.Error.Code)
}

func TestRouting_Errors(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	w, resp := f.call(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	w, resp = f.call(t, http.MethodPut, "/api/block", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", resp.Error.Code)
}

func TestAuthProtectsAPI(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{Auth: backendtypes.AuthConfig{Enabled: true, APIKey: "k"}}, false)

	w, _ := f.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.call(t, http.MethodPost, "/api/block", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, f.guard.IsBlocked())
}

func TestClient_AgainstRunningServer(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{Auth: backendtypes.AuthConfig{Enabled: true, APIKey: "k"}}, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, f.server.Shutdown(ctx))
		require.NoError(t, <-done)
	})

	base := "http://" + ln.Addr().String()

	status, err := NewClient(base, "k").TokenStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", status.UserID)

	_, err = NewClient(base, "wrong").TokenStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNAUTHORIZED")

	health, err := NewClient(base, "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t, backendtypes.BackendConfig{}, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "trace-me", w.Header().Get("X-Request-ID"))
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`"request_id":"trace-me"`)))
}
