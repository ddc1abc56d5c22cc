package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMiddleware(t *testing.T, skipAuth bool) (*Middleware, *Service, *JWTManager) {
	t.Helper()
	svc := NewService(newFakeKeyStore(), zaptest.NewLogger(t))
	mgr := NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	return NewMiddleware(svc, mgr, skipAuth), svc, mgr
}

// captureHandler records the identity the middleware attached.
func captureHandler(got **UserContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := GetUserContext(r.Context()); ok {
			*got = u
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRequiresCredentials(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, false)

	rec := httptest.NewRecorder()
	mw.Handler(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "authentication required")
}

func TestMiddlewareSkipAuth(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, true)

	var got *UserContext
	rec := httptest.NewRecorder()
	mw.Handler(captureHandler(&got)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "dev", got.UserID)
	assert.Equal(t, RoleAdmin, got.Role)
	assert.Equal(t, "none", got.AuthMethod)
	assert.True(t, got.HasScope(ScopeKeysManage))

	// X-User-ID switches the acting user in dev mode.
	got = nil
	req := httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil)
	req.Header.Set("X-User-ID", "alice")
	mw.Handler(captureHandler(&got)).ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
}

func TestMiddlewareAPIKeyHeader(t *testing.T) {
	mw, svc, _ := newTestMiddleware(t, false)

	_, raw, err := svc.CreateAPIKey(context.Background(), "user-1", "ci")
	require.NoError(t, err)

	var got *UserContext
	req := httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil)
	req.Header.Set("X-API-Key", raw)
	rec := httptest.NewRecorder()
	mw.Handler(captureHandler(&got)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "api_key", got.AuthMethod)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil)
	req.Header.Set("X-API-Key", "sk_bogus_key_that_does_not_exist")
	rec = httptest.NewRecorder()
	mw.Handler(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareBearerToken(t *testing.T) {
	mw, _, mgr := newTestMiddleware(t, false)

	pair, err := mgr.GenerateTokenPair("user-2", "u2@example.com", RoleUser)
	require.NoError(t, err)

	var got *UserContext
	req := httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	mw.Handler(captureHandler(&got)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-2", got.UserID)
	assert.Equal(t, "jwt", got.AuthMethod)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	mw.Handler(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	mw.Handler(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareStreamQueryParam(t *testing.T) {
	mw, svc, _ := newTestMiddleware(t, false)

	_, raw, err := svc.CreateAPIKey(context.Background(), "user-1", "ci")
	require.NoError(t, err)

	var got *UserContext
	req := httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc/stream?api_key="+raw, nil)
	rec := httptest.NewRecorder()
	mw.Handler(captureHandler(&got)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)

	// Query-parameter keys are only honored on streaming paths.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/writing/abc?api_key="+raw, nil)
	rec = httptest.NewRecorder()
	mw.Handler(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScopes(t *testing.T) {
	ctx := WithUserContext(context.Background(), &UserContext{
		UserID: "user-1",
		Role:   RoleUser,
		Scopes: scopesForRole(RoleUser),
	})

	require.NoError(t, RequireScopes(ctx, ScopeWritingSubmit))
	require.NoError(t, RequireScopes(ctx, ScopeWritingRead, ScopeProfilesRead))

	err := RequireScopes(ctx, ScopeKeysManage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ScopeKeysManage)

	err = RequireScopes(context.Background(), ScopeWritingRead)
	require.Error(t, err)
}
