package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/logging"
	"github.com/dmitrijs2005/authservice/internal/server/auth"
	"github.com/dmitrijs2005/authservice/internal/server/services"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMe(t *testing.T) {
	f := newAPIFixture(t)
	rec, _ := f.login(t)
	token := decodeBody[map[string]any](t, rec)["accessToken"].(string)

	me := f.do(t, http.MethodGet, "/api/auth/me", "", withBearer(token))
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())

	info := decodeBody[services.UserInfo](t, me)
	assert.Equal(t, f.alice.ID, info.ID)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, []string{"ADMIN", "OWNER"}, info.Roles)
}

func TestMe_LogsGrantedPrincipal(t *testing.T) {
	f := newAPIFixture(t)
	rec, _ := f.login(t)
	token := decodeBody[map[string]any](t, rec)["accessToken"].(string)
	f.logs.Reset()

	me := f.do(t, http.MethodGet, "/api/auth/me", "", withBearer(token))
	require.Equal(t, http.StatusOK, me.Code)

	var entry struct {
		Msg      string    `json:"msg"`
		Username string    `json:"username"`
		IssuedAt time.Time `json:"issued_at"`
	}
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry.Msg == "access granted" {
			break
		}
	}
	require.Equal(t, "access granted", entry.Msg)
	assert.Equal(t, "alice", entry.Username)
	assert.True(t, entry.IssuedAt.Equal(f.clock.Now()), "issued_at %s", entry.IssuedAt)
}

func TestMe_Unauthenticated(t *testing.T) {
	f := newAPIFixture(t)
	rec, _ := f.login(t)
	token := decodeBody[map[string]any](t, rec)["accessToken"].(string)

	tests := []struct {
		name   string
		mutate func(*http.Request)
		reason string
	}{
		{name: "no header", mutate: func(*http.Request) {}, reason: "unauthenticated"},
		{name: "wrong scheme", mutate: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, reason: "unauthenticated"},
		{name: "garbage", mutate: withBearer("garbage"), reason: "malformed"},
		{name: "tampered", mutate: withBearer(token[:len(token)-2] + "xx"), reason: "invalid_signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.logs.Reset()
			res := f.do(t, http.MethodGet, "/api/auth/me", "", tt.mutate)
			assert.Equal(t, http.StatusUnauthorized, res.Code)
			assert.JSONEq(t, `{"message":"unauthorized"}`, res.Body.String())
			assert.Contains(t, f.logs.String(), `"reason":"`+tt.reason+`"`)
		})
	}
}

func TestMe_ExpiredToken(t *testing.T) {
	f := newAPIFixture(t)
	rec, _ := f.login(t)
	token := decodeBody[map[string]any](t, rec)["accessToken"].(string)

	f.clock.Advance(accessTTL)
	f.logs.Reset()

	res := f.do(t, http.MethodGet, "/api/auth/me", "", withBearer(token))
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.JSONEq(t, `{"message":"unauthorized"}`, res.Body.String())
	assert.Contains(t, f.logs.String(), `"reason":"expired"`)
}

func TestMe_PrincipalVanished(t *testing.T) {
	f := newAPIFixture(t)
	rec, _ := f.login(t)
	token := decodeBody[map[string]any](t, rec)["accessToken"].(string)

	f.repos.DeleteUser(f.alice.ID)

	res := f.do(t, http.MethodGet, "/api/auth/me", "", withBearer(token))
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"message":"user not found"}`, res.Body.String())
}

func TestLogin_BadRequests(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []string{"not json", `{"usernameOrEmail":"alice","password":"x","extra":1}`, `{"usernameOrEmail":"alice"} {}`} {
		rec := f.do(t, http.MethodPost, "/api/auth/login", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"message":"invalid request body"}`, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/auth/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLogin_ByEmail(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"alice@example.com","password":"wonderland"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, refreshCookie(rec))
}

func TestRefresh_ExpiredCookie(t *testing.T) {
	f := newAPIFixture(t)
	_, cookie := f.login(t)

	f.clock.Advance(refreshTTL)
	f.logs.Reset()

	rec := f.do(t, http.MethodPost, "/api/auth/refresh", "", withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"invalid or expired refresh token"}`, rec.Body.String())
	assert.Contains(t, f.logs.String(), `"reason":"expired"`)
	assert.Contains(t, setCookieHeader(rec), "Max-Age=0")
	assert.Empty(t, f.repos.Tokens(), "expired record is deleted")
}

func TestRefresh_UnknownCookie(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/refresh", "", withCookie(&http.Cookie{Name: common.RefreshCookieName, Value: "forged"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"invalid or expired refresh token"}`, rec.Body.String())
}

func TestLogout_WithoutCookie(t *testing.T) {
	f := newAPIFixture(t)
	_, _ = f.login(t)

	rec := f.do(t, http.MethodPost, "/api/auth/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, setCookieHeader(rec), "Max-Age=0")
	assert.Len(t, f.repos.Tokens(), 1)
}

func TestLogout_UnknownCookie(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/logout", "", withCookie(&http.Cookie{Name: common.RefreshCookieName, Value: "gone"}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"logged out"}`, rec.Body.String())
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t)
	f.do(t, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"alice","password":"bad"}`)

	health := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())

	metrics := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `authservice_session_operations_total{operation="login",outcome="success"} 1`)
	assert.Contains(t, metrics.Body.String(), `authservice_session_operations_total{operation="login",outcome="rejected"} 1`)
	assert.Contains(t, metrics.Body.String(), `route="/api/auth/login"`)
}

type stubSessions struct {
	err error
}

func (s stubSessions) Login(context.Context, string, string) (*services.LoginResult, error) {
	return nil, s.err
}
func (s stubSessions) Refresh(context.Context, string) (*services.RefreshResult, error) {
	return nil, s.err
}
func (s stubSessions) Logout(context.Context, string) (bool, error) { return false, s.err }
func (s stubSessions) CurrentUser(context.Context, string) (*services.UserInfo, error) {
	return nil, s.err
}
func (s stubSessions) RevokeAllSessions(context.Context, string) (int64, error) { return 0, s.err }

func TestInternalErrorsDoNotLeak(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	h := NewHandler(stubSessions{err: errors.New("pq: connection refused to 10.0.0.7")}, nil,
		CookieConfig{Name: common.RefreshCookieName, Path: "/"}, metrics, logging.Nop())
	router := NewRouter(h, reg)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"usernameOrEmail":"a","password":"b"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"internal error"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: common.RefreshCookieName, Value: "v"})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: common.RefreshCookieName, Value: "v"})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "logout never fails")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("login", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("refresh", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("logout", "noop")))
}

func TestLogoutAll_RequiresAccessToken(t *testing.T) {
	f := newAPIFixture(t)
	_, cookie := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/auth/logout-all", "", withCookie(cookie))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"unauthorized"}`, rec.Body.String())
	assert.Len(t, f.repos.Tokens(), 1)
}

func TestLogoutAll_PrincipalVanished(t *testing.T) {
	f := newAPIFixture(t)
	rec, _ := f.login(t)
	token := decodeBody[map[string]any](t, rec)["accessToken"].(string)

	f.repos.DeleteUser(f.alice.ID)

	res := f.do(t, http.MethodPost, "/api/auth/logout-all", "", withBearer(token))
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"message":"user not found"}`, res.Body.String())
}

type fixedVerifier struct{ username string }

func (v fixedVerifier) Verify(string) (*auth.Claims, error) {
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: v.username}}, nil
}

type revokeFailure struct{ stubSessions }

func (revokeFailure) CurrentUser(_ context.Context, username string) (*services.UserInfo, error) {
	return &services.UserInfo{ID: "u-1", Username: username}, nil
}

func TestLogoutAll_RevokeFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	h := NewHandler(revokeFailure{stubSessions{err: errors.New("pq: connection refused to 10.0.0.7")}}, fixedVerifier{"alice"},
		CookieConfig{Name: common.RefreshCookieName, Path: "/"}, metrics, logging.Nop())
	router := NewRouter(h, reg)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout-all", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"internal error"}`, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("logout_all", "error")))
}
