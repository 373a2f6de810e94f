package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/cryptox"
	"github.com/dmitrijs2005/authservice/internal/logging"
	"github.com/dmitrijs2005/authservice/internal/server/auth"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authservice/internal/server/services"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "http-api-test-secret-0123456789abcdef"
	accessTTL  = 15 * time.Minute
	refreshTTL = 24 * time.Hour
)

var testHashParams = cryptox.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type apiFixture struct {
	router *mux.Router
	repos  *repomanager.InMemoryRepositoryManager
	codec  *auth.TokenCodec
	clock  *clock
	mock   sqlmock.Sqlmock
	reg    *prometheus.Registry
	logs   *bytes.Buffer
	alice  *models.User
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repos := repomanager.NewInMemoryRepositoryManager()
	hash := func(pw string) string {
		h, err := cryptox.HashPassword([]byte(pw), testHashParams)
		require.NoError(t, err)
		return h
	}
	alice := repos.AddUser(&models.User{
		UserName: "alice", Email: "alice@example.com", PasswordHash: hash("wonderland"),
	}, "ADMIN", "OWNER")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	km, err := auth.NewKeyMaterial(testSecret, accessTTL)
	require.NoError(t, err)
	codec := auth.NewTokenCodec(km, auth.WithClock(c.Now))

	store, err := services.NewRefreshTokenStore(db, repos, refreshTTL, services.WithStoreClock(c.Now))
	require.NoError(t, err)
	authn := services.NewPasswordAuthenticator(db, repos, testHashParams)
	sessions := services.NewSessionService(db, repos, authn, codec, store, nil)

	logs := &bytes.Buffer{}
	reg := prometheus.NewRegistry()
	h := NewHandler(sessions, codec, CookieConfig{
		Name:   common.RefreshCookieName,
		Path:   common.RefreshCookiePath,
		MaxAge: refreshTTL,
	}, NewMetrics(reg), logging.NewJSON(logs, "debug"))

	return &apiFixture{
		router: NewRouter(h, reg),
		repos:  repos,
		codec:  codec,
		clock:  c,
		mock:   mock,
		reg:    reg,
		logs:   logs,
		alice:  alice,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"alice","password":"wonderland"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := refreshCookie(rec)
	require.NotNil(t, c)
	return rec, c
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == common.RefreshCookieName {
			return c
		}
	}
	return nil
}

func setCookieHeader(rec *httptest.ResponseRecorder) string {
	for _, v := range rec.Header().Values("Set-Cookie") {
		if strings.HasPrefix(v, common.RefreshCookieName+"=") {
			return v
		}
	}
	return ""
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}
