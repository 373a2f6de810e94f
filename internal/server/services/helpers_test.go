package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authservice/internal/cryptox"
	"github.com/dmitrijs2005/authservice/internal/dbx"
	"github.com/dmitrijs2005/authservice/internal/server/auth"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/authservice/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/authservice/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
)

const testSecret = "an-hmac-secret-of-at-least-32-bytes!"

var testHashParams = cryptox.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func hashFor(t *testing.T, password string) string {
	t.Helper()
	h, err := cryptox.HashPassword([]byte(password), testHashParams)
	require.NoError(t, err)
	return h
}

func newTestCodec(t *testing.T, clock *testClock, ttl time.Duration) *auth.TokenCodec {
	t.Helper()
	km, err := auth.NewKeyMaterial(testSecret, ttl)
	require.NoError(t, err)
	return auth.NewTokenCodec(km, auth.WithClock(clock.Now))
}

// failingManager wraps the in-memory manager and lets tests break one
// repository.
type failingManager struct {
	*repomanager.InMemoryRepositoryManager
	users  usersrepo.Repository
	tokens refreshtokensrepo.Repository
}

func (m *failingManager) Users(db dbx.DBTX) usersrepo.Repository {
	if m.users != nil {
		return m.users
	}
	return m.InMemoryRepositoryManager.Users(db)
}

func (m *failingManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository {
	if m.tokens != nil {
		return m.tokens
	}
	return m.InMemoryRepositoryManager.RefreshTokens(db)
}

var errDBDown = errors.New("db down")

type brokenUsers struct{ usersrepo.Repository }

func (brokenUsers) FindByUsername(context.Context, string) (*models.User, error) { return nil, errDBDown }
func (brokenUsers) FindByEmail(context.Context, string) (*models.User, error)    { return nil, errDBDown }
func (brokenUsers) FindByID(context.Context, string) (*models.User, error)       { return nil, errDBDown }
func (brokenUsers) Roles(context.Context, string) ([]string, error)              { return nil, errDBDown }

type brokenTokens struct{}

func (brokenTokens) Create(context.Context, *models.RefreshToken) (*models.RefreshToken, error) {
	return nil, errDBDown
}
func (brokenTokens) Find(context.Context, string) (*models.RefreshToken, error) { return nil, errDBDown }
func (brokenTokens) Delete(context.Context, string) (bool, error)               { return false, errDBDown }
func (brokenTokens) DeleteByUser(context.Context, string) (int64, error)        { return 0, errDBDown }
