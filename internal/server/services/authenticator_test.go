package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifyCredentials(t *testing.T) {
	m := repomanager.NewInMemoryRepositoryManager()
	alice := m.AddUser(&models.User{UserName: "alice", Email: "alice@example.com", PasswordHash: hashFor(t, "wonderland")})

	legacy, err := bcrypt.GenerateFromPassword([]byte("old-school"), bcrypt.MinCost)
	require.NoError(t, err)
	carol := m.AddUser(&models.User{UserName: "carol", Email: "carol@example.com", PasswordHash: string(legacy)})

	db, _ := newSQLMockDB(t)
	a := NewPasswordAuthenticator(db, m, testHashParams)
	ctx := context.Background()

	tests := []struct {
		name    string
		login   string
		pass    string
		wantID  string
		wantErr error
	}{
		{name: "by username", login: "alice", pass: "wonderland", wantID: alice.ID},
		{name: "by email", login: "alice@example.com", pass: "wonderland", wantID: alice.ID},
		{name: "email any case", login: "ALICE@example.com", pass: "wonderland", wantID: alice.ID},
		{name: "bcrypt hash", login: "carol", pass: "old-school", wantID: carol.ID},
		{name: "wrong password", login: "alice", pass: "nope", wantErr: common.ErrInvalidCredentials},
		{name: "unknown user", login: "mallory", pass: "wonderland", wantErr: common.ErrInvalidCredentials},
		{name: "empty login", login: "", pass: "x", wantErr: common.ErrInvalidCredentials},
		{name: "empty password", login: "alice", pass: "", wantErr: common.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := a.VerifyCredentials(ctx, tt.login, tt.pass)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, u)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, u.ID)
		})
	}
}

func TestVerifyCredentials_UnknownAndWrongPasswordLookAlike(t *testing.T) {
	m := repomanager.NewInMemoryRepositoryManager()
	m.AddUser(&models.User{UserName: "alice", Email: "alice@example.com", PasswordHash: hashFor(t, "wonderland")})
	db, _ := newSQLMockDB(t)
	a := NewPasswordAuthenticator(db, m, testHashParams)

	_, errUnknown := a.VerifyCredentials(context.Background(), "mallory", "pw")
	_, errWrong := a.VerifyCredentials(context.Background(), "alice", "pw")

	assert.Equal(t, errUnknown, errWrong)
	assert.NotEmpty(t, a.dummyHash, "unknown users must still run a hash verification")
}

func TestVerifyCredentials_Internal(t *testing.T) {
	t.Run("repository failure", func(t *testing.T) {
		m := &failingManager{InMemoryRepositoryManager: repomanager.NewInMemoryRepositoryManager(), users: brokenUsers{}}
		db, _ := newSQLMockDB(t)
		a := NewPasswordAuthenticator(db, m, testHashParams)

		_, err := a.VerifyCredentials(context.Background(), "alice", "pw")
		require.ErrorIs(t, err, common.ErrorInternal)
		require.NotErrorIs(t, err, common.ErrInvalidCredentials)
	})

	t.Run("unsupported stored hash", func(t *testing.T) {
		m := repomanager.NewInMemoryRepositoryManager()
		m.AddUser(&models.User{UserName: "dave", Email: "dave@example.com", PasswordHash: "plaintext"})
		db, _ := newSQLMockDB(t)
		a := NewPasswordAuthenticator(db, m, testHashParams)

		_, err := a.VerifyCredentials(context.Background(), "dave", "plaintext")
		require.ErrorIs(t, err, common.ErrorInternal)
	})
}
