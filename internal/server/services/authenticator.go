package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/cryptox"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
)

// CredentialVerifier resolves a user from a login and password. Every
// credential mismatch is common.ErrInvalidCredentials.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, usernameOrEmail, password string) (*models.User, error)
}

// PasswordAuthenticator checks passwords against the users table.
type PasswordAuthenticator struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	params      cryptox.Params

	dummyOnce sync.Once
	dummyHash string
}

func NewPasswordAuthenticator(db *sql.DB, m repomanager.RepositoryManager, params cryptox.Params) *PasswordAuthenticator {
	return &PasswordAuthenticator{db: db, repomanager: m, params: params}
}

// VerifyCredentials looks the login up as a username, then as an email.
// An unknown login still costs one hash verification.
func (a *PasswordAuthenticator) VerifyCredentials(ctx context.Context, usernameOrEmail, password string) (*models.User, error) {
	if usernameOrEmail == "" || password == "" {
		return nil, common.ErrInvalidCredentials
	}

	user, err := a.lookup(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			a.burn(password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	ok, err := cryptox.VerifyPassword(user.PasswordHash, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", common.ErrorInternal, user.ID, err)
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	return user, nil
}

func (a *PasswordAuthenticator) lookup(ctx context.Context, login string) (*models.User, error) {
	repo := a.repomanager.Users(a.db)

	user, err := repo.FindByUsername(ctx, login)
	if err == nil || !errors.Is(err, common.ErrorNotFound) {
		return user, err
	}
	return repo.FindByEmail(ctx, login)
}

func (a *PasswordAuthenticator) burn(password string) {
	a.dummyOnce.Do(func() {
		seed := make([]byte, 32)
		_, _ = rand.Read(seed)
		a.dummyHash, _ = cryptox.HashPassword(seed, a.params)
	})
	if a.dummyHash != "" {
		_, _ = cryptox.VerifyPassword(a.dummyHash, []byte(password))
	}
}
