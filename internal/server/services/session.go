// Package services contains the server-side business logic: the refresh
// token store, password verification and the session operations built on
// top of them (login, refresh, logout and current-user lookup).
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/server/auth"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
)

// UserSummary is the minimal user info returned by login.
type UserSummary struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// UserInfo is the current-user view. Roles is never nil.
type UserInfo struct {
	ID         string   `json:"id"`
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	Cellular   string   `json:"cellular"`
	Attachment string   `json:"attachment"`
	Roles      []string `json:"roles"`
}

type LoginResult struct {
	AccessToken  string
	RefreshToken *models.RefreshToken
	User         UserSummary
}

// RefreshResult carries the new access token and the record that replaced
// the presented refresh token.
type RefreshResult struct {
	AccessToken  string
	RefreshToken *models.RefreshToken
}

// SessionService implements login, refresh, logout and current-user
// lookup. Refresh rotates: the presented refresh token is consumed and
// replaced, so a second use of the same value fails with
// common.ErrInvalidToken.
type SessionService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	authenticator CredentialVerifier
	codec         *auth.TokenCodec
	store         *RefreshTokenStore
	attachments   AttachmentResolver
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, authenticator CredentialVerifier,
	codec *auth.TokenCodec, store *RefreshTokenStore, attachments AttachmentResolver) *SessionService {
	return &SessionService{
		db:            db,
		repomanager:   m,
		authenticator: authenticator,
		codec:         codec,
		store:         store,
		attachments:   attachments,
	}
}

// Login verifies credentials and mints an access token and a refresh token.
func (s *SessionService) Login(ctx context.Context, usernameOrEmail, password string) (*LoginResult, error) {
	user, err := s.authenticator.VerifyCredentials(ctx, usernameOrEmail, password)
	if err != nil {
		return nil, err
	}

	roles, err := s.roles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	access, err := s.codec.Issue(user.UserName, roles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	refresh, err := s.store.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User: UserSummary{
			ID:       user.ID,
			Username: user.UserName,
			Email:    user.Email,
			Roles:    roles,
		},
	}, nil
}

// Refresh exchanges a refresh token value for a new access token and a
// replacement refresh token. Roles are read again so role changes apply.
func (s *SessionService) Refresh(ctx context.Context, value string) (*RefreshResult, error) {
	if value == "" {
		return nil, common.ErrUnauthenticated
	}

	rt, err := s.store.FindByValue(ctx, value)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	rt, err = s.store.VerifyNotExpired(ctx, rt)
	if err != nil {
		if errors.Is(err, common.ErrRefreshTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	user, err := s.repomanager.Users(s.db).FindByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	roles, err := s.roles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	next, err := s.store.Rotate(ctx, rt)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	access, err := s.codec.Issue(user.UserName, roles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	return &RefreshResult{AccessToken: access, RefreshToken: next}, nil
}

// Logout revokes value if it is known. The caller clears the cookie
// regardless of the outcome; the error is only for logging.
func (s *SessionService) Logout(ctx context.Context, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	return s.store.Revoke(ctx, value)
}

// CurrentUser resolves an authenticated principal. A user deleted after
// the token was issued is common.ErrorNotFound.
func (s *SessionService) CurrentUser(ctx context.Context, username string) (*UserInfo, error) {
	user, err := s.repomanager.Users(s.db).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	roles, err := s.roles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	attachment := user.Attachment
	if s.attachments != nil {
		if attachment, err = s.attachments.Resolve(ctx, user.Attachment); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
	}

	return &UserInfo{
		ID:         user.ID,
		Username:   user.UserName,
		Email:      user.Email,
		Cellular:   user.Cellular,
		Attachment: attachment,
		Roles:      roles,
	}, nil
}

// RevokeAllSessions ends every session of userID, e.g. after a password
// change.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	return s.store.RevokeAll(ctx, userID)
}

func (s *SessionService) roles(ctx context.Context, userID string) ([]string, error) {
	roles, err := s.repomanager.Users(s.db).Roles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}
