package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/dbx"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
)

// maxIssueAttempts bounds regeneration after a token value collision.
const maxIssueAttempts = 3

// RefreshTokenStore owns the refresh token records. Conflicting mutations
// on one value are serialised by the database: a DELETE that affects no row
// means another request already consumed the token.
type RefreshTokenStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ttl         time.Duration
	now         func() time.Time
	newValue    func() (string, error)
}

type StoreOption func(*RefreshTokenStore)

// WithStoreClock replaces time.Now, for tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *RefreshTokenStore) { s.now = now }
}

func randomTokenValue() (string, error) {
	return common.MakeRandHexString(common.RefreshTokenBytes)
}

func NewRefreshTokenStore(db *sql.DB, m repomanager.RepositoryManager, ttl time.Duration, opts ...StoreOption) (*RefreshTokenStore, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("refresh token: %w", common.ErrInvalidLifetime)
	}
	s := &RefreshTokenStore{
		db:          db,
		repomanager: m,
		ttl:         ttl,
		now:         time.Now,
		newValue:    randomTokenValue,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL is the lifetime given to every new record.
func (s *RefreshTokenStore) TTL() time.Duration {
	return s.ttl
}

// Issue persists a new refresh token for userID expiring now+TTL.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID string) (*models.RefreshToken, error) {
	return s.issue(ctx, s.repomanager.RefreshTokens(s.db), userID)
}

func (s *RefreshTokenStore) issue(ctx context.Context, repo refreshtokens.Repository, userID string) (*models.RefreshToken, error) {
	for attempt := 1; ; attempt++ {
		rt, err := s.create(ctx, repo, userID)
		if err == nil {
			return rt, nil
		}
		if !errors.Is(err, common.ErrorConflict) || attempt == maxIssueAttempts {
			return nil, err
		}
	}
}

// create makes a single insert attempt with a fresh value.
func (s *RefreshTokenStore) create(ctx context.Context, repo refreshtokens.Repository, userID string) (*models.RefreshToken, error) {
	value, err := s.newValue()
	if err != nil {
		return nil, fmt.Errorf("error generating refresh token: %w", err)
	}

	rt, err := repo.Create(ctx, &models.RefreshToken{
		UserID:  userID,
		Token:   value,
		Expires: s.now().Add(s.ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating refresh token: %w", err)
	}
	return rt, nil
}

// FindByValue is a pure lookup; an unknown value is common.ErrorNotFound.
func (s *RefreshTokenStore) FindByValue(ctx context.Context, value string) (*models.RefreshToken, error) {
	rt, err := s.repomanager.RefreshTokens(s.db).Find(ctx, value)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	return rt, nil
}

// VerifyNotExpired returns rt unchanged while it is live. An expired record
// is deleted before common.ErrRefreshTokenExpired is returned, so it cannot
// be used again.
func (s *RefreshTokenStore) VerifyNotExpired(ctx context.Context, rt *models.RefreshToken) (*models.RefreshToken, error) {
	if !rt.ExpiredAt(s.now()) {
		return rt, nil
	}
	if _, err := s.repomanager.RefreshTokens(s.db).Delete(ctx, rt.Token); err != nil {
		return nil, fmt.Errorf("error deleting expired refresh token: %w", err)
	}
	return nil, common.ErrRefreshTokenExpired
}

// Rotate deletes old and issues its replacement for the same user in one
// transaction. If old is already gone the result is common.ErrorNotFound
// and nothing is issued.
//
// A failed insert aborts the whole transaction on PostgreSQL, so a value
// collision rolls back the delete too and the rotation is retried in a new
// transaction.
func (s *RefreshTokenStore) Rotate(ctx context.Context, old *models.RefreshToken) (*models.RefreshToken, error) {
	for attempt := 1; ; attempt++ {
		rotated, err := s.rotate(ctx, old)
		if err == nil {
			return rotated, nil
		}
		if !errors.Is(err, common.ErrorConflict) || attempt == maxIssueAttempts {
			return nil, err
		}
	}
}

func (s *RefreshTokenStore) rotate(ctx context.Context, old *models.RefreshToken) (*models.RefreshToken, error) {
	var rotated *models.RefreshToken
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.RefreshTokens(tx)

		deleted, err := repo.Delete(ctx, old.Token)
		if err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		if !deleted {
			return common.ErrorNotFound
		}

		rotated, err = s.create(ctx, repo, old.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rotated, nil
}

// Revoke deletes value and reports whether it existed.
func (s *RefreshTokenStore) Revoke(ctx context.Context, value string) (bool, error) {
	deleted, err := s.repomanager.RefreshTokens(s.db).Delete(ctx, value)
	if err != nil {
		return false, fmt.Errorf("error revoking refresh token: %w", err)
	}
	return deleted, nil
}

// RevokeAll deletes every refresh token of userID.
func (s *RefreshTokenStore) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error revoking refresh tokens: %w", err)
	}
	return n, nil
}
