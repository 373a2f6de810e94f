package authctl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/cryptox"
	"github.com/dmitrijs2005/authservice/internal/dbx"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authservice/internal/server/services"
)

// NewUser is the input of CreateUser. Roles are role codes in the order
// they are assigned.
type NewUser struct {
	UserName   string
	Email      string
	Cellular   string
	Attachment string
	Roles      []string
}

func (n NewUser) validate() error {
	var errs []error
	if n.UserName == "" {
		errs = append(errs, errors.New("-username is required"))
	}
	if n.Email == "" {
		errs = append(errs, errors.New("-email is required"))
	}
	return errors.Join(errs...)
}

// CreateUser hashes password and stores the user together with its role
// assignments in one transaction. Unknown role codes abort the whole
// operation.
func CreateUser(ctx context.Context, db *sql.DB, m repomanager.RepositoryManager, n NewUser, password []byte, params cryptox.Params) (*models.User, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}

	hash, err := cryptox.HashPassword(password, params)
	if err != nil {
		return nil, err
	}

	var created *models.User
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.Users(tx)

		roles := make([]*models.Role, 0, len(n.Roles))
		for _, code := range n.Roles {
			role, err := repo.FindRoleByCode(ctx, code)
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("unknown role %q: %w", code, err)
			}
			if err != nil {
				return err
			}
			roles = append(roles, role)
		}

		u, err := repo.Create(ctx, &models.User{
			UserName:     n.UserName,
			Email:        n.Email,
			Cellular:     n.Cellular,
			Attachment:   n.Attachment,
			PasswordHash: hash,
		})
		if errors.Is(err, common.ErrorConflict) {
			return fmt.Errorf("user %q or email %q: %w", n.UserName, n.Email, err)
		}
		if err != nil {
			return err
		}

		for i, role := range roles {
			if err := repo.AssignRole(ctx, u.ID, role.ID, i); err != nil {
				return err
			}
			u.Roles = append(u.Roles, role.Code)
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RevokeSessions deletes every refresh token of the named user through the
// token store, the same path the service uses for a global logout.
func RevokeSessions(ctx context.Context, db *sql.DB, m repomanager.RepositoryManager, store *services.RefreshTokenStore, username string) (int64, error) {
	u, err := m.Users(db).FindByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("user %q: %w", username, err)
	}
	return store.RevokeAll(ctx, u.ID)
}
