// Package users stores accounts and their role assignments.
package users

import (
	"context"

	"github.com/dmitrijs2005/authservice/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	// Roles returns the user's role codes in assignment order, never nil.
	Roles(ctx context.Context, userID string) ([]string, error)
	FindRoleByCode(ctx context.Context, code string) (*models.Role, error)
	AssignRole(ctx context.Context, userID, roleID string, position int) error
}
