package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/dbx"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/google/uuid"
)

const userColumns = `id, username, email, cellular, attachment, password_hash, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// newID is a seam for tests.
var newID = uuid.NewString

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = newID()
	}

	query :=
		`INSERT INTO users (id, username, email, cellular, attachment, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.UserName, user.Email, user.Cellular, user.Attachment, user.PasswordHash).
		Scan(&user.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.UserName, &user.Email, &user.Cellular, &user.Attachment, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, `username = $1`, username)
}

// FindByEmail matches case-insensitively.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `lower(email) = lower($1)`, email)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `id = $1`, id)
}

func (r *PostgresRepository) Roles(ctx context.Context, userID string) ([]string, error) {
	query :=
		`SELECT r.code FROM user_roles ur
		 JOIN list_roles r ON r.id = ur.role_id
		 WHERE ur.user_id = $1
		 ORDER BY ur.position, r.code
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return roles, nil
}

func (r *PostgresRepository) FindRoleByCode(ctx context.Context, code string) (*models.Role, error) {
	query := `SELECT id, code, name FROM list_roles WHERE code = $1`

	role := &models.Role{}
	err := r.db.QueryRowContext(ctx, query, code).Scan(&role.ID, &role.Code, &role.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return role, nil
}

func (r *PostgresRepository) AssignRole(ctx context.Context, userID, roleID string, position int) error {
	query :=
		`INSERT INTO user_roles (user_id, role_id, position)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, role_id) DO UPDATE SET position = EXCLUDED.position
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, roleID, position); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
