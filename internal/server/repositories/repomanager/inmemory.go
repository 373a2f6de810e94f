package repomanager

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/dbx"
	"github.com/dmitrijs2005/authservice/internal/server/models"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/users"
	"github.com/google/uuid"
)

// InMemoryRepositoryManager keeps users and refresh tokens in process
// memory. Repositories ignore the DBTX they are bound to, so a transaction
// around them only commits or rolls back the handle, not the data.
type InMemoryRepositoryManager struct {
	mu        sync.Mutex
	users     map[string]*models.User
	roles     map[string]*models.Role
	userRoles map[string][]string
	tokens    map[string]*models.RefreshToken
	nextID    int64
	lookups   int
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		users:     map[string]*models.User{},
		roles:     map[string]*models.Role{},
		userRoles: map[string][]string{},
		tokens:    map[string]*models.RefreshToken{},
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Users(dbx.DBTX) users.Repository {
	return &memUsers{m: m}
}

func (m *InMemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return &memTokens{m: m}
}

// AddUser stores u with the given role codes, creating unknown roles.
func (m *InMemoryRepositoryManager) AddUser(u *models.User, roleCodes ...string) *models.User {
	ctx := context.Background()
	ur := &memUsers{m: m}
	if _, err := ur.Create(ctx, u); err != nil {
		panic(err)
	}
	for i, code := range roleCodes {
		role, err := ur.FindRoleByCode(ctx, code)
		if err != nil {
			role = m.AddRole(code, code)
		}
		_ = ur.AssignRole(ctx, u.ID, role.ID, i)
	}
	return u
}

// AddRole stores a list_roles entry, replacing one with the same code.
func (m *InMemoryRepositoryManager) AddRole(code, name string) *models.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := &models.Role{ID: uuid.NewString(), Code: code, Name: name}
	m.roles[code] = role
	return role
}

// DeleteUser removes a user and, like the foreign key, its refresh tokens.
func (m *InMemoryRepositoryManager) DeleteUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	delete(m.userRoles, id)
	for k, t := range m.tokens {
		if t.UserID == id {
			delete(m.tokens, k)
		}
	}
}

// LookupCount is the number of refresh token reads so far.
func (m *InMemoryRepositoryManager) LookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

// Tokens returns a snapshot of the stored refresh tokens.
func (m *InMemoryRepositoryManager) Tokens() []models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RefreshToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, *t)
	}
	return out
}

type memUsers struct {
	m *InMemoryRepositoryManager
}

func (r *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, existing := range r.m.users {
		if existing.UserName == u.UserName || strings.EqualFold(existing.Email, u.Email) {
			return nil, common.ErrorConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	cp.Roles = nil
	r.m.users[u.ID] = &cp
	return u, nil
}

func (r *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsers) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.UserName == username })
}

func (r *memUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *memUsers) Roles(_ context.Context, userID string) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]string, 0, len(r.m.userRoles[userID]))
	for _, roleID := range r.m.userRoles[userID] {
		for _, role := range r.m.roles {
			if role.ID == roleID {
				out = append(out, role.Code)
			}
		}
	}
	return out, nil
}

func (r *memUsers) FindRoleByCode(_ context.Context, code string) (*models.Role, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	role, ok := r.m.roles[code]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *role
	return &cp, nil
}

// AssignRole appends; position only matters to the SQL ordering.
func (r *memUsers) AssignRole(_ context.Context, userID, roleID string, _ int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, id := range r.m.userRoles[userID] {
		if id == roleID {
			return nil
		}
	}
	r.m.userRoles[userID] = append(r.m.userRoles[userID], roleID)
	return nil
}

type memTokens struct {
	m *InMemoryRepositoryManager
}

func (r *memTokens) Create(_ context.Context, rt *models.RefreshToken) (*models.RefreshToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tokens[rt.Token]; ok {
		return nil, common.ErrorConflict
	}
	r.m.nextID++
	rt.ID = r.m.nextID
	rt.CreatedAt = time.Now()
	cp := *rt
	r.m.tokens[rt.Token] = &cp
	return rt, nil
}

func (r *memTokens) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.lookups++
	rt, ok := r.m.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *rt
	return &cp, nil
}

func (r *memTokens) Delete(_ context.Context, token string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tokens[token]; !ok {
		return false, nil
	}
	delete(r.m.tokens, token)
	return true, nil
}

func (r *memTokens) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for k, t := range r.m.tokens {
		if t.UserID == userID {
			delete(r.m.tokens, k)
			n++
		}
	}
	return n, nil
}
