package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

type memoryUserRepo struct {
	mu     sync.Mutex
	users  map[int64]User
	hashes map[int64]string
	nextID int64
}

func newMemoryUserRepo(seed ...User) *memoryUserRepo {
	repo := &memoryUserRepo{users: make(map[int64]User), hashes: make(map[int64]string)}
	for _, u := range seed {
		repo.users[u.ID] = u
		if u.ID > repo.nextID {
			repo.nextID = u.ID
		}
	}
	return repo
}

func (r *memoryUserRepo) List(ctx context.Context, filter ListFilter) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []User{}
	for _, u := range r.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(u.Email+" "+u.Name), strings.ToLower(filter.Query)) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset >= len(out) {
		return []User{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryUserRepo) Get(ctx context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *memoryUserRepo) FindByEmail(ctx context.Context, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memoryUserRepo) UpdateRole(ctx context.Context, id int64, role rbac.BuiltinRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	r.users[id] = u
	return nil
}

func (r *memoryUserRepo) Upsert(ctx context.Context, u User, passwordHash string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			existing.Name = u.Name
			existing.Role = u.Role
			existing.UpdatedAt = time.Now()
			r.users[id] = existing
			return existing, nil
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.Email = strings.ToLower(u.Email)
	u.IsActive = true
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = u
	r.hashes[u.ID] = passwordHash
	return u, nil
}

type spyNotifier struct{ changed []int64 }

func (s *spyNotifier) PermissionsChanged(ctx context.Context, userID int64) error {
	s.changed = append(s.changed, userID)
	return nil
}

type spyAudit struct{ logs []shared.AuditLog }

func (a *spyAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func actor(id int64, role rbac.BuiltinRole, keys ...string) *rbac.Access {
	res := rbac.Resolution{UserID: id, Role: role, Found: true}
	for _, raw := range keys {
		key, _ := rbac.ParseKey(raw)
		res.Grants = append(res.Grants, rbac.Grant{Permission: rbac.Permission{
			Module: key.Module, Feature: key.Feature, Action: key.Action, Name: raw, IsActive: true,
		}})
	}
	return rbac.NewAccess(res)
}

func seedUsers() []User {
	return []User{
		{ID: 1, Email: "superadmin@municipal.gob.ve", Name: "Super Admin", Role: rbac.RoleSuperAdmin, IsActive: true},
		{ID: 2, Email: "admin@municipal.gob.ve", Name: "Administrador", Role: rbac.RoleAdmin, IsActive: true},
		{ID: 3, Email: "empleado@municipal.gob.ve", Name: "Ana Pérez", Role: rbac.RoleEmpleado, IsActive: true},
	}
}

func newTestService() (*Service, *memoryUserRepo, *spyNotifier, *spyAudit) {
	repo := newMemoryUserRepo(seedUsers()...)
	notifier := &spyNotifier{}
	audit := &spyAudit{}
	svc := NewService(repo, notifier, audit, nil)
	svc.hashCost = bcrypt.MinCost
	return svc, repo, notifier, audit
}

func TestListFilters(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	all, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	admins, err := svc.List(ctx, ListFilter{Role: rbac.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, int64(2), admins[0].ID)

	found, err := svc.List(ctx, ListFilter{Query: "pérez"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = svc.List(ctx, ListFilter{Role: "ALCALDE"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestListFilterNormalized(t *testing.T) {
	assert.Equal(t, defaultLimit, ListFilter{}.normalized().Limit)
	assert.Equal(t, maxLimit, ListFilter{Limit: 10_000}.normalized().Limit)
	assert.Zero(t, ListFilter{Offset: -3}.normalized().Offset)
}

func TestChangeRole(t *testing.T) {
	svc, repo, notifier, audit := newTestService()
	ctx := context.Background()
	admin := actor(2, rbac.RoleAdmin, rbac.PermUsersEdit)

	user, err := svc.ChangeRole(ctx, admin, 3, ChangeRoleInput{Role: "director"})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleDirector, user.Role)
	assert.Equal(t, rbac.RoleDirector, repo.users[3].Role)
	assert.Equal(t, []int64{3}, notifier.changed)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "user.change_role", audit.logs[0].Action)
	assert.Equal(t, "3", audit.logs[0].EntityID)

	_, err = svc.ChangeRole(ctx, admin, 3, ChangeRoleInput{Role: "DIRECTOR"})
	require.NoError(t, err)
	assert.Len(t, notifier.changed, 1)
}

func TestChangeRolePolicy(t *testing.T) {
	svc, repo, notifier, _ := newTestService()
	ctx := context.Background()
	admin := actor(2, rbac.RoleAdmin, rbac.PermUsersEdit)
	super := actor(1, rbac.RoleSuperAdmin, rbac.PermUsersEdit)

	_, err := svc.ChangeRole(ctx, admin, 3, ChangeRoleInput{Role: "ALCALDE"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ChangeRole(ctx, actor(3, rbac.RoleEmpleado), 3, ChangeRoleInput{Role: "ADMIN"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ChangeRole(ctx, admin, 2, ChangeRoleInput{Role: "SUPER_ADMIN"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ChangeRole(ctx, admin, 3, ChangeRoleInput{Role: "SUPER_ADMIN"})
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = svc.ChangeRole(ctx, admin, 1, ChangeRoleInput{Role: "EMPLEADO"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ChangeRole(ctx, rbac.Pending(2), 3, ChangeRoleInput{Role: "DIRECTOR"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ChangeRole(ctx, admin, 404, ChangeRoleInput{Role: "DIRECTOR"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, rbac.RoleEmpleado, repo.users[3].Role)
	assert.Empty(t, notifier.changed)

	user, err := svc.ChangeRole(ctx, super, 3, ChangeRoleInput{Role: "SUPER_ADMIN"})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleSuperAdmin, user.Role)
}

func TestEnsureUser(t *testing.T) {
	svc, repo, notifier, _ := newTestService()
	ctx := context.Background()
	in := NewUser{Email: "Director@Municipal.gob.ve", Name: "Director", Password: "cambiar123", Role: rbac.RoleDirector}

	user, err := svc.Ensure(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "director@municipal.gob.ve", user.Email)
	hash := repo.hashes[user.ID]
	require.NotEmpty(t, hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("cambiar123")))
	assert.Empty(t, notifier.changed)

	again, err := svc.Ensure(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, hash, repo.hashes[user.ID])
	assert.Empty(t, notifier.changed)

	in.Role = rbac.RoleCoordinador
	changed, err := svc.Ensure(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleCoordinador, changed.Role)
	assert.Equal(t, []int64{user.ID}, notifier.changed)
}

func TestEnsureUserValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Ensure(ctx, NewUser{Email: "no-es-correo", Name: "X", Password: "cambiar123", Role: rbac.RoleEmpleado})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Ensure(ctx, NewUser{Email: "x@example.com", Name: "X", Password: "corta", Role: rbac.RoleEmpleado})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Ensure(ctx, NewUser{Email: "x@example.com", Name: "X", Password: "cambiar123", Role: "ALCALDE"})
	assert.ErrorIs(t, err, ErrValidation)
}
