package roles

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

type memoryRoleRepo struct {
	mu          sync.Mutex
	roles       map[int64]Role
	grants      map[int64][]int64
	holders     map[int64][]int64
	permissions map[int64]rbac.Permission
	nextID      int64
	grantErr    error
}

func newMemoryRoleRepo() *memoryRoleRepo {
	repo := &memoryRoleRepo{
		roles:       make(map[int64]Role),
		grants:      make(map[int64][]int64),
		holders:     make(map[int64][]int64),
		permissions: make(map[int64]rbac.Permission),
	}
	for i, name := range []string{"finance:read", "finance:export", "budget:read", "hr:employees:read"} {
		key, _ := rbac.ParseKey(name)
		id := int64(i + 1)
		repo.permissions[id] = rbac.Permission{ID: id, Module: key.Module, Feature: key.Feature, Action: key.Action, Name: name, IsActive: true}
	}
	return repo
}

func (r *memoryRoleRepo) List(ctx context.Context, includeInactive bool) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Role{}
	for _, role := range r.roles {
		if includeInactive || role.IsActive {
			role.Holders = len(r.holders[role.ID])
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRoleRepo) Get(ctx context.Context, id int64) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	role.Holders = len(r.holders[id])
	return role, nil
}

func (r *memoryRoleRepo) FindByNameKey(ctx context.Context, key string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.NameKey == key {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (r *memoryRoleRepo) Create(ctx context.Context, role Role, permissionIDs []int64) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.NameKey == role.NameKey {
			return Role{}, ErrDuplicateName
		}
	}
	if len(permissionIDs) > 0 && r.grantErr != nil {
		return Role{}, r.grantErr
	}
	r.nextID++
	role.ID = r.nextID
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	r.roles[role.ID] = role
	if len(permissionIDs) > 0 {
		r.grants[role.ID] = append([]int64(nil), permissionIDs...)
	}
	return role, nil
}

func (r *memoryRoleRepo) Update(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role.ID]; !ok {
		return Role{}, ErrNotFound
	}
	for id, existing := range r.roles {
		if id != role.ID && existing.NameKey == role.NameKey {
			return Role{}, ErrDuplicateName
		}
	}
	role.UpdatedAt = time.Now()
	r.roles[role.ID] = role
	return role, nil
}

func (r *memoryRoleRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return ErrNotFound
	}
	delete(r.roles, id)
	delete(r.grants, id)
	delete(r.holders, id)
	return nil
}

func (r *memoryRoleRepo) Permissions(ctx context.Context, id int64) ([]rbac.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []rbac.Permission{}
	for _, pid := range r.grants[id] {
		if p, ok := r.permissions[pid]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRoleRepo) PermissionsByName(ctx context.Context, names []string) (map[string]rbac.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]rbac.Permission{}
	for _, p := range r.permissions {
		for _, n := range names {
			if p.Name == n {
				out[n] = p
			}
		}
	}
	return out, nil
}

func (r *memoryRoleRepo) ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, id := range ids {
		if _, ok := r.permissions[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memoryRoleRepo) ReplacePermissions(ctx context.Context, id int64, permissionIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return ErrNotFound
	}
	if r.grantErr != nil {
		return r.grantErr
	}
	r.grants[id] = append([]int64(nil), permissionIDs...)
	return nil
}

func (r *memoryRoleRepo) Holders(ctx context.Context, id int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.holders[id]...), nil
}

type spyInvalidator struct {
	catalogChanges int
	warmed         [][]int64
}

func (s *spyInvalidator) CatalogChanged(ctx context.Context) error {
	s.catalogChanges++
	return nil
}

func (s *spyInvalidator) EnqueueCacheWarmup(ctx context.Context, userIDs []int64) error {
	s.warmed = append(s.warmed, userIDs)
	return nil
}

type spyAudit struct{ actions []string }

func (a *spyAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func newTestService() (*Service, *memoryRoleRepo, *spyInvalidator, *spyAudit) {
	repo := newMemoryRoleRepo()
	spy := &spyInvalidator{}
	audit := &spyAudit{}
	return NewService(repo, spy, spy, audit, nil), repo, spy, audit
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, "direccion de finanzas", NameKey("  Dirección   de FINANZAS "))
	assert.Equal(t, NameKey("Director de RRHH"), NameKey("director de rrhh"))
	assert.Equal(t, "nomina", NameKey("Nómina"))
}

func TestCreateRole(t *testing.T) {
	svc, _, spy, audit := newTestService()
	ctx := context.Background()

	role, err := svc.Create(ctx, CreateInput{
		Name:        "  Analista   Financiero Senior ",
		Description: "Consulta financiera",
		Permissions: []string{"finance:read", "FINANCE:READ", "budget:read"},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Analista Financiero Senior", role.Name)
	assert.Equal(t, "analista financiero senior", role.NameKey)
	assert.True(t, role.IsActive)
	assert.Len(t, role.Permissions, 2)
	assert.Equal(t, []string{"custom_role.create"}, audit.actions)
	assert.Zero(t, spy.catalogChanges)

	_, err = svc.Create(ctx, CreateInput{Name: "ANALISTA FINANCIERO SÉNIOR"}, 1)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestCreateRoleLeavesNothingWhenGrantsFail(t *testing.T) {
	svc, repo, _, audit := newTestService()
	ctx := context.Background()
	in := CreateInput{Name: "Director de Finanzas", Permissions: []string{"finance:read", "budget:read"}}

	repo.grantErr = errors.New("connection reset")
	_, err := svc.Create(ctx, in, 1)
	require.Error(t, err)
	assert.Empty(t, repo.roles)
	assert.Empty(t, repo.grants)
	assert.Empty(t, audit.actions)

	repo.grantErr = nil
	role, err := svc.Create(ctx, in, 1)
	require.NoError(t, err)
	assert.Len(t, role.Permissions, 2)
}

func TestCreateRoleValidation(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "   "}, 1)
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{Name: "Tesorero", Permissions: []string{"treasury:approve"}}, 1)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "treasury:approve")

	_, err = svc.Create(ctx, CreateInput{Name: "Tesorero", Permissions: []string{"treasury"}}, 1)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, repo.roles)
}

func TestSetPermissionsInvalidatesHolders(t *testing.T) {
	svc, repo, spy, _ := newTestService()
	ctx := context.Background()
	role, err := svc.Create(ctx, CreateInput{Name: "Director de Finanzas"}, 1)
	require.NoError(t, err)
	repo.holders[role.ID] = []int64{7, 8}

	updated, err := svc.SetPermissions(ctx, role.ID, PermissionsInput{PermissionIDs: []int64{3, 1, 1}, Keys: []string{"finance:export"}}, 1)
	require.NoError(t, err)
	assert.Len(t, updated.Permissions, 3)
	assert.Equal(t, []int64{1, 2, 3}, repo.grants[role.ID])
	assert.Equal(t, 1, spy.catalogChanges)
	assert.Equal(t, [][]int64{{7, 8}}, spy.warmed)

	_, err = svc.SetPermissions(ctx, role.ID, PermissionsInput{PermissionIDs: []int64{99}}, 1)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []int64{1, 2, 3}, repo.grants[role.ID])

	_, err = svc.SetPermissions(ctx, 404, PermissionsInput{}, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRole(t *testing.T) {
	svc, repo, spy, _ := newTestService()
	ctx := context.Background()
	role, err := svc.Create(ctx, CreateInput{Name: "Director de RRHH"}, 1)
	require.NoError(t, err)
	repo.holders[role.ID] = []int64{3}

	name := "Dirección de Talento Humano"
	updated, err := svc.Update(ctx, role.ID, UpdateInput{Name: &name}, 1)
	require.NoError(t, err)
	assert.Equal(t, "direccion de talento humano", updated.NameKey)
	assert.Zero(t, spy.catalogChanges)

	inactive := false
	updated, err = svc.Update(ctx, role.ID, UpdateInput{IsActive: &inactive}, 1)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 1, spy.catalogChanges)
	assert.Equal(t, [][]int64{{3}}, spy.warmed)

	_, err = svc.Update(ctx, role.ID, UpdateInput{IsActive: &inactive}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, spy.catalogChanges)
}

func TestDeleteRole(t *testing.T) {
	svc, repo, spy, audit := newTestService()
	ctx := context.Background()
	role, err := svc.Create(ctx, CreateInput{Name: "Temporal"}, 1)
	require.NoError(t, err)
	repo.holders[role.ID] = []int64{4}

	require.NoError(t, svc.Delete(ctx, role.ID, 1))
	assert.Equal(t, 1, spy.catalogChanges)
	assert.Equal(t, [][]int64{{4}}, spy.warmed)
	assert.Contains(t, audit.actions, "custom_role.delete")

	assert.ErrorIs(t, svc.Delete(ctx, role.ID, 1), ErrNotFound)
}

func TestEnsureIsIdempotent(t *testing.T) {
	svc, _, spy, _ := newTestService()
	ctx := context.Background()
	in := CreateInput{Name: "Analista Financiero Senior", Permissions: []string{"finance:read", "budget:read"}}

	first, created, err := svc.Ensure(ctx, in, 0)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.Ensure(ctx, in, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, spy.catalogChanges)

	in.Permissions = append(in.Permissions, "finance:export")
	third, created, err := svc.Ensure(ctx, in, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, third.Permissions, 3)
	assert.Equal(t, 1, spy.catalogChanges)
}
