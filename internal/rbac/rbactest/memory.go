// Package rbactest provides an in-memory rbac store for tests.
package rbactest

import (
	"context"
	"sort"
	"sync"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

// MemoryStore implements rbac.Store and rbac.AssignmentStore in memory.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[int64]rbac.Subject
	permissions map[int64]rbac.Permission
	builtin     map[rbac.BuiltinRole][]int64
	roles       map[int64]rbac.CustomRole
	rolePerms   map[int64][]int64
	links       map[int64]map[int64]rbac.UserCustomRole
	nextPermID  int64

	// Err, when set, is returned by every read.
	Err error
	// Calls counts resolver reads.
	Calls int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]rbac.Subject),
		permissions: make(map[int64]rbac.Permission),
		builtin:     make(map[rbac.BuiltinRole][]int64),
		roles:       make(map[int64]rbac.CustomRole),
		rolePerms:   make(map[int64][]int64),
		links:       make(map[int64]map[int64]rbac.UserCustomRole),
	}
}

// AddUser registers a user.
func (s *MemoryStore) AddUser(u rbac.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddPermission registers a permission, assigning an id when zero.
func (s *MemoryStore) AddPermission(p rbac.Permission) rbac.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextPermID++
		p.ID = s.nextPermID
	} else if p.ID > s.nextPermID {
		s.nextPermID = p.ID
	}
	if p.Name == "" {
		p.Name = p.Key().String()
	}
	s.permissions[p.ID] = p
	return p
}

// Perm is shorthand for an active permission parsed from a key.
func (s *MemoryStore) Perm(key string) rbac.Permission {
	k, err := rbac.ParseKey(key)
	if err != nil {
		panic(err)
	}
	return s.AddPermission(rbac.Permission{Module: k.Module, Feature: k.Feature, Action: k.Action, IsActive: true})
}

// SetPermissionActive toggles a permission.
func (s *MemoryStore) SetPermissionActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.permissions[id]
	p.IsActive = active
	s.permissions[id] = p
}

// DeletePermission removes a permission row while leaving the grants that point at it.
func (s *MemoryStore) DeletePermission(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.permissions, id)
}

// GrantBuiltin links a permission to a built-in role.
func (s *MemoryStore) GrantBuiltin(role rbac.BuiltinRole, permissionIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builtin[role] = append(s.builtin[role], permissionIDs...)
}

// AddCustomRole registers a custom role and its grants.
func (s *MemoryStore) AddCustomRole(role rbac.CustomRole, permissionIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.ID] = role
	s.rolePerms[role.ID] = append([]int64(nil), permissionIDs...)
}

// SetCustomRoleActive toggles a custom role.
func (s *MemoryStore) SetCustomRoleActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roles[id]
	r.IsActive = active
	s.roles[id] = r
}

// FindSubject implements rbac.Store.
func (s *MemoryStore) FindSubject(ctx context.Context, userID int64) (rbac.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return rbac.Subject{}, s.Err
	}
	s.Calls++
	u, ok := s.users[userID]
	if !ok {
		return rbac.Subject{}, rbac.ErrNotFound
	}
	return u, nil
}

// BuiltinGrants implements rbac.Store.
func (s *MemoryStore) BuiltinGrants(ctx context.Context, role rbac.BuiltinRole) ([]rbac.GrantRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rows := make([]rbac.GrantRow, 0, len(s.builtin[role]))
	for _, id := range s.builtin[role] {
		rows = append(rows, s.row(rbac.BuiltinRef(role), id))
	}
	return rows, nil
}

// CustomGrants implements rbac.Store.
func (s *MemoryStore) CustomGrants(ctx context.Context, userID int64) ([]rbac.GrantRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var rows []rbac.GrantRow
	for _, roleID := range s.sortedLinks(userID) {
		role, ok := s.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		for _, id := range s.rolePerms[roleID] {
			rows = append(rows, s.row(rbac.CustomRef(role.ID, role.Name), id))
		}
	}
	return rows, nil
}

// FindCustomRole implements rbac.AssignmentStore.
func (s *MemoryStore) FindCustomRole(ctx context.Context, roleID int64) (rbac.CustomRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return rbac.CustomRole{}, s.Err
	}
	r, ok := s.roles[roleID]
	if !ok {
		return rbac.CustomRole{}, rbac.ErrNotFound
	}
	return r, nil
}

// AssignOnce implements rbac.AssignmentStore.
func (s *MemoryStore) AssignOnce(ctx context.Context, link rbac.UserCustomRole) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if s.links[link.UserID] == nil {
		s.links[link.UserID] = make(map[int64]rbac.UserCustomRole)
	}
	if _, ok := s.links[link.UserID][link.RoleID]; ok {
		return false, nil
	}
	s.links[link.UserID][link.RoleID] = link
	return true, nil
}

// Unassign implements rbac.AssignmentStore.
func (s *MemoryStore) Unassign(ctx context.Context, userID, roleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.links[userID][roleID]; !ok {
		return false, nil
	}
	delete(s.links[userID], roleID)
	return true, nil
}

// ListAssignments implements rbac.AssignmentStore.
func (s *MemoryStore) ListAssignments(ctx context.Context, userID int64) ([]rbac.AssignedRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []rbac.AssignedRole{}
	for _, roleID := range s.sortedLinks(userID) {
		link := s.links[userID][roleID]
		role := s.roles[roleID]
		out = append(out, rbac.AssignedRole{
			RoleID:     roleID,
			Name:       role.Name,
			IsActive:   role.IsActive,
			AssignedBy: link.AssignedBy,
			AssignedAt: link.AssignedAt,
		})
	}
	return out, nil
}

// ListPermissions implements rbac.PermissionLister.
func (s *MemoryStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LinkCount returns how many custom roles a user holds.
func (s *MemoryStore) LinkCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links[userID])
}

func (s *MemoryStore) row(source rbac.RoleRef, permissionID int64) rbac.GrantRow {
	row := rbac.GrantRow{Source: source, PermissionID: permissionID}
	if p, ok := s.permissions[permissionID]; ok {
		p := p
		row.Permission = &p
	}
	return row
}

func (s *MemoryStore) sortedLinks(userID int64) []int64 {
	ids := make([]int64, 0, len(s.links[userID]))
	for id := range s.links[userID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
