package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

// Store is the persistence port of the Service.
type Store interface {
	List(ctx context.Context, includeInactive bool) ([]Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	FindByNameKey(ctx context.Context, key string) (Role, error)
	// Create inserts the role together with its grants; neither is kept when either write fails.
	Create(ctx context.Context, role Role, permissionIDs []int64) (Role, error)
	Update(ctx context.Context, role Role) (Role, error)
	Delete(ctx context.Context, id int64) error
	Permissions(ctx context.Context, id int64) ([]rbac.Permission, error)
	PermissionsByName(ctx context.Context, names []string) (map[string]rbac.Permission, error)
	ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error)
	ReplacePermissions(ctx context.Context, id int64, permissionIDs []int64) error
	Holders(ctx context.Context, id int64) ([]int64, error)
}

// CatalogNotifier invalidates every cached permission set.
type CatalogNotifier interface {
	CatalogChanged(ctx context.Context) error
}

// WarmupEnqueuer schedules permission sets to be recomputed in the background.
type WarmupEnqueuer interface {
	EnqueueCacheWarmup(ctx context.Context, userIDs []int64) error
}

// Service manages custom roles.
type Service struct {
	store    Store
	notifier CatalogNotifier
	warmup   WarmupEnqueuer
	audit    rbac.AuditRecorder
	logger   *slog.Logger
}

// NewService constructs a Service. notifier, warmup and audit may be nil.
func NewService(store Store, notifier CatalogNotifier, warmup WarmupEnqueuer, audit rbac.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{store: store, notifier: notifier, warmup: warmup, audit: audit, logger: logger}
}

// List returns custom roles ordered by name.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]Role, error) {
	return s.store.List(ctx, includeInactive)
}

// Get returns a role with its permissions.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	role, err := s.store.Get(ctx, id)
	if err != nil {
		return Role{}, err
	}
	perms, err := s.store.Permissions(ctx, id)
	if err != nil {
		return Role{}, fmt.Errorf("roles: load permissions: %w", err)
	}
	role.Permissions = perms
	return role, nil
}

// Create inserts a role and its initial grants.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64) (Role, error) {
	name, err := cleanName(in.Name)
	if err != nil {
		return Role{}, err
	}
	desc, err := cleanDescription(in.Description)
	if err != nil {
		return Role{}, err
	}
	var permissionIDs []int64
	if len(in.Permissions) > 0 {
		if permissionIDs, err = s.resolvePermissions(ctx, PermissionsInput{Keys: in.Permissions}); err != nil {
			return Role{}, err
		}
	}

	role, err := s.store.Create(ctx, Role{Name: name, NameKey: NameKey(name), Description: desc, IsActive: true}, permissionIDs)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, "custom_role.create", actorID, role.ID, map[string]any{"name": role.Name, "permissions": len(permissionIDs)})
	return s.Get(ctx, role.ID)
}

// Ensure creates the role when no role with an equivalent name exists and makes its
// grants equal to keys. Reruns leave the role unchanged.
func (s *Service) Ensure(ctx context.Context, in CreateInput, actorID int64) (Role, bool, error) {
	name, err := cleanName(in.Name)
	if err != nil {
		return Role{}, false, err
	}
	existing, err := s.store.FindByNameKey(ctx, NameKey(name))
	if errors.Is(err, ErrNotFound) {
		role, err := s.Create(ctx, in, actorID)
		return role, true, err
	}
	if err != nil {
		return Role{}, false, err
	}
	current, err := s.store.Permissions(ctx, existing.ID)
	if err != nil {
		return Role{}, false, fmt.Errorf("roles: load permissions: %w", err)
	}
	wanted, err := s.resolvePermissions(ctx, PermissionsInput{Keys: in.Permissions})
	if err != nil {
		return Role{}, false, err
	}
	if sameIDs(current, wanted) {
		existing.Permissions = current
		return existing, false, nil
	}
	role, err := s.SetPermissions(ctx, existing.ID, PermissionsInput{PermissionIDs: wanted}, actorID)
	return role, false, err
}

func sameIDs(perms []rbac.Permission, ids []int64) bool {
	if len(perms) != len(ids) {
		return false
	}
	have := make(map[int64]struct{}, len(perms))
	for _, p := range perms {
		have[p.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

// Update renames, describes or toggles a role. Toggling the active flag invalidates
// the cached sets of its holders.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput, actorID int64) (Role, error) {
	role, err := s.store.Get(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if in.Name != nil {
		name, err := cleanName(*in.Name)
		if err != nil {
			return Role{}, err
		}
		role.Name = name
		role.NameKey = NameKey(name)
	}
	if in.Description != nil {
		desc, err := cleanDescription(*in.Description)
		if err != nil {
			return Role{}, err
		}
		role.Description = desc
	}
	toggled := in.IsActive != nil && *in.IsActive != role.IsActive
	if in.IsActive != nil {
		role.IsActive = *in.IsActive
	}
	if _, err := s.store.Update(ctx, role); err != nil {
		return Role{}, err
	}
	s.record(ctx, "custom_role.update", actorID, id, map[string]any{"name": role.Name, "is_active": role.IsActive})
	if toggled {
		s.grantsChanged(ctx, id)
	}
	return s.Get(ctx, id)
}

// Delete removes a role; its holders lose the role's grants.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	holders, err := s.store.Holders(ctx, id)
	if err != nil {
		return fmt.Errorf("roles: list holders: %w", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "custom_role.delete", actorID, id, map[string]any{"holders": len(holders)})
	s.invalidate(ctx, holders)
	return nil
}

// SetPermissions replaces the role's grants.
func (s *Service) SetPermissions(ctx context.Context, id int64, in PermissionsInput, actorID int64) (Role, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return Role{}, err
	}
	permissionIDs, err := s.resolvePermissions(ctx, in)
	if err != nil {
		return Role{}, err
	}
	if err := s.store.ReplacePermissions(ctx, id, permissionIDs); err != nil {
		return Role{}, err
	}
	s.record(ctx, "custom_role.set_permissions", actorID, id, map[string]any{"permission_ids": permissionIDs})
	s.grantsChanged(ctx, id)
	return s.Get(ctx, id)
}

// resolvePermissions turns ids and keys into a sorted, deduplicated id list. Any unknown
// entry fails the whole request.
func (s *Service) resolvePermissions(ctx context.Context, in PermissionsInput) ([]int64, error) {
	seen := make(map[int64]struct{})
	var ids []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(in.Keys) > 0 {
		names := make([]string, 0, len(in.Keys))
		for _, raw := range in.Keys {
			key, err := rbac.ParseKey(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid permission key %q", ErrValidation, raw)
			}
			names = append(names, key.String())
		}
		found, err := s.store.PermissionsByName(ctx, names)
		if err != nil {
			return nil, fmt.Errorf("roles: lookup permissions: %w", err)
		}
		var missing []string
		for _, name := range names {
			p, ok := found[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			add(p.ID)
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: unknown permissions %s", ErrValidation, strings.Join(missing, ", "))
		}
	}

	if len(in.PermissionIDs) > 0 {
		existing, err := s.store.ExistingPermissionIDs(ctx, in.PermissionIDs)
		if err != nil {
			return nil, fmt.Errorf("roles: lookup permissions: %w", err)
		}
		known := make(map[int64]struct{}, len(existing))
		for _, id := range existing {
			known[id] = struct{}{}
		}
		var missing []string
		for _, id := range in.PermissionIDs {
			if _, ok := known[id]; !ok {
				missing = append(missing, strconv.FormatInt(id, 10))
				continue
			}
			add(id)
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: unknown permission ids %s", ErrValidation, strings.Join(missing, ", "))
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Service) grantsChanged(ctx context.Context, id int64) {
	holders, err := s.store.Holders(ctx, id)
	if err != nil {
		s.warn("roles list holders", err)
	}
	s.invalidate(ctx, holders)
}

func (s *Service) invalidate(ctx context.Context, holders []int64) {
	if s.notifier != nil {
		if err := s.notifier.CatalogChanged(ctx); err != nil {
			s.warn("roles invalidate permission cache", err)
		}
	}
	if s.warmup != nil && len(holders) > 0 {
		if err := s.warmup.EnqueueCacheWarmup(ctx, holders); err != nil {
			s.warn("roles enqueue cache warmup", err)
		}
	}
}

func (s *Service) record(ctx context.Context, action string, actorID, roleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "custom_role",
		EntityID: strconv.FormatInt(roleID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.warn("roles audit record", err)
	}
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}
