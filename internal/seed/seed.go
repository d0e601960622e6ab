// Package seed loads the permission catalog and the demo accounts into storage.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/rbac/catalog"
	"github.com/diazhh/alcaldia-saas/internal/roles"
	"github.com/diazhh/alcaldia-saas/internal/users"
)

// PermissionWriter upserts catalog entries and built-in role grants.
type PermissionWriter interface {
	EnsurePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error)
	GrantBuiltin(ctx context.Context, role rbac.BuiltinRole, permissionID int64) error
}

// UserEnsurer creates or refreshes accounts.
type UserEnsurer interface {
	Ensure(ctx context.Context, in users.NewUser) (users.User, error)
}

// RoleEnsurer creates custom roles and aligns their grants.
type RoleEnsurer interface {
	Ensure(ctx context.Context, in roles.CreateInput, actorID int64) (roles.Role, bool, error)
}

// Assigner links custom roles to users.
type Assigner interface {
	Assign(ctx context.Context, in rbac.AssignInput) (rbac.AssignOutcome, error)
}

// Invalidator drops every cached permission set.
type Invalidator interface {
	CatalogChanged(ctx context.Context) error
}

// DemoUser is an account created by the demo seed.
type DemoUser struct {
	Email       string
	Name        string
	Role        rbac.BuiltinRole
	CustomRoles []string
}

// DemoUsers returns the demo accounts with their custom roles.
func DemoUsers() []DemoUser {
	return []DemoUser{
		{Email: "superadmin@municipal.gob.ve", Name: "Super Administrador", Role: rbac.RoleSuperAdmin},
		{Email: "admin@municipal.gob.ve", Name: "Administrador", Role: rbac.RoleAdmin},
		{
			Email:       "director@municipal.gob.ve",
			Name:        "Director General",
			Role:        rbac.RoleDirector,
			CustomRoles: []string{"Director de Finanzas", "Director de RRHH"},
		},
		{Email: "coordinador@municipal.gob.ve", Name: "Coordinador de Proyectos", Role: rbac.RoleCoordinador},
		{
			Email:       "analista@municipal.gob.ve",
			Name:        "Analista Financiero",
			Role:        rbac.RoleEmpleado,
			CustomRoles: []string{"Analista Financiero Senior"},
		},
		{Email: "empleado@municipal.gob.ve", Name: "Empleado Municipal", Role: rbac.RoleEmpleado},
		{Email: "ciudadano@example.com", Name: "Ciudadano", Role: rbac.RoleCiudadano},
	}
}

// Options controls what Run writes.
type Options struct {
	Demo         bool
	DemoPassword string
}

// Report counts what Run touched.
type Report struct {
	Permissions   int `json:"permissions"`
	BuiltinGrants int `json:"builtinGrants"`
	CustomRoles   int `json:"customRoles"`
	RolesCreated  int `json:"rolesCreated"`
	Users         int `json:"users"`
	Assigned      int `json:"assigned"`
}

// Seeder writes the catalog and demo data. Every step upserts, so reruns are no-ops.
type Seeder struct {
	Catalog     *catalog.Catalog
	Permissions PermissionWriter
	Users       UserEnsurer
	Roles       RoleEnsurer
	Assignments Assigner
	Invalidator Invalidator
	Logger      *slog.Logger
}

// Run seeds the catalog and, when requested, the demo roles and users.
func (s *Seeder) Run(ctx context.Context, opts Options) (Report, error) {
	var report Report
	if s.Catalog == nil || s.Permissions == nil {
		return report, fmt.Errorf("seed: catalog and permission writer are required")
	}

	ids := make(map[string]int64)
	for _, p := range s.Catalog.Permissions() {
		stored, err := s.Permissions.EnsurePermission(ctx, p)
		if err != nil {
			return report, fmt.Errorf("seed: permission %s: %w", p.Name, err)
		}
		ids[p.Name] = stored.ID
		report.Permissions++
	}

	for _, role := range rbac.BuiltinRoles() {
		perms, err := s.Catalog.RoleGrants(role)
		if err != nil {
			return report, fmt.Errorf("seed: role %s: %w", role, err)
		}
		for _, p := range perms {
			if err := s.Permissions.GrantBuiltin(ctx, role, ids[p.Name]); err != nil {
				return report, fmt.Errorf("seed: grant %s to %s: %w", p.Name, role, err)
			}
			report.BuiltinGrants++
		}
	}
	s.logger().Info("seeded permission catalog", slog.Int("permissions", report.Permissions), slog.Int("builtin_grants", report.BuiltinGrants))
	if s.Invalidator != nil {
		if err := s.Invalidator.CatalogChanged(ctx); err != nil {
			s.logger().Warn("seed: invalidate permission cache", slog.Any("error", err))
		}
	}

	if !opts.Demo {
		return report, nil
	}
	if s.Users == nil || s.Roles == nil || s.Assignments == nil {
		return report, fmt.Errorf("seed: demo data needs user, role and assignment services")
	}
	if len(opts.DemoPassword) < 8 {
		return report, fmt.Errorf("seed: demo password must have at least 8 characters")
	}

	accounts := make(map[string]users.User)
	for _, demo := range DemoUsers() {
		u, err := s.Users.Ensure(ctx, users.NewUser{Email: demo.Email, Name: demo.Name, Password: opts.DemoPassword, Role: demo.Role})
		if err != nil {
			return report, fmt.Errorf("seed: user %s: %w", demo.Email, err)
		}
		accounts[demo.Email] = u
		report.Users++
	}
	actorID := accounts["superadmin@municipal.gob.ve"].ID

	customRoles := make(map[string]roles.Role)
	for _, def := range s.Catalog.CustomRoles {
		perms, err := s.Catalog.Expand(def.Permissions)
		if err != nil {
			return report, fmt.Errorf("seed: custom role %s: %w", def.Name, err)
		}
		names := make([]string, 0, len(perms))
		for _, p := range perms {
			names = append(names, p.Name)
		}
		role, created, err := s.Roles.Ensure(ctx, roles.CreateInput{Name: def.Name, Description: def.Description, Permissions: names}, actorID)
		if err != nil {
			return report, fmt.Errorf("seed: custom role %s: %w", def.Name, err)
		}
		customRoles[def.Name] = role
		report.CustomRoles++
		if created {
			report.RolesCreated++
		}
	}

	for _, demo := range DemoUsers() {
		for _, name := range demo.CustomRoles {
			role, ok := customRoles[name]
			if !ok {
				s.logger().Warn("seed: custom role not in catalog", slog.String("role", name))
				continue
			}
			outcome, err := s.Assignments.Assign(ctx, rbac.AssignInput{UserID: accounts[demo.Email].ID, RoleID: role.ID, AssignedBy: actorID})
			if err != nil {
				return report, fmt.Errorf("seed: assign %s to %s: %w", name, demo.Email, err)
			}
			if outcome == rbac.OutcomeAssigned {
				report.Assigned++
			}
		}
	}
	s.logger().Info("seeded demo data",
		slog.Int("users", report.Users),
		slog.Int("custom_roles", report.CustomRoles),
		slog.Int("assigned", report.Assigned))
	return report, nil
}

func (s *Seeder) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
