package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diazhh/alcaldia-saas/internal/platform/db"
)

// PGStore implements Store and AssignmentStore on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// permissionRow is a LEFT JOINed permission; every column is null when the link dangles.
type permissionRow struct {
	ID          pgtype.Int8
	Module      pgtype.Text
	Feature     pgtype.Text
	Action      pgtype.Text
	Category    pgtype.Text
	Name        pgtype.Text
	DisplayName pgtype.Text
	IsActive    pgtype.Bool
}

func (r *permissionRow) targets() []any {
	return []any{&r.ID, &r.Module, &r.Feature, &r.Action, &r.Category, &r.Name, &r.DisplayName, &r.IsActive}
}

func (r permissionRow) permission() *Permission {
	if !r.ID.Valid {
		return nil
	}
	return &Permission{
		ID:          r.ID.Int64,
		Module:      r.Module.String,
		Feature:     r.Feature.String,
		Action:      r.Action.String,
		Category:    r.Category.String,
		Name:        r.Name.String,
		DisplayName: r.DisplayName.String,
		IsActive:    r.IsActive.Valid && r.IsActive.Bool,
	}
}

const permissionColumns = `p.id, p.module, p.feature, p.action, p.category, p.name, p.display_name, p.is_active`

// FindSubject fetches the user's built-in role.
func (s *PGStore) FindSubject(ctx context.Context, userID int64) (Subject, error) {
	var subject Subject
	var role string
	err := s.pool.QueryRow(ctx, `SELECT id, email, role::text, is_active FROM users WHERE id = $1`, userID).
		Scan(&subject.ID, &subject.Email, &role, &subject.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, err
	}
	subject.Role = BuiltinRole(role)
	return subject, nil
}

// BuiltinGrants lists the role map of a built-in role.
func (s *PGStore) BuiltinGrants(ctx context.Context, role BuiltinRole) ([]GrantRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rp.permission_id, `+permissionColumns+`
		FROM role_permissions rp
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role = $1::user_role`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	source := BuiltinRef(role)
	var out []GrantRow
	for rows.Next() {
		var permissionID int64
		var row permissionRow
		if err := rows.Scan(append([]any{&permissionID}, row.targets()...)...); err != nil {
			return nil, err
		}
		out = append(out, GrantRow{Source: source, PermissionID: permissionID, Permission: row.permission()})
	}
	return out, rows.Err()
}

// CustomGrants lists grants of the active custom roles assigned to a user.
func (s *PGStore) CustomGrants(ctx context.Context, userID int64) ([]GrantRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cr.id, cr.name, crp.permission_id, `+permissionColumns+`
		FROM user_custom_roles ucr
		JOIN custom_roles cr ON cr.id = ucr.role_id AND cr.is_active
		JOIN custom_role_permissions crp ON crp.role_id = cr.id
		LEFT JOIN permissions p ON p.id = crp.permission_id
		WHERE ucr.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GrantRow
	for rows.Next() {
		var roleID, permissionID int64
		var roleName string
		var row permissionRow
		if err := rows.Scan(append([]any{&roleID, &roleName, &permissionID}, row.targets()...)...); err != nil {
			return nil, err
		}
		out = append(out, GrantRow{Source: CustomRef(roleID, roleName), PermissionID: permissionID, Permission: row.permission()})
	}
	return out, rows.Err()
}

// FindCustomRole fetches a custom role by id.
func (s *PGStore) FindCustomRole(ctx context.Context, roleID int64) (CustomRole, error) {
	var role CustomRole
	err := s.pool.QueryRow(ctx, `SELECT id, name, description, is_active, created_at, updated_at FROM custom_roles WHERE id = $1`, roleID).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CustomRole{}, ErrNotFound
		}
		return CustomRole{}, err
	}
	return role, nil
}

// AssignOnce looks the link up by its unique key and inserts it when missing.
func (s *PGStore) AssignOnce(ctx context.Context, link UserCustomRole) (bool, error) {
	inserted := false
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_custom_roles WHERE user_id = $1 AND role_id = $2)`, link.UserID, link.RoleID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_custom_roles (user_id, role_id, assigned_by, assigned_at)
			VALUES ($1, $2, NULLIF($3, 0), $4)
			ON CONFLICT (user_id, role_id) DO NOTHING`, link.UserID, link.RoleID, link.AssignedBy, link.AssignedAt)
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	return inserted, err
}

// Unassign deletes a link.
func (s *PGStore) Unassign(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_custom_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListAssignments lists a user's custom roles.
func (s *PGStore) ListAssignments(ctx context.Context, userID int64) ([]AssignedRole, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cr.id, cr.name, cr.is_active, COALESCE(ucr.assigned_by, 0), ucr.assigned_at
		FROM user_custom_roles ucr
		JOIN custom_roles cr ON cr.id = ucr.role_id
		WHERE ucr.user_id = $1
		ORDER BY cr.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AssignedRole{}
	for rows.Next() {
		var a AssignedRole
		if err := rows.Scan(&a.RoleID, &a.Name, &a.IsActive, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListPermissions returns the catalog ordered by module, feature and action.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, module, COALESCE(feature, ''), action, COALESCE(category, ''), name, display_name, is_active
		FROM permissions
		ORDER BY module, feature NULLS FIRST, action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Module, &p.Feature, &p.Action, &p.Category, &p.Name, &p.DisplayName, &p.IsActive); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission upserts a catalog entry by name.
func (s *PGStore) EnsurePermission(ctx context.Context, p Permission) (Permission, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO permissions (module, feature, action, category, name, display_name, is_active)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, TRUE)
		ON CONFLICT (name) DO UPDATE SET
			module = EXCLUDED.module,
			feature = EXCLUDED.feature,
			action = EXCLUDED.action,
			category = EXCLUDED.category,
			display_name = EXCLUDED.display_name
		RETURNING id, is_active`, p.Module, p.Feature, p.Action, p.Category, p.Name, p.DisplayName).
		Scan(&p.ID, &p.IsActive)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// GrantBuiltin adds a permission to a built-in role's map.
func (s *PGStore) GrantBuiltin(ctx context.Context, role BuiltinRole, permissionID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_permissions (role, permission_id) VALUES ($1::user_role, $2)
		ON CONFLICT DO NOTHING`, string(role), permissionID)
	return err
}

// ScanIntegrity counts grants and assignments that resolution will ignore.
func (s *PGStore) ScanIntegrity(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM role_permissions rp LEFT JOIN permissions p ON p.id = rp.permission_id WHERE p.id IS NULL),
			(SELECT COUNT(*) FROM custom_role_permissions crp LEFT JOIN permissions p ON p.id = crp.permission_id WHERE p.id IS NULL),
			(SELECT COUNT(*) FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id WHERE NOT p.is_active)
				+ (SELECT COUNT(*) FROM custom_role_permissions crp JOIN permissions p ON p.id = crp.permission_id WHERE NOT p.is_active),
			(SELECT COUNT(*) FROM user_custom_roles ucr JOIN custom_roles cr ON cr.id = ucr.role_id WHERE NOT cr.is_active)`).
		Scan(&report.DanglingBuiltin, &report.DanglingCustom, &report.InactiveGrants, &report.InactiveAssignments)
	return report, err
}
