package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diazhh/alcaldia-saas/internal/platform/db"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

// Repository persists custom roles on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `cr.id, cr.name, cr.name_key, cr.description, cr.is_active, cr.created_at, cr.updated_at,
	(SELECT COUNT(*) FROM user_custom_roles ucr WHERE ucr.role_id = cr.id)`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.NameKey, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt, &r.Holders)
	return r, err
}

// List returns custom roles ordered by name.
func (r *Repository) List(ctx context.Context, includeInactive bool) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM custom_roles cr
		WHERE $1 OR cr.is_active
		ORDER BY cr.name`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Get fetches a role by id.
func (r *Repository) Get(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM custom_roles cr WHERE cr.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// FindByNameKey fetches a role by its folded name.
func (r *Repository) FindByNameKey(ctx context.Context, key string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM custom_roles cr WHERE cr.name_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// Create inserts a role and its grants in one transaction.
func (r *Repository) Create(ctx context.Context, role Role, permissionIDs []int64) (Role, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO custom_roles (name, name_key, description, is_active)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at`, role.Name, role.NameKey, role.Description, role.IsActive).
			Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
		if err != nil {
			return err
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO custom_role_permissions (role_id, permission_id)
			SELECT $1, UNNEST($2::BIGINT[])
			ON CONFLICT DO NOTHING`, role.ID, permissionIDs)
		return err
	})
	if err != nil {
		return Role{}, translate(err)
	}
	return role, nil
}

// Update writes name, description and active flag.
func (r *Repository) Update(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE custom_roles SET name = $2, name_key = $3, description = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, role.ID, role.Name, role.NameKey, role.Description, role.IsActive).
		Scan(&role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, translate(err)
	}
	return role, nil
}

// Delete removes a role together with its grants and assignments.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM custom_roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Permissions lists the catalog entries granted to a role. Dangling grants are skipped.
func (r *Repository) Permissions(ctx context.Context, id int64) ([]rbac.Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.module, COALESCE(p.feature, ''), p.action, COALESCE(p.category, ''), p.name, p.display_name, p.is_active
		FROM custom_role_permissions crp
		JOIN permissions p ON p.id = crp.permission_id
		WHERE crp.role_id = $1
		ORDER BY p.module, p.feature NULLS FIRST, p.action`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []rbac.Permission{}
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Module, &p.Feature, &p.Action, &p.Category, &p.Name, &p.DisplayName, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PermissionsByName maps catalog names to permissions. Unknown names are absent from the result.
func (r *Repository) PermissionsByName(ctx context.Context, names []string) (map[string]rbac.Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, module, COALESCE(feature, ''), action, COALESCE(category, ''), name, display_name, is_active
		FROM permissions WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]rbac.Permission, len(names))
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Module, &p.Feature, &p.Action, &p.Category, &p.Name, &p.DisplayName, &p.IsActive); err != nil {
			return nil, err
		}
		out[p.Name] = p
	}
	return out, rows.Err()
}

// ExistingPermissionIDs returns the subset of ids present in the catalog.
func (r *Repository) ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM permissions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ReplacePermissions swaps the role's grants in one transaction.
func (r *Repository) ReplacePermissions(ctx context.Context, id int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM custom_roles WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM custom_role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		if len(permissionIDs) > 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO custom_role_permissions (role_id, permission_id)
				SELECT $1, UNNEST($2::BIGINT[])
				ON CONFLICT DO NOTHING`, id, permissionIDs); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `UPDATE custom_roles SET updated_at = NOW() WHERE id = $1`, id)
		return err
	})
}

// Holders lists the ids of users assigned to the role.
func (r *Repository) Holders(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_custom_roles WHERE role_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func translate(err error) error {
	if db.IsUniqueViolation(err) {
		return ErrDuplicateName
	}
	return err
}
