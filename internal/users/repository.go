package users

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

// Repository reads and writes users on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, role::text, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Role = rbac.BuiltinRole(role)
	return u, nil
}

// List returns users ordered by email.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]User, error) {
	query := ""
	if q := strings.TrimSpace(filter.Query); q != "" {
		query = "%" + q + "%"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE ($1 = '' OR role::text = $1)
		  AND ($2 = '' OR email ILIKE $2 OR name ILIKE $2)
		ORDER BY email
		LIMIT $3 OFFSET $4`, string(filter.Role), query, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// FindByEmail fetches a user by email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// UpdateRole sets a user's built-in role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role rbac.BuiltinRole) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $2::user_role, updated_at = NOW() WHERE id = $1`, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts a user or refreshes name and role of an existing email. The password
// hash is only written on insert.
func (r *Repository) Upsert(ctx context.Context, u User, passwordHash string) (User, error) {
	out, err := scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4::user_role, TRUE)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, updated_at = NOW()
		RETURNING `+userColumns, strings.ToLower(u.Email), u.Name, passwordHash, string(u.Role)))
	if err != nil {
		return User{}, err
	}
	return out, nil
}

// ActiveIDs lists the ids of every active user.
func (r *Repository) ActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
