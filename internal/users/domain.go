// Package users lists users and manages their built-in role.
package users

import (
	"fmt"
	"time"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = fmt.Errorf("users: %w", httpx.ErrNotFound)
	// ErrForbidden is returned when the actor may not make the requested change.
	ErrForbidden = fmt.Errorf("users: %w", httpx.ErrForbidden)
	// ErrValidation wraps input errors.
	ErrValidation = fmt.Errorf("users: %w", httpx.ErrValidation)
)

// User is an account as seen by administrators.
type User struct {
	ID        int64            `json:"id"`
	Email     string           `json:"email"`
	Name      string           `json:"name"`
	Role      rbac.BuiltinRole `json:"role"`
	IsActive  bool             `json:"isActive"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ListFilter narrows user listings.
type ListFilter struct {
	Role   rbac.BuiltinRole
	Query  string
	Limit  int
	Offset int
}

// NewUser describes an account to create or refresh.
type NewUser struct {
	Email    string           `validate:"required,email"`
	Name     string           `validate:"required"`
	Password string           `validate:"required,min=8"`
	Role     rbac.BuiltinRole `validate:"required"`
}

// ChangeRoleInput changes a user's built-in role.
type ChangeRoleInput struct {
	Role string `json:"role" validate:"required"`
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
