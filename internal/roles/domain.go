// Package roles manages custom roles: admin-defined bundles of catalog permissions.
package roles

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

var (
	// ErrNotFound is returned when a custom role does not exist.
	ErrNotFound = fmt.Errorf("roles: %w", httpx.ErrNotFound)
	// ErrDuplicateName is returned when another role already uses an equivalent name.
	ErrDuplicateName = fmt.Errorf("roles: name already in use: %w", httpx.ErrDuplicate)
	// ErrValidation wraps input errors.
	ErrValidation = fmt.Errorf("roles: %w", httpx.ErrValidation)
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
)

// Role is a custom role with its granted permissions.
type Role struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	NameKey     string            `json:"nameKey"`
	Description string            `json:"description"`
	IsActive    bool              `json:"isActive"`
	Holders     int               `json:"holders"`
	Permissions []rbac.Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// CreateInput describes a new custom role.
type CreateInput struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

// UpdateInput changes a custom role. Nil fields are left untouched.
type UpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	IsActive    *bool   `json:"isActive"`
}

// PermissionsInput replaces a role's grants. Entries are permission ids or keys.
type PermissionsInput struct {
	PermissionIDs []int64  `json:"permissionIds" validate:"dive,gt=0"`
	Keys          []string `json:"keys" validate:"dive,required"`
}

// NameKey folds a role name for uniqueness checks: accents are stripped, case is
// folded and inner whitespace collapsed, so "Dirección  de Finanzas" and
// "direccion de finanzas" collide.
func NameKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

func cleanName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len([]rune(name)) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxNameLength)
	}
	return name, nil
}

func cleanDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if len([]rune(desc)) > maxDescriptionLength {
		return "", fmt.Errorf("%w: description exceeds %d characters", ErrValidation, maxDescriptionLength)
	}
	return desc, nil
}
