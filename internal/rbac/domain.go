package rbac

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BuiltinRole is the fixed role every user carries.
type BuiltinRole string

// Built-in roles, highest privilege first.
const (
	RoleSuperAdmin  BuiltinRole = "SUPER_ADMIN"
	RoleAdmin       BuiltinRole = "ADMIN"
	RoleDirector    BuiltinRole = "DIRECTOR"
	RoleCoordinador BuiltinRole = "COORDINADOR"
	RoleEmpleado    BuiltinRole = "EMPLEADO"
	RoleCiudadano   BuiltinRole = "CIUDADANO"
)

// ErrInvalidRole is returned when a string does not name a built-in role.
var ErrInvalidRole = errors.New("rbac: invalid built-in role")

// BuiltinRoles lists every built-in role.
func BuiltinRoles() []BuiltinRole {
	return []BuiltinRole{RoleSuperAdmin, RoleAdmin, RoleDirector, RoleCoordinador, RoleEmpleado, RoleCiudadano}
}

// ParseBuiltinRole converts raw input into a BuiltinRole.
func ParseBuiltinRole(raw string) (BuiltinRole, error) {
	role := BuiltinRole(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return role, nil
}

// Valid reports whether r is one of the built-in roles.
func (r BuiltinRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleDirector, RoleCoordinador, RoleEmpleado, RoleCiudadano:
		return true
	default:
		return false
	}
}

// IsAdmin is true for ADMIN and SUPER_ADMIN.
func (r BuiltinRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// RoleKind tags the variant held by a RoleRef.
type RoleKind uint8

const (
	// RoleKindBuiltin marks a grant coming from the user's built-in role.
	RoleKindBuiltin RoleKind = iota + 1
	// RoleKindCustom marks a grant coming from an assigned custom role.
	RoleKindCustom
)

// RoleRef identifies the role that granted a permission: either a built-in role or a custom role.
type RoleRef struct {
	Kind       RoleKind    `json:"kind"`
	Builtin    BuiltinRole `json:"builtin,omitempty"`
	CustomID   int64       `json:"customId,omitempty"`
	CustomName string      `json:"customName,omitempty"`
}

// BuiltinRef builds a RoleRef for a built-in role.
func BuiltinRef(role BuiltinRole) RoleRef {
	return RoleRef{Kind: RoleKindBuiltin, Builtin: role}
}

// CustomRef builds a RoleRef for a custom role.
func CustomRef(id int64, name string) RoleRef {
	return RoleRef{Kind: RoleKindCustom, CustomID: id, CustomName: name}
}

// String renders the ref as "builtin:ROLE" or "custom:ID".
func (r RoleRef) String() string {
	switch r.Kind {
	case RoleKindBuiltin:
		return "builtin:" + string(r.Builtin)
	case RoleKindCustom:
		return "custom:" + strconv.FormatInt(r.CustomID, 10)
	default:
		return "unknown"
	}
}

// Permission is an atomic capability from the catalog.
type Permission struct {
	ID          int64  `json:"id"`
	Module      string `json:"module"`
	Feature     string `json:"feature,omitempty"`
	Action      string `json:"action"`
	Category    string `json:"category,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	IsActive    bool   `json:"isActive"`
}

// Key returns the normalised (module, feature, action) triple.
func (p Permission) Key() Key {
	return NewKey(p.Module, p.Feature, p.Action)
}

// CustomRole is an admin-defined bundle of permissions.
type CustomRole struct {
	ID          int64
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserCustomRole links a user to a custom role.
type UserCustomRole struct {
	UserID     int64
	RoleID     int64
	AssignedBy int64
	AssignedAt time.Time
}

// AssignedRole is a custom role as seen from a user's assignment list.
type AssignedRole struct {
	RoleID     int64     `json:"roleId"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"isActive"`
	AssignedBy int64     `json:"assignedBy,omitempty"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Subject is the user as far as authorization is concerned.
type Subject struct {
	ID       int64
	Email    string
	Role     BuiltinRole
	IsActive bool
}

