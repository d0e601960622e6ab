package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)

// Store is the read side used by the Resolver.
type Store interface {
	// FindSubject returns ErrNotFound when the user does not exist.
	FindSubject(ctx context.Context, userID int64) (Subject, error)
	// BuiltinGrants lists role_permissions rows for role, joined to the permission catalog.
	BuiltinGrants(ctx context.Context, role BuiltinRole) ([]GrantRow, error)
	// CustomGrants lists grants of every active custom role assigned to the user.
	CustomGrants(ctx context.Context, userID int64) ([]GrantRow, error)
}

// Resolver computes effective permission sets.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the union of the user's built-in role grants and custom role grants.
// Unknown or inactive users resolve to an empty set without error.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (Resolution, error) {
	empty := Resolution{UserID: userID, Grants: []Grant{}}
	subject, err := r.store.FindSubject(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return empty, nil
		}
		return Resolution{}, fmt.Errorf("rbac: find subject: %w", err)
	}
	if !subject.IsActive {
		return empty, nil
	}

	var builtin []GrantRow
	if subject.Role.Valid() {
		builtin, err = r.store.BuiltinGrants(ctx, subject.Role)
		if err != nil {
			return Resolution{}, fmt.Errorf("rbac: builtin grants: %w", err)
		}
	} else if r.logger != nil {
		r.logger.Warn("rbac unknown built-in role", slog.Int64("user_id", userID), slog.String("role", string(subject.Role)))
	}

	custom, err := r.store.CustomGrants(ctx, userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("rbac: custom grants: %w", err)
	}

	grants, dropped := mergeGrants(builtin, custom)
	if dropped > 0 && r.logger != nil {
		r.logger.Debug("rbac dropped stale grants", slog.Int64("user_id", userID), slog.Int("count", dropped))
	}
	return Resolution{UserID: userID, Role: subject.Role, Found: true, Grants: grants}, nil
}
