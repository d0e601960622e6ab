package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

// AssignOutcome describes what an assignment or revocation did.
type AssignOutcome string

const (
	OutcomeAssigned        AssignOutcome = "assigned"
	OutcomeAlreadyAssigned AssignOutcome = "already_assigned"
	OutcomeSkipped         AssignOutcome = "skipped"
	OutcomeRevoked         AssignOutcome = "revoked"
	OutcomeNotAssigned     AssignOutcome = "not_assigned"
)

// ErrAssignmentForbidden is returned when the actor may not change the target's custom roles.
var ErrAssignmentForbidden = fmt.Errorf("rbac: assignment not allowed: %w", httpx.ErrForbidden)

// AssignmentStore persists user ↔ custom role links.
type AssignmentStore interface {
	FindSubject(ctx context.Context, userID int64) (Subject, error)
	FindCustomRole(ctx context.Context, roleID int64) (CustomRole, error)
	// AssignOnce inserts the link unless it exists and reports whether a row was created.
	AssignOnce(ctx context.Context, link UserCustomRole) (bool, error)
	// Unassign deletes the link and reports whether a row was removed.
	Unassign(ctx context.Context, userID, roleID int64) (bool, error)
	ListAssignments(ctx context.Context, userID int64) ([]AssignedRole, error)
}

// ChangeNotifier is told when a user's effective permissions may have changed.
type ChangeNotifier interface {
	PermissionsChanged(ctx context.Context, userID int64) error
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AssignInput carries an assignment request.
type AssignInput struct {
	UserID     int64
	RoleID     int64
	AssignedBy int64
}

// AssignmentService assigns and revokes custom roles.
type AssignmentService struct {
	store    AssignmentStore
	notifier ChangeNotifier
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewAssignmentService builds an AssignmentService. notifier and audit may be nil.
func NewAssignmentService(store AssignmentStore, notifier ChangeNotifier, audit AuditRecorder, logger *slog.Logger) *AssignmentService {
	return &AssignmentService{store: store, notifier: notifier, audit: audit, logger: logger, now: time.Now}
}

// Assign links a custom role to a user. Existing links are left untouched and unknown
// users or roles are skipped with a warning; neither is an error.
func (s *AssignmentService) Assign(ctx context.Context, in AssignInput) (AssignOutcome, error) {
	if _, err := s.store.FindSubject(ctx, in.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.warn("rbac assign: user not found", in)
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("rbac assign: find user: %w", err)
	}
	role, err := s.store.FindCustomRole(ctx, in.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.warn("rbac assign: custom role not found", in)
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("rbac assign: find role: %w", err)
	}

	inserted, err := s.store.AssignOnce(ctx, UserCustomRole{
		UserID:     in.UserID,
		RoleID:     in.RoleID,
		AssignedBy: in.AssignedBy,
		AssignedAt: s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("rbac assign: insert: %w", err)
	}
	if !inserted {
		return OutcomeAlreadyAssigned, nil
	}
	s.afterChange(ctx, "custom_role.assign", in.AssignedBy, in.UserID, map[string]any{"role_id": role.ID, "role_name": role.Name})
	return OutcomeAssigned, nil
}

// Revoke removes a custom role from a user. Revoking a role that is not assigned is a no-op.
func (s *AssignmentService) Revoke(ctx context.Context, userID, roleID, actorID int64) (AssignOutcome, error) {
	removed, err := s.store.Unassign(ctx, userID, roleID)
	if err != nil {
		return "", fmt.Errorf("rbac revoke: %w", err)
	}
	if !removed {
		return OutcomeNotAssigned, nil
	}
	s.afterChange(ctx, "custom_role.revoke", actorID, userID, map[string]any{"role_id": roleID})
	return OutcomeRevoked, nil
}

// ListAssignments returns the custom roles assigned to a user.
func (s *AssignmentService) ListAssignments(ctx context.Context, userID int64) ([]AssignedRole, error) {
	return s.store.ListAssignments(ctx, userID)
}

// CheckAssignmentPolicy decides whether actor may change the custom roles of targetUserID.
// The actor needs users:assign_roles, and only SUPER_ADMIN may change their own roles.
func CheckAssignmentPolicy(actor *Access, targetUserID int64) error {
	if !actor.Can(ModuleUsers, ActionAssignRoles) {
		return ErrAssignmentForbidden
	}
	if actor.UserID() == targetUserID && !actor.IsSuperAdmin() {
		return ErrAssignmentForbidden
	}
	return nil
}

func (s *AssignmentService) afterChange(ctx context.Context, action string, actorID, userID int64, meta map[string]any) {
	if s.notifier != nil {
		if err := s.notifier.PermissionsChanged(ctx, userID); err != nil && s.logger != nil {
			s.logger.Warn("rbac notify permissions changed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "user",
			EntityID: strconv.FormatInt(userID, 10),
			Meta:     meta,
			At:       s.now().UTC(),
		})
		if err != nil && s.logger != nil {
			s.logger.Warn("rbac audit record", slog.String("action", action), slog.Any("error", err))
		}
	}
}

func (s *AssignmentService) warn(msg string, in AssignInput) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Int64("user_id", in.UserID), slog.Int64("role_id", in.RoleID), slog.Int64("assigned_by", in.AssignedBy))
	}
}
