package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

// Store is the persistence port of the Service.
type Store interface {
	List(ctx context.Context, filter ListFilter) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	UpdateRole(ctx context.Context, id int64, role rbac.BuiltinRole) error
	Upsert(ctx context.Context, u User, passwordHash string) (User, error)
}

// Service manages users and their built-in role.
type Service struct {
	store     Store
	notifier  rbac.ChangeNotifier
	audit     rbac.AuditRecorder
	logger    *slog.Logger
	validator *validator.Validate
	hashCost  int
}

// NewService constructs a Service. notifier and audit may be nil.
func NewService(store Store, notifier rbac.ChangeNotifier, audit rbac.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
		validator: validator.New(),
		hashCost:  bcrypt.DefaultCost,
	}
}

// List returns users matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]User, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, filter.Role)
	}
	return s.store.List(ctx, filter.normalized())
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.store.Get(ctx, id)
}

// ChangeRole sets the built-in role of a user. Actors may not change their own role,
// and only SUPER_ADMIN may grant or remove SUPER_ADMIN.
func (s *Service) ChangeRole(ctx context.Context, actor *rbac.Access, id int64, in ChangeRoleInput) (User, error) {
	role, err := rbac.ParseBuiltinRole(in.Role)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !actor.Can(rbac.ModuleUsers, rbac.ActionEdit) {
		return User{}, ErrForbidden
	}
	if actor.UserID() == id {
		return User{}, fmt.Errorf("%w: cannot change your own role", ErrForbidden)
	}
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if (role == rbac.RoleSuperAdmin || user.Role == rbac.RoleSuperAdmin) && !actor.IsSuperAdmin() {
		return User{}, fmt.Errorf("%w: only SUPER_ADMIN may manage SUPER_ADMIN accounts", ErrForbidden)
	}
	if user.Role == role {
		return user, nil
	}
	if err := s.store.UpdateRole(ctx, id, role); err != nil {
		return User{}, err
	}
	previous := user.Role
	user.Role = role

	if s.notifier != nil {
		if err := s.notifier.PermissionsChanged(ctx, id); err != nil {
			s.warn("users notify permissions changed", err)
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID(),
			Action:   "user.change_role",
			Entity:   "user",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"from": string(previous), "to": string(role)},
		})
		if err != nil {
			s.warn("users audit record", err)
		}
	}
	return user, nil
}

// Ensure creates the account or refreshes its name and role. Passwords of existing
// accounts are left alone.
func (s *Service) Ensure(ctx context.Context, in NewUser) (User, error) {
	if err := s.validator.Struct(in); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !in.Role.Valid() {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, in.Role)
	}
	existing, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	hash := ""
	if errors.Is(err, ErrNotFound) {
		raw, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
		hash = string(raw)
	}
	user, err := s.store.Upsert(ctx, User{Email: in.Email, Name: in.Name, Role: in.Role}, hash)
	if err != nil {
		return User{}, err
	}
	if existing.ID != 0 && existing.Role != user.Role && s.notifier != nil {
		if err := s.notifier.PermissionsChanged(ctx, user.ID); err != nil {
			s.warn("users notify permissions changed", err)
		}
	}
	return user, nil
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}
