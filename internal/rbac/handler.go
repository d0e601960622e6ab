package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

// PermissionLister lists the permission catalog.
type PermissionLister interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// Handler serves the permission and custom role assignment endpoints.
type Handler struct {
	logger      *slog.Logger
	authorizer  *Authorizer
	assignments *AssignmentService
	catalog     PermissionLister
	rbac        Middleware
	validator   *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, authorizer *Authorizer, assignments *AssignmentService, catalog PermissionLister, rbac Middleware) *Handler {
	return &Handler{
		logger:      logger,
		authorizer:  authorizer,
		assignments: assignments,
		catalog:     catalog,
		rbac:        rbac,
		validator:   validator.New(),
	}
}

// MountMe registers the current-user routes under /me.
func (h *Handler) MountMe(r chi.Router) {
	r.Get("/permissions", h.myPermissions)
	r.Get("/can", h.myCan)
}

// MountPermissions registers the catalog listing under /permissions.
func (h *Handler) MountPermissions(r chi.Router) {
	r.With(h.rbac.RequireAny(PermPermissionsRead, PermRolesManage)).Get("/", h.listPermissions)
}

// MountUserRoles registers custom role assignment routes under /users/{id}/custom-roles.
func (h *Handler) MountUserRoles(r chi.Router) {
	r.With(h.rbac.RequireAny(PermUsersRead, PermUsersAssignRole)).Get("/", h.listAssignments)
	r.With(h.rbac.RequireAny(PermUsersAssignRole)).Post("/", h.assign)
	r.With(h.rbac.RequireAny(PermUsersAssignRole)).Delete("/{roleID}", h.revoke)
}

type permissionsResponse struct {
	UserID       int64               `json:"userId"`
	Role         BuiltinRole         `json:"role,omitempty"`
	IsAdmin      bool                `json:"isAdmin"`
	IsSuperAdmin bool                `json:"isSuperAdmin"`
	Loading      bool                `json:"loading"`
	Modules      map[string][]string `json:"modules"`
	Features     map[string][]string `json:"features"`
	Permissions  []string            `json:"permissions"`
	Grants       []Grant             `json:"grants"`
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	access, ok := h.currentAccess(w, r)
	if !ok {
		return
	}
	res := access.Resolution()
	grants := res.Grants
	if grants == nil {
		grants = []Grant{}
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{
		UserID:       access.UserID(),
		Role:         access.Role(),
		IsAdmin:      access.IsAdmin(),
		IsSuperAdmin: access.IsSuperAdmin(),
		Loading:      access.Loading(),
		Modules:      res.Modules(),
		Features:     res.Features(),
		Permissions:  res.Keys(),
		Grants:       grants,
	})
}

type canResponse struct {
	Mode        string          `json:"mode"`
	Allowed     bool            `json:"allowed"`
	Permissions map[string]bool `json:"permissions"`
}

func (h *Handler) myCan(w http.ResponseWriter, r *http.Request) {
	keys := splitPerms(r.URL.Query()["perm"])
	mode := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode")))
	if mode == "" {
		mode = "any"
	}
	if mode != "any" && mode != "all" {
		httpx.ValidationProblem(w, map[string]string{"mode": "must be any or all"})
		return
	}
	if len(keys) == 0 {
		httpx.ValidationProblem(w, map[string]string{"perm": "at least one permission key is required"})
		return
	}
	access, ok := h.currentAccess(w, r)
	if !ok {
		return
	}
	results := make(map[string]bool, len(keys))
	for _, k := range keys {
		results[k] = access.CanKey(k)
	}
	allowed := access.CanAny(keys...)
	if mode == "all" {
		allowed = access.CanAll(keys...)
	}
	httpx.JSON(w, http.StatusOK, canResponse{Mode: mode, Allowed: allowed, Permissions: results})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("module")))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if module != "" && p.Module != module {
			continue
		}
		out = append(out, p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.assignments.ListAssignments(r.Context(), userID)
	if err != nil {
		h.fail(w, "list custom role assignments", err)
		return
	}
	if roles == nil {
		roles = []AssignedRole{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": roles})
}

type assignRequest struct {
	RoleID int64 `json:"roleId" validate:"required,gt=0"`
}

type outcomeResponse struct {
	UserID  int64         `json:"userId"`
	RoleID  int64         `json:"roleId"`
	Outcome AssignOutcome `json:"outcome"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if fields := validationErrors(h.validator.Struct(req)); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	actor := AccessFromContext(r.Context())
	if err := CheckAssignmentPolicy(actor, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	outcome, err := h.assignments.Assign(r.Context(), AssignInput{UserID: userID, RoleID: req.RoleID, AssignedBy: actor.UserID()})
	if err != nil {
		h.fail(w, "assign custom role", err)
		return
	}
	status := http.StatusOK
	if outcome == OutcomeAssigned {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, outcomeResponse{UserID: userID, RoleID: req.RoleID, Outcome: outcome})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	actor := AccessFromContext(r.Context())
	if err := CheckAssignmentPolicy(actor, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	outcome, err := h.assignments.Revoke(r.Context(), userID, roleID, actor.UserID())
	if err != nil {
		h.fail(w, "revoke custom role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcomeResponse{UserID: userID, RoleID: roleID, Outcome: outcome})
}

// currentAccess returns the request access, resolving it when the Load middleware did not run.
func (h *Handler) currentAccess(w http.ResponseWriter, r *http.Request) (*Access, bool) {
	userID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return nil, false
	}
	access, err := h.authorizer.Access(r.Context(), userID)
	if err != nil {
		h.fail(w, "resolve access", err)
		return nil, false
	}
	return access, true
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.ValidationProblem(w, map[string]string{name: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func splitPerms(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validationErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"general": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
