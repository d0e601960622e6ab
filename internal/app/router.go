package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diazhh/alcaldia-saas/internal/audit"
	"github.com/diazhh/alcaldia-saas/internal/observability"
	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/roles"
	"github.com/diazhh/alcaldia-saas/internal/shared"
	"github.com/diazhh/alcaldia-saas/internal/users"
	"github.com/diazhh/alcaldia-saas/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware
	RBACHandler    *rbac.Handler
	RolesHandler   *roles.Handler
	UsersHandler   *users.Handler
	AuditHandler   *audit.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Get("/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		token, err := params.CSRFManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"token": token, "header": shared.CSRFHeader})
	})

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.Load)

		if params.RBACHandler != nil {
			r.Route("/me", params.RBACHandler.MountMe)
			r.Route("/permissions", params.RBACHandler.MountPermissions)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		r.Route("/users", func(r chi.Router) {
			if params.UsersHandler != nil {
				params.UsersHandler.MountRoutes(r)
			}
			if params.RBACHandler != nil {
				r.Route("/{id}/custom-roles", params.RBACHandler.MountUserRoles)
			}
		})
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.RBACMiddleware.RequireAny(rbac.AdminScopes()...)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
