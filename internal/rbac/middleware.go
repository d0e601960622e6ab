package rbac

import (
	"log/slog"
	"net/http"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
	Metrics    MetricsRecorder
}

// Load resolves the current user's access once and stores it in the request context.
// Anonymous requests pass through without access.
func (m Middleware) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.CurrentUserID(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		access, err := m.Authorizer.Access(r.Context(), userID)
		if err != nil {
			m.logError("rbac load access", userID, err)
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAccess(r.Context(), access)))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := normalizeKeys(perms)
	return m.guard(firstModule(required), func(a *Access) bool {
		if len(required) == 0 {
			return true
		}
		return a.CanAny(required...)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	required := normalizeKeys(perms)
	return m.guard(firstModule(required), func(a *Access) bool {
		return a.CanAll(required...)
	})
}

// RequireModule ensures the current user holds any permission on module.
func (m Middleware) RequireModule(module string) func(http.Handler) http.Handler {
	module = normalizeToken(module)
	return m.guard(module, func(a *Access) bool {
		return a.CanAccessModule(module)
	})
}

func (m Middleware) guard(module string, allowed func(*Access) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := shared.CurrentUserID(r.Context())
			if !ok {
				m.observe(module, false)
				httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), "")
				return
			}
			access, err := m.Authorizer.Access(r.Context(), userID)
			if err != nil {
				m.logError("rbac guard", userID, err)
				httpx.RespondError(w, err)
				return
			}
			ok = allowed(access)
			m.observe(module, ok)
			if !ok {
				httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), "")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAccess(r.Context(), access)))
		})
	}
}

func (m Middleware) observe(module string, allowed bool) {
	if m.Metrics != nil {
		m.Metrics.ObserveDecision(module, allowed)
	}
}

func (m Middleware) logError(msg string, userID int64, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// normalizeKeys parses and deduplicates keys. Malformed keys are kept verbatim so they deny.
func normalizeKeys(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		text := normalizeToken(p)
		if key, err := ParseKey(p); err == nil {
			text = key.String()
		}
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

func firstModule(keys []string) string {
	for _, k := range keys {
		if key, err := ParseKey(k); err == nil {
			return key.Module
		}
	}
	return "unknown"
}
