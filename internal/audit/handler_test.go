package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/rbac/rbactest"
	"github.com/diazhh/alcaldia-saas/internal/shared"
)

const (
	adminID    = 1
	directorID = 2
)

func newTestRouter(t *testing.T, repo *fakeRepo) http.Handler {
	t.Helper()
	store := rbactest.NewMemoryStore()
	read := store.Perm(rbac.PermAuditRead)
	export := store.Perm(rbac.PermAuditExport)
	store.GrantBuiltin(rbac.RoleAdmin, read.ID, export.ID)
	store.GrantBuiltin(rbac.RoleDirector, read.ID)
	store.AddUser(rbac.Subject{ID: adminID, Role: rbac.RoleAdmin, IsActive: true})
	store.AddUser(rbac.Subject{ID: directorID, Role: rbac.RoleDirector, IsActive: true})
	store.AddUser(rbac.Subject{ID: 3, Role: rbac.RoleEmpleado, IsActive: true})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	authz := rbac.NewAuthorizer(rbac.NewResolver(store, nil), rbac.NewCache(client, rbac.CacheOptions{TTL: time.Minute}), nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, NewService(repo), rbac.Middleware{Authorizer: authz})
	h.now = func() time.Time { return time.Date(2024, 5, 20, 15, 30, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if raw := req.Header.Get("X-Test-User"); raw != "" {
				sess := &shared.Session{ID: "test-session"}
				sess.SetUser(raw)
				req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/audit", h.MountRoutes)
	return r
}

func get(t *testing.T, h http.Handler, user, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTimelineEndpoint(t *testing.T) {
	repo := &fakeRepo{entries: sampleEntries(3)}
	h := newTestRouter(t, repo)

	rec := get(t, h, "2", "/audit/?actor=1&entity=user&entity_id=3&action=custom_role&page_size=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Entries, 2)
	assert.True(t, res.Paging.HasNext)

	assert.Equal(t, int64(1), repo.last.ActorID)
	assert.Equal(t, "user", repo.last.Entity)
	assert.Equal(t, "3", repo.last.EntityID)
	assert.Equal(t, "custom_role", repo.last.Action)
	assert.Equal(t, time.Date(2024, 5, 21, 0, 0, 0, 0, time.UTC), repo.last.To)
	assert.Equal(t, time.Date(2024, 4, 21, 0, 0, 0, 0, time.UTC), repo.last.From)
}

func TestTimelineDateFilters(t *testing.T) {
	repo := &fakeRepo{}
	h := newTestRouter(t, repo)

	rec := get(t, h, "1", "/audit/?from=2024-01-01&to=2024-01-31")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), repo.last.From)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), repo.last.To)

	rec = get(t, h, "1", "/audit/?from=01-01-2024&page=0")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"from"`)
	assert.Contains(t, rec.Body.String(), `"page"`)

	rec = get(t, h, "1", "/audit/?from=2024-02-01&to=2024-01-01")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"range"`)
}

func TestAuditRequiresPermissions(t *testing.T) {
	h := newTestRouter(t, &fakeRepo{entries: sampleEntries(1)})

	assert.Equal(t, http.StatusForbidden, get(t, h, "", "/audit/").Code)
	assert.Equal(t, http.StatusForbidden, get(t, h, "3", "/audit/").Code)
	assert.Equal(t, http.StatusForbidden, get(t, h, "2", "/audit/export.csv").Code)
}

func TestExportEndpoint(t *testing.T) {
	h := newTestRouter(t, &fakeRepo{entries: sampleEntries(2)})

	rec := get(t, h, "1", "/audit/export.csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "occurred_at,actor_id"))

	for i := 1; i < exportsPerMinute; i++ {
		require.Equal(t, http.StatusOK, get(t, h, "1", "/audit/export.csv").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "1", "/audit/export.csv").Code)
}
