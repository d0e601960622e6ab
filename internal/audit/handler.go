package audit

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

const (
	dateLayout       = "2006-01-02"
	defaultWindow    = 30 * 24 * time.Hour
	exportsPerMinute = 5
)

// Handler serves the audit trail.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

// MountRoutes registers GET / and GET /export.csv. Exports are rate limited per user.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportsPerMinute, time.Minute,
		httprate.WithKeyFuncs(exportKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "export limit reached")
		}),
	)
	r.With(h.rbac.RequireAll(rbac.PermAuditRead)).Get("/", h.timeline)
	r.With(h.rbac.RequireAll(rbac.PermAuditExport), limiter).Get("/export.csv", h.export)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, fields := h.parseFilters(r)
	if len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.fail(w, "audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, fields := h.parseFilters(r)
	if len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	var buf bytes.Buffer
	n, err := h.service.Export(r.Context(), filters, &buf)
	if err != nil {
		h.fail(w, "audit export", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
	w.Header().Set("X-Total-Count", strconv.Itoa(n))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write audit csv", slog.Any("error", err))
	}
}

// parseFilters reads from/to as dates (to is inclusive), actor, entity, entity_id,
// action, page and page_size. Without dates the last 30 days are returned.
func (h *Handler) parseFilters(r *http.Request) (Filters, map[string]string) {
	q := r.URL.Query()
	fields := make(map[string]string)

	to := h.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		day, err := time.Parse(dateLayout, raw)
		if err != nil {
			fields["to"] = "must be a date formatted YYYY-MM-DD"
		} else {
			to = day.Add(24 * time.Hour)
		}
	}
	from := to.Add(-defaultWindow)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		day, err := time.Parse(dateLayout, raw)
		if err != nil {
			fields["from"] = "must be a date formatted YYYY-MM-DD"
		} else {
			from = day
		}
	}

	f := Filters{
		From:     from,
		To:       to,
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Action:   strings.TrimSpace(q.Get("action")),
	}
	for name, target := range map[string]*int{"page": &f.Page, "page_size": &f.PageSize} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fields[name] = "must be a positive integer"
			continue
		}
		*target = n
	}
	if raw := strings.TrimSpace(q.Get("actor")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			fields["actor"] = "must be a user id"
		} else {
			f.ActorID = id
		}
	}
	return f, fields
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	if errors.Is(err, ErrInvalidRange) {
		httpx.ValidationProblem(w, map[string]string{"range": "from must precede to and span at most one year"})
		return
	}
	httpx.RespondError(w, err)
}

func exportKey(r *http.Request) (string, error) {
	if access := rbac.AccessFromContext(r.Context()); !access.Loading() {
		return "user:" + strconv.FormatInt(access.UserID(), 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
