package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	maxExportRows   = 5000
	maxRange        = 366 * 24 * time.Hour
)

// ErrInvalidRange is returned when From is not before To or the window is longer than a year.
var ErrInvalidRange = fmt.Errorf("audit: invalid date range: %w", httpx.ErrValidation)

var csvHeader = []string{"occurred_at", "actor_id", "actor_email", "action", "entity", "entity_id", "meta"}

// Service pages and exports the audit trail.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries matching f.
func (s *Service) Timeline(ctx context.Context, f Filters) (Result, error) {
	if err := checkRange(f); err != nil {
		return Result{}, err
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}

	entries, err := s.repo.Entries(ctx, Query{Filters: f, Offset: (page - 1) * pageSize, Limit: pageSize + 1})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := Paging{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// Export writes up to 5000 matching entries to w as CSV and returns how many rows it wrote.
func (s *Service) Export(ctx context.Context, f Filters, w io.Writer) (int, error) {
	if err := checkRange(f); err != nil {
		return 0, err
	}
	entries, err := s.repo.Entries(ctx, Query{Filters: f, Limit: maxExportRows})
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, e := range entries {
		meta := ""
		if len(e.Meta) > 0 {
			raw, err := json.Marshal(e.Meta)
			if err != nil {
				return 0, fmt.Errorf("audit: encode meta of entry %d: %w", e.ID, err)
			}
			meta = string(raw)
		}
		actor := ""
		if e.ActorID != 0 {
			actor = strconv.FormatInt(e.ActorID, 10)
		}
		record := []string{e.At.UTC().Format(time.RFC3339), actor, e.ActorEmail, e.Action, e.Entity, e.EntityID, meta}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(entries), cw.Error()
}

func checkRange(f Filters) error {
	if f.From.IsZero() || f.To.IsZero() {
		return nil
	}
	if !f.From.Before(f.To) || f.To.Sub(f.From) > maxRange {
		return ErrInvalidRange
	}
	return nil
}
