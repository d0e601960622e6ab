package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/diazhh/alcaldia-saas/internal/jobs"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

// IntegrityScanJob reports grant and assignment rows that resolution ignores.
type IntegrityScanJob struct {
	Scanner rbac.IntegrityScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityScanJob wires dependencies for the scan handler.
func NewIntegrityScanJob(scanner rbac.IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle processes integrity scan tasks.
func (j *IntegrityScanJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Scanner == nil {
		return errors.New("integrity scan: handler not configured")
	}
	tracker := j.metrics().Track(TaskAuthzIntegrityScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	report, err := j.Scanner.ScanIntegrity(ctx)
	if err != nil {
		logger.Error("scan integrity", slog.Any("error", err))
		return err
	}

	m := j.metrics()
	m.SetIntegrityFindings("dangling_builtin", report.DanglingBuiltin)
	m.SetIntegrityFindings("dangling_custom", report.DanglingCustom)
	m.SetIntegrityFindings("inactive_grants", report.InactiveGrants)
	m.SetIntegrityFindings("inactive_assignments", report.InactiveAssignments)

	attrs := []any{
		slog.Int64("dangling_builtin", report.DanglingBuiltin),
		slog.Int64("dangling_custom", report.DanglingCustom),
		slog.Int64("inactive_grants", report.InactiveGrants),
		slog.Int64("inactive_assignments", report.InactiveAssignments),
	}
	if report.Clean() {
		logger.Info("integrity scan clean", attrs...)
	} else {
		logger.Warn("integrity scan found ignored rows", attrs...)
	}
	return nil
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuthzIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskAuthzIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
