package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/diazhh/alcaldia-saas/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Warmer resolves and caches permission sets.
type Warmer interface {
	Warm(ctx context.Context, userIDs []int64) (int, error)
}

// ActiveUserLister lists the ids of active users.
type ActiveUserLister interface {
	ActiveIDs(ctx context.Context) ([]int64, error)
}

// CacheWarmupJob precomputes permission sets after role changes.
type CacheWarmupJob struct {
	Warmer  Warmer
	Users   ActiveUserLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(warmer Warmer, users ActiveUserLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{Warmer: warmer, Users: users, Logger: logger, Metrics: metrics}
}

// Handle processes cache warmup tasks. Failures for individual users fail the task so
// asynq retries it; users already warmed are served from cache on the retry.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Warmer == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskAuthzCacheWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	userIDs := payload.UserIDs
	if len(userIDs) == 0 {
		if j.Users == nil {
			logger.Info("no users to warm")
			return nil
		}
		ids, err := j.Users.ActiveIDs(ctx)
		if err != nil {
			logger.Error("list active users", slog.Any("error", err))
			return err
		}
		userIDs = ids
	}

	start := time.Now()
	warmed, err := j.Warmer.Warm(ctx, userIDs)
	j.metrics().AddWarmed(warmed)
	if err != nil {
		logger.Error("warm permission sets", slog.Int("requested", len(userIDs)), slog.Int("warmed", warmed), slog.Any("error", err))
		return err
	}
	logger.Info("completed cache warmup", slog.Int("users", warmed), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuthzCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskAuthzCacheWarmup))
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
