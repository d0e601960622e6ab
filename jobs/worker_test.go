package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, task *asynq.Task) error { return nil }

func TestNewWorkerValidatesConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}

	_, err := NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{{Type: TaskAuthzCacheWarmup}}})
	assert.ErrorContains(t, err, "incomplete")

	_, err = NewWorker(WorkerConfig{
		RedisOpts: opts,
		Cron:      []CronRegistration{{Spec: "every tuesday", Task: NewIntegrityScanTask()}},
	})
	assert.ErrorContains(t, err, TaskAuthzIntegrityScan)

	w, err := NewWorker(WorkerConfig{
		RedisOpts: opts,
		Handlers:  []TaskHandler{{Type: TaskAuthzIntegrityScan, Handler: noopHandler}},
		Cron:      []CronRegistration{{Spec: "30 2 * * *", Task: NewIntegrityScanTask()}},
	})
	require.NoError(t, err)
	assert.NotNil(t, w.scheduler)
}

func TestLogTasksPassesThroughResult(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	boom := errors.New("boom")

	h := logTasks(logger)(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error { return boom }))
	err := h.ProcessTask(context.Background(), NewIntegrityScanTask())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "task="+TaskAuthzIntegrityScan)
	assert.Contains(t, buf.String(), "ok=false")
}

func TestAsynqLoggerUsesSlog(t *testing.T) {
	var buf bytes.Buffer
	l := asynqLogger{slog.New(slog.NewTextHandler(&buf, nil))}
	l.Warn("scheduler ", "lagging")
	assert.Contains(t, buf.String(), `msg="scheduler lagging"`)
}

func TestRunWithoutWorker(t *testing.T) {
	var w *Worker
	assert.Error(t, w.Run(context.Background()))
}
