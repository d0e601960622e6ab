package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzCacheWarmup precomputes permission sets for a list of users.
	TaskAuthzCacheWarmup = "authz:cache_warmup"
	// TaskAuthzIntegrityScan counts grants and assignments ignored by resolution.
	TaskAuthzIntegrityScan = "authz:integrity_scan"
)

// CacheWarmupPayload lists the users to warm. An empty list warms every active user.
type CacheWarmupPayload struct {
	UserIDs []int64 `json:"user_ids"`
}

// NewCacheWarmupTask constructs a warmup task.
func NewCacheWarmupTask(userIDs []int64) (*asynq.Task, error) {
	data, err := json.Marshal(CacheWarmupPayload{UserIDs: userIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzCacheWarmup, data), nil
}

// NewIntegrityScanTask constructs an integrity scan task.
func NewIntegrityScanTask() *asynq.Task {
	return asynq.NewTask(TaskAuthzIntegrityScan, nil)
}

// TaskByName builds a task with its default payload for manual triggering.
func TaskByName(name string) (*asynq.Task, error) {
	switch name {
	case TaskAuthzCacheWarmup:
		return NewCacheWarmupTask(nil)
	case TaskAuthzIntegrityScan:
		return NewIntegrityScanTask(), nil
	default:
		return nil, fmt.Errorf("jobs: unsupported task %q", name)
	}
}
