package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the subset of asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits authorization tasks to the default queue.
type Client struct {
	client Enqueuer
}

// NewClient connects an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(enqueuer Enqueuer) *Client {
	return &Client{client: enqueuer}
}

// EnqueueCacheWarmup schedules the permission sets of userIDs to be recomputed.
// An empty list is a no-op; use Enqueue with NewCacheWarmupTask(nil) to warm everyone.
func (c *Client) EnqueueCacheWarmup(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	task, err := NewCacheWarmupTask(userIDs)
	if err != nil {
		return err
	}
	_, err = c.Enqueue(ctx, task, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute))
	return err
}

// Enqueue submits a prepared task on the default queue.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs: client not configured")
	}
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return c.client.EnqueueContext(ctx, task, opts...)
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
