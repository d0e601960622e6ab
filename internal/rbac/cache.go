package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	generationKey         = "authz:gen"
	userGenerationPrefix  = "authz:gen:user:"
	resolutionKeyPrefix   = "authz:perms:"
	allUsersEventPayload  = "*"
	defaultCacheTTL       = 10 * time.Minute
	defaultLocalCacheSize = 1024
)

// DefaultEventsChannel is the pub/sub channel carrying permissions-changed events.
const DefaultEventsChannel = "authz.changed"

// CacheOptions configures a Cache.
type CacheOptions struct {
	TTL       time.Duration
	LocalSize int
	Channel   string
	Logger    *slog.Logger
	Metrics   MetricsRecorder
}

// Cache stores resolved permission sets in Redis with a local LRU in front.
// Entries are addressed by a version made of a global generation and a per-user
// generation; bumping either makes older entries unreachable.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
	local   *expirable.LRU[int64, localEntry]
	logger  *slog.Logger
	metrics MetricsRecorder
}

type localEntry struct {
	version    string
	resolution Resolution
}

// NewCache builds a Cache. A nil client keeps only the local tier.
func NewCache(client *redis.Client, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = defaultCacheTTL
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = defaultLocalCacheSize
	}
	if opts.Channel == "" {
		opts.Channel = DefaultEventsChannel
	}
	return &Cache{
		client:  client,
		ttl:     opts.TTL,
		channel: opts.Channel,
		local:   expirable.NewLRU[int64, localEntry](opts.LocalSize, nil, opts.TTL),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Version returns the current cache version for a user.
func (c *Cache) Version(ctx context.Context, userID int64) (string, error) {
	if c == nil {
		return "", nil
	}
	if c.client == nil {
		return "local", nil
	}
	vals, err := c.client.MGet(ctx, generationKey, userGenerationKey(userID)).Result()
	if err != nil {
		return "", fmt.Errorf("rbac cache: version: %w", err)
	}
	return "g" + generation(vals[0]) + ".u" + generation(vals[1]), nil
}

// Get loads a resolution stored under version.
func (c *Cache) Get(ctx context.Context, userID int64, version string) (Resolution, bool, error) {
	if c == nil || version == "" {
		return Resolution{}, false, nil
	}
	if entry, ok := c.local.Get(userID); ok && entry.version == version {
		c.observe("local", true)
		return entry.resolution, true, nil
	}
	c.observe("local", false)
	if c.client == nil {
		return Resolution{}, false, nil
	}
	payload, err := c.client.Get(ctx, resolutionKey(userID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.observe("redis", false)
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, fmt.Errorf("rbac cache: get: %w", err)
	}
	var res Resolution
	if err := json.Unmarshal(payload, &res); err != nil {
		return Resolution{}, false, fmt.Errorf("rbac cache: decode: %w", err)
	}
	c.local.Add(userID, localEntry{version: version, resolution: res})
	c.observe("redis", true)
	return res, true, nil
}

// Set stores a resolution under version.
func (c *Cache) Set(ctx context.Context, version string, res Resolution) error {
	if c == nil || version == "" {
		return nil
	}
	c.local.Add(res.UserID, localEntry{version: version, resolution: res})
	if c.client == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resolutionKey(res.UserID, version), raw, c.ttl).Err()
}

// BumpUser invalidates the cached set of one user and notifies other instances.
func (c *Cache) BumpUser(ctx context.Context, userID int64) error {
	if c == nil {
		return nil
	}
	c.local.Remove(userID)
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, userGenerationKey(userID)).Err(); err != nil {
		return fmt.Errorf("rbac cache: bump user: %w", err)
	}
	c.publish(ctx, strconv.FormatInt(userID, 10))
	return nil
}

// BumpAll invalidates every cached set, used when role grants change.
func (c *Cache) BumpAll(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.local.Purge()
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("rbac cache: bump all: %w", err)
	}
	c.publish(ctx, allUsersEventPayload)
	return nil
}

// publish notifies other instances. The generation bump already invalidated their
// entries, so a failed publish only delays their local purge until the version check.
func (c *Cache) publish(ctx context.Context, payload string) {
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil && c.logger != nil {
		c.logger.Warn("rbac cache: publish invalidation", slog.String("payload", payload), slog.Any("error", err))
	}
}

// ListenForInvalidation subscribes to permissions-changed events and evicts local entries
// until ctx is cancelled.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rbac cache: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.applyEvent(msg.Payload)
			}
		}
	}()
	return nil
}

func (c *Cache) applyEvent(payload string) {
	payload = strings.TrimSpace(payload)
	if payload == allUsersEventPayload {
		c.local.Purge()
		return
	}
	userID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("rbac cache: malformed event", slog.String("payload", payload))
		}
		return
	}
	c.local.Remove(userID)
}

func (c *Cache) observe(tier string, hit bool) {
	if c.metrics != nil {
		c.metrics.ObserveCache(tier, hit)
	}
}

func userGenerationKey(userID int64) string {
	return userGenerationPrefix + strconv.FormatInt(userID, 10)
}

func resolutionKey(userID int64, version string) string {
	return resolutionKeyPrefix + strconv.FormatInt(userID, 10) + ":" + version
}

func generation(v interface{}) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "0"
	}
	return s
}
