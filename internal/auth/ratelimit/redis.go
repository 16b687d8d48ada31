package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

// DefaultRedisPrefix namespaces window counters.
const DefaultRedisPrefix = "admission:ratelimit:"

const window = time.Minute

type redisClient interface {
	Incr(ctx context.Context, key string) *goredis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	PTTL(ctx context.Context, key string) *goredis.DurationCmd
}

// Redis counts requests in one-minute fixed windows shared by every instance
// pointing at the same Redis.
type Redis struct {
	client redisClient
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client redisClient, cfg Config, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, cfg: cfg, prefix: prefix, now: time.Now}, nil
}

func (r *Redis) key(tenantID string, mode admission.Mode, slot int64) string {
	return r.prefix + string(mode) + ":" + tenantID + ":" + strconv.FormatInt(slot, 10)
}

// Allow increments the current window counter for tenantID in mode.
func (r *Redis) Allow(ctx context.Context, tenantID string, mode admission.Mode) (Result, error) {
	rpm := r.cfg.RPM(mode)
	if rpm <= 0 {
		return Result{Allowed: true}, nil
	}

	now := r.now()
	slot := now.UnixMilli() / window.Milliseconds()
	key := r.key(tenantID, mode, slot)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("increment rate window: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("expire rate window: %w", err)
		}
	}
	if count <= int64(rpm) {
		return Result{Allowed: true}, nil
	}

	retry, err := r.client.PTTL(ctx, key).Result()
	if err != nil || retry <= 0 {
		windowEnd := time.UnixMilli((slot + 1) * window.Milliseconds())
		retry = windowEnd.Sub(now)
	}
	return Result{Allowed: false, RetryAfter: retry}, nil
}
