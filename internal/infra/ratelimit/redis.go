package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "cdil:ratelimit:"
	// Counters outlive their window briefly so a late INCR never recreates
	// a key without expiry.
	redisExpiryGrace = 5 * time.Second
)

// RedisLimiter shares window counters between service replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client redis.UniversalClient, now func() time.Time) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key domain.RateLimitKey, quota domain.RateLimitQuota) (domain.RateLimitDecision, error) {
	if quota.Requests <= 0 {
		return unlimited(quota), nil
	}
	start, end := windowBounds(r.now(), quota.Window)
	counterKey := CounterKey(key, start)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, counterKey)
		pipe.PExpireAt(ctx, counterKey, end.Add(redisExpiryGrace))
		return nil
	})
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis rate limit %s: %w", key, err)
	}
	return decide(quota, incr.Val(), end), nil
}

// CounterKey names the Redis counter for key in the window starting at
// windowStart. The tenant is hash-tagged so a tenant's counters share a
// cluster slot.
func CounterKey(key domain.RateLimitKey, windowStart time.Time) string {
	return fmt.Sprintf("%s{%s}:%s:%d", redisKeyPrefix, key.TenantID, key.Route, windowStart.Unix())
}
