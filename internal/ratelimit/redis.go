// redis.go implements the Redis-backed Limiter used when multiple service
// instances must share one counter store.
package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter backed by a shared Redis sliding-window counter
type Redis struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedis creates a Redis-backed limiter on an existing client
func NewRedis(client *redis.Client, config Config) *Redis {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = DefaultConfig().BurstSize
	}

	return &Redis{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Period: time.Minute,
			Burst:  config.BurstSize,
		},
	}
}

// Allow implements Limiter. Redis errors surface to the caller so it can
// fail closed rather than waving requests through unmetered.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	res, err := r.limiter.Allow(ctx, "ratelimit:"+key, r.limit)
	if err != nil {
		return false, err
	}
	return res.Allowed > 0, nil
}
