package requestcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps deferred request targets in Redis. One-shot recall uses
// GETDEL, so concurrent recalls of the same token hand the target to
// exactly one caller.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCache creates a [RedisCache]. prefix sets the Redis key namespace.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "agrc"
	}
	return &RedisCache{redis: client, prefix: prefix}
}

func (c *RedisCache) key(token string) string {
	return c.prefix + ":" + token
}

func (c *RedisCache) Remember(ctx context.Context, preAuthToken, target string, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.key(preAuthToken), target, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Recall(ctx context.Context, preAuthToken string) (string, error) {
	target, err := c.redis.GetDel(ctx, c.key(preAuthToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return target, nil
}
