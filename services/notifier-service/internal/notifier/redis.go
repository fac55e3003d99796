package notifier

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper implements the set-if-not-exists guard on a shared Redis, so
// duplicates are suppressed across all notifier instances.
type RedisDeduper struct {
	rdb *redis.Client
}

func NewRedisDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, key).Err()
}
