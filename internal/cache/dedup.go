// Package cache holds the Redis-backed fast path for webhook deduplication.
// Postgres stays the source of truth: the unique stripe_event_id constraint
// decides. Redis only saves a round trip for replays it has already seen.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims keys for a limited time.
type Deduper interface {
	// Claim returns true the first time key is seen within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Seen reports whether key is currently claimed.
	Seen(ctx context.Context, key string) (bool, error)
}

// RedisDeduper implements Deduper with SET NX.
type RedisDeduper struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisDeduper parses a redis:// URL and returns a Deduper using it.
func NewRedisDeduper(url, prefix string) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return &RedisDeduper{rdb: redis.NewClient(opts), prefix: prefix}, nil
}

// Ping checks connectivity, for startup.
func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (d *RedisDeduper) Close() error {
	return d.rdb.Close()
}

// Nop claims every key and has seen none. Used when Redis is not configured;
// Postgres still deduplicates.
type Nop struct{}

func (Nop) Claim(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (Nop) Seen(context.Context, string) (bool, error)                 { return false, nil }
