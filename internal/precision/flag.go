// Package precision runs the short high-frequency dispatch loop around the daily opening instant.
package precision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/teetime-scheduler/internal/clock"
)

// Flag is the shared precision-window marker. It expires on its own; absence means stop.
type Flag interface {
	Set(ctx context.Context, ttl time.Duration) error
	Active(ctx context.Context) (bool, error)
	Clear(ctx context.Context) error
}

// MemoryFlag holds the expiry in process memory.
type MemoryFlag struct {
	clock clock.Clock

	mu      sync.Mutex
	expires time.Time
}

func NewMemoryFlag(c clock.Clock) *MemoryFlag {
	if c == nil {
		c = clock.System{}
	}
	return &MemoryFlag{clock: c}
}

func (f *MemoryFlag) Set(_ context.Context, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires = f.clock.Now().Add(ttl)
	return nil
}

func (f *MemoryFlag) Active(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock.Now().Before(f.expires), nil
}

func (f *MemoryFlag) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires = time.Time{}
	return nil
}

const DefaultKey = "teesched:precision_window"

// RedisFlag keeps the flag as a key with a TTL so every process sees the same window.
type RedisFlag struct {
	client *redis.Client
	key    string
}

func NewRedisFlag(url, key string) (*RedisFlag, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if key == "" {
		key = DefaultKey
	}
	return &RedisFlag{client: redis.NewClient(opts), key: key}, nil
}

func (f *RedisFlag) Set(ctx context.Context, ttl time.Duration) error {
	return f.client.Set(ctx, f.key, "armed", ttl).Err()
}

func (f *RedisFlag) Active(ctx context.Context) (bool, error) {
	n, err := f.client.Exists(ctx, f.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (f *RedisFlag) Clear(ctx context.Context) error {
	return f.client.Del(ctx, f.key).Err()
}

func (f *RedisFlag) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFlag) Close() error {
	return f.client.Close()
}
