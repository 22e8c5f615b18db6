package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix namespaces all session-core values in Redis.
	KeyPrefix = "huddle:"

	// ValueTTL is the time-to-live applied on every write. Histories that
	// go untouched for this long are evicted; the core degrades to an
	// empty history when that happens.
	ValueTTL = 7 * 24 * time.Hour
)

// Redis is a Store backed by a Redis string value per key.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis at the given address and verifies the
// connection before returning.
func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: redis connection failed: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing Redis client. The caller keeps
// ownership of the client's lifecycle when constructed this way.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the value stored under the key, or (nil, nil) if absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis get %s: %w", key, err)
	}
	return value, nil
}

// Set stores the value under the key, overwriting prior content and
// refreshing the TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, KeyPrefix+key, value, ValueTTL).Err(); err != nil {
		return fmt.Errorf("storage: redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
