// Package redis provides a Redis-backed implementation of the
// storage.Store interface using github.com/redis/go-redis/v9.
//
// Keys may be shared with other processes; all operations map to single
// redis commands so concurrent writers remain safe.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/go-vikunja/vikunja-mcp/storage"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// KeyPrefix is the prefix applied to all keys.
	// Default: "vmcp:".
	KeyPrefix string
}

// Store implements the storage.Store interface using Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New creates a Redis-backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "vmcp:"
	}

	return &Store{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get returns the value for key, or nil when the key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get %s: %v", storage.ErrUnavailable, key, err)
	}
	return val, nil
}

// Set stores value under key. A zero ttl means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

// Incr increments the counter at key, creating it at 1.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", storage.ErrUnavailable, key, err)
	}
	return n, nil
}

// Expire sets the TTL of an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.keyPrefix+key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: expire %s: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key. go-redis reports the redis
// sentinels -1 (no expiry) and -2 (missing) as raw durations, which are
// exactly the storage sentinels.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %v", storage.ErrUnavailable, key, err)
	}
	return d, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", storage.ErrUnavailable, key, err)
	}
	return n > 0, nil
}

// Ping probes the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ storage.Store = (*Store)(nil)
