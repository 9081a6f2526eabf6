// Package storage defines the key/value store contract shared by the
// credential cache and the rate limiter.
//
// The contract is a small superset of the commands both consumers need:
// plain get/set/delete with per-entry TTLs, counter increments with
// expiry, and a liveness probe. Implementations may be backed by an
// external store shared with other processes (storage/redis) or by a
// bounded in-process map (storage/memory); callers must tolerate
// concurrent writers on the external variants.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached. Callers
// that have a fallback path should match it with errors.Is.
var ErrUnavailable = errors.New("storage: backend unavailable")

// TTL sentinel values mirroring the redis convention.
const (
	// TTLNone is returned by TTL for keys without an expiry.
	TTLNone = time.Duration(-1)
	// TTLMissing is returned by TTL for keys that do not exist.
	TTLMissing = time.Duration(-2)
)

// Store is a key/value store with per-entry TTLs and counters.
type Store interface {
	// Get returns the value for key, or nil with a nil error when the key
	// is absent or expired. Errors indicate backend failure only.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr increments the integer value stored at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key, TTLNone when the key has
	// no expiry, or TTLMissing when the key does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping probes backend liveness.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
