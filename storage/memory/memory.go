// Package memory provides a bounded in-process implementation of the
// storage.Store interface using github.com/hashicorp/golang-lru/v2.
//
// The LRU bound makes it safe to use as a fallback when an external store
// is unavailable: the map can never grow past its configured size, and
// expired entries are dropped lazily on access plus periodically by a
// janitor goroutine.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-vikunja/vikunja-mcp/storage"
)

// DefaultMaxEntries bounds the store when no explicit size is given.
const DefaultMaxEntries = 4096

const janitorInterval = 5 * time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store implements storage.Store in process memory.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
	stop  chan struct{}
	once  sync.Once
}

// New creates a bounded in-memory store. maxEntries <= 0 selects
// DefaultMaxEntries.
func New(maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := lru.New[string, *entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Store{cache: cache, stop: make(chan struct{})}
	go s.janitor()
	return s, nil
}

// Get returns the value for key, or nil when absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if e.expired(time.Now()) {
		s.cache.Remove(key)
		return nil, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key with an optional TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := &entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.cache.Add(key, e)
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

// Incr increments the integer stored at key, creating it at 1. A key that
// holds a non-integer value resets to 1, matching a counter namespace that
// is never mixed with opaque values.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var n int64
	var expiresAt time.Time
	if e, ok := s.cache.Get(key); ok && !e.expired(now) {
		if parsed, err := strconv.ParseInt(string(e.value), 10, 64); err == nil {
			n = parsed
		}
		expiresAt = e.expiresAt
	}
	n++
	s.cache.Add(key, &entry{value: []byte(strconv.FormatInt(n, 10)), expiresAt: expiresAt})
	return n, nil
}

// Expire sets the TTL of an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok || e.expired(time.Now()) {
		return nil
	}
	e.expiresAt = time.Now().Add(ttl)
	return nil
}

// TTL returns the remaining lifetime of key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.cache.Get(key)
	if !ok || e.expired(now) {
		return storage.TTLMissing, nil
	}
	if e.expiresAt.IsZero() {
		return storage.TTLNone, nil
	}
	return e.expiresAt.Sub(now), nil
}

// Exists reports whether key is present and unexpired.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok {
		return false, nil
	}
	if e.expired(time.Now()) {
		s.cache.Remove(key)
		return false, nil
	}
	return true, nil
}

// Ping always succeeds for the in-process store.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor and drops all entries. Safe to call twice.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// janitor drops expired entries that are never touched again so they do
// not occupy LRU slots until eviction.
func (s *Store) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for _, key := range s.cache.Keys() {
				if e, ok := s.cache.Peek(key); ok && e.expired(now) {
					s.cache.Remove(key)
				}
			}
			s.mu.Unlock()
		}
	}
}

var _ storage.Store = (*Store)(nil)
