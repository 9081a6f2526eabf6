// Package ratelimit provides per-identity admission control backed by a
// counting store.
//
// The limiter is a pure primitive: it knows nothing about sessions or the
// protocol, and it is consulted before any session or dispatch work so
// over-budget callers are rejected as cheaply as possible. Limits apply
// per identity (credential), not per session.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-vikunja/vikunja-mcp/storage"
)

const keyPrefix = "ratelimit:"

// Error reports an exceeded budget and carries the retry hint surfaced to
// clients.
type Error struct {
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Config holds limiter tuning parameters.
type Config struct {
	// MaxRequests is the budget per identifier per window.
	MaxRequests int64
	// Window is the fixed window length.
	Window time.Duration
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithLogger sets the slog logger used by the limiter.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// Limiter enforces a fixed-window request budget per identifier using
// store counters (INCR with a TTL set on the window's first hit).
type Limiter struct {
	store  storage.Store
	config Config
	log    *slog.Logger
}

// New creates a Limiter backed by the given store.
func New(store storage.Store, cfg Config, opts ...Option) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 120
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &Limiter{store: store, config: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one request for identifier and returns *Error when the
// budget is exceeded. A store failure admits the request (fail open) so a
// degraded counter backend cannot take the service down with it.
func (l *Limiter) Check(ctx context.Context, identifier string) error {
	key := limitKey(identifier)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.log.WarnContext(ctx, "ratelimit.store.degraded", slog.String("err", err.Error()))
		return nil
	}

	// Fixed-window semantics: the TTL starts with the window's first hit.
	if count == 1 {
		if err := l.store.Expire(ctx, key, l.config.Window); err != nil {
			l.log.WarnContext(ctx, "ratelimit.expire.fail", slog.String("err", err.Error()))
		}
	}

	if count <= l.config.MaxRequests {
		return nil
	}

	retryAfter := l.config.Window
	if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return &Error{RetryAfter: retryAfter}
}

// limitKey hashes the identifier so raw credentials never appear in the
// counter key space.
func limitKey(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return keyPrefix + hex.EncodeToString(sum[:])
}
