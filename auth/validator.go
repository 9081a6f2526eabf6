package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-vikunja/vikunja-mcp/storage"
	"github.com/go-vikunja/vikunja-mcp/storage/memory"
)

// DefaultCacheTTL bounds how long a validated credential is accepted
// without re-checking upstream. A credential revoked upstream remains
// valid for up to this long after its last validation; that window is a
// deliberate availability tradeoff.
const DefaultCacheTTL = 300 * time.Second

const cacheKeyPrefix = "authcache:"

// Option configures the Validator.
type Option func(*Validator)

// WithLogger sets the slog logger used by the validator.
func WithLogger(log *slog.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// WithCacheTTL overrides the credential cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(v *Validator) { v.ttl = ttl }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// Validator resolves bearer credentials to user contexts, caching
// successful validations under hashed keys.
type Validator struct {
	identity IdentityClient
	cache    storage.Store
	fallback storage.Store
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewValidator constructs a Validator. cache may be nil, in which case
// only the in-process fallback cache is used.
func NewValidator(identity IdentityClient, cache storage.Store, opts ...Option) (*Validator, error) {
	if identity == nil {
		return nil, fmt.Errorf("identity client is required")
	}

	fallback, err := memory.New(memory.DefaultMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback cache: %w", err)
	}

	v := &Validator{
		identity: identity,
		cache:    cache,
		fallback: fallback,
		ttl:      DefaultCacheTTL,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ValidateToken resolves a bearer credential to a UserContext.
//
// Cache hits return without contacting upstream. Misses call the upstream
// identity endpoint; rejections surface as ErrUnauthorized and are never
// cached, so revalidation after a permission change is not delayed.
//
// Concurrent first validations of the same credential may each call
// upstream; all of them settle on equivalent contexts, so the race is
// accepted rather than coalesced.
func (v *Validator) ValidateToken(ctx context.Context, token string) (*UserContext, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrUnauthorized)
	}

	key := cacheKey(token)
	if uc := v.cacheGet(ctx, key); uc != nil {
		uc.Token = token
		return uc, nil
	}

	ident, err := v.identity.GetCurrentUser(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: upstream rejected credential", ErrUnauthorized)
		}
		return nil, fmt.Errorf("identity check failed: %w", err)
	}
	if ident.ID == 0 || ident.Username == "" {
		return nil, fmt.Errorf("%w: upstream identity payload missing id or username", ErrUnauthorized)
	}

	uc := &UserContext{
		ID:          ident.ID,
		Username:    ident.Username,
		Email:       ident.Email,
		Token:       token,
		Permissions: derivePermissions(ident),
		ValidatedAt: v.now(),
	}

	v.cacheSet(ctx, key, uc)
	return uc, nil
}

// InvalidateToken evicts a credential from whichever cache currently
// holds it, forcing the next validation to go upstream.
func (v *Validator) InvalidateToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	key := cacheKey(token)

	var errs []error
	if v.cache != nil {
		if err := v.cache.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.fallback.Delete(ctx, key); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the fallback cache.
func (v *Validator) Close() error {
	return v.fallback.Close()
}

func (v *Validator) cacheGet(ctx context.Context, key string) *UserContext {
	if v.cache != nil {
		data, err := v.cache.Get(ctx, key)
		if err == nil {
			return decodeContext(data)
		}
		v.log.WarnContext(ctx, "authcache.get.degraded", slog.String("err", err.Error()))
	}

	data, err := v.fallback.Get(ctx, key)
	if err != nil {
		return nil
	}
	return decodeContext(data)
}

func (v *Validator) cacheSet(ctx context.Context, key string, uc *UserContext) {
	data, err := json.Marshal(uc)
	if err != nil {
		v.log.ErrorContext(ctx, "authcache.encode.fail", slog.String("err", err.Error()))
		return
	}

	if v.cache != nil {
		setErr := v.cache.Set(ctx, key, data, v.ttl)
		if setErr == nil {
			return
		}
		v.log.WarnContext(ctx, "authcache.set.degraded", slog.String("err", setErr.Error()))
	}
	if err := v.fallback.Set(ctx, key, data, v.ttl); err != nil {
		v.log.ErrorContext(ctx, "authcache.fallback.set.fail", slog.String("err", err.Error()))
	}
}

func decodeContext(data []byte) *UserContext {
	if data == nil {
		return nil
	}
	var uc UserContext
	if err := json.Unmarshal(data, &uc); err != nil {
		return nil
	}
	return &uc
}

// cacheKey hashes the credential so plaintext tokens never appear in the
// cache key space.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func derivePermissions(ident *Identity) []string {
	if len(ident.Scopes) > 0 {
		perms := make([]string, len(ident.Scopes))
		copy(perms, ident.Scopes)
		return perms
	}
	return []string{"tasks:read", "tasks:write", "projects:read", "projects:write"}
}
