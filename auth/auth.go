// Package auth turns bearer credentials into verified user identities.
//
// Validation is delegated to an upstream identity endpoint and memoized in
// a TTL'd credential cache keyed by a one-way hash of the credential. When
// the cache backend is unavailable the validator degrades to a bounded
// in-process cache rather than failing requests.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized indicates authentication failed or no valid credentials
// were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// UserContext is the verified identity produced by a successful token
// validation. It is immutable once produced.
type UserContext struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Token       string    `json:"-"`
	Permissions []string  `json:"permissions"`
	ValidatedAt time.Time `json:"validatedAt"`
}

// Identity is the payload the upstream identity endpoint must return for
// a valid credential.
type Identity struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// IdentityClient is the upstream contract the validator depends on. It
// should return ErrUnauthorized (wrapped or bare) when the upstream
// rejects the credential, and any other error for transport failures.
type IdentityClient interface {
	GetCurrentUser(ctx context.Context, token string) (*Identity, error)
}
