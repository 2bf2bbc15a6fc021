package api

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StaticToken is a TokenSource around a fixed bearer token. Refresh is not
// supported; an expired static token surfaces as unauthorized.
type StaticToken string

// Token returns the fixed credential.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Refresh always fails: there is nothing to refresh.
func (s StaticToken) Refresh(context.Context) (string, error) {
	return "", fmt.Errorf("static token cannot be refreshed")
}

// TokenExpiry extracts the expiry claim from a JWT-shaped bearer token
// without verifying the signature (the server does that). Returns the zero
// time when the token carries no usable expiry.
func TokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// RefreshingToken caches a bearer credential and renews it through the
// supplied callback shortly before expiry or on demand. Like the engine it
// serves, it expects a single logical owner and carries no locking.
type RefreshingToken struct {
	current string
	expiry  time.Time
	renew   func(ctx context.Context) (string, error)
}

// NewRefreshingToken constructs a source that renews through the callback.
func NewRefreshingToken(renew func(ctx context.Context) (string, error)) *RefreshingToken {
	return &RefreshingToken{renew: renew}
}

// expirySlack renews slightly early so an almost-expired credential is not
// sent with a long request.
const expirySlack = 30 * time.Second

// Token returns the cached credential, renewing when missing or near expiry.
func (r *RefreshingToken) Token(ctx context.Context) (string, error) {
	if r.current != "" && (r.expiry.IsZero() || time.Now().Before(r.expiry.Add(-expirySlack))) {
		return r.current, nil
	}
	return r.Refresh(ctx)
}

// Refresh renews the credential through the callback and caches it.
func (r *RefreshingToken) Refresh(ctx context.Context) (string, error) {
	tok, err := r.renew(ctx)
	if err != nil {
		return "", err
	}
	r.current = tok
	r.expiry = TokenExpiry(tok)
	return tok, nil
}
