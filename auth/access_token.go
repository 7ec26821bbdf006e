package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/internal/jwtauth"
)

// AccessTokenOption configures the JWT access token verifier.
type AccessTokenOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) AccessTokenOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// AccessTokenVerifier admits JWT access tokens signed by a trusted issuer.
// It is the alternative to StaticKey when callers hold issuer-minted tokens
// instead of the shared API key.
type AccessTokenVerifier struct {
	authn *jwtauth.Authenticator
}

// NewAccessTokenVerifier builds a verifier for issuer and audience. When
// jwksURI is empty the JWKS location is found through OIDC discovery.
func NewAccessTokenVerifier(ctx context.Context, issuer, audience, jwksURI string, opts ...AccessTokenOption) (*AccessTokenVerifier, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}

	var (
		authn *jwtauth.Authenticator
		err   error
	)
	if jwksURI != "" {
		authn, err = jwtauth.NewStatic(ctx, cfg, jwksURI)
	} else {
		authn, err = jwtauth.NewFromDiscovery(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("access token verifier: %w", err)
	}
	return &AccessTokenVerifier{authn: authn}, nil
}

// Verify implements Verifier.
func (v *AccessTokenVerifier) Verify(ctx context.Context, token string) error {
	_, err := v.authn.Check(ctx, token)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwtauth.ErrInsufficientScope):
		return fmt.Errorf("%w: %w", ErrInsufficientScope, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
}

var _ Verifier = (*AccessTokenVerifier)(nil)
