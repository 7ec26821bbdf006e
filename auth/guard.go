package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-obsidian-go/internal/logctx"
)

// DefaultQueryParam is the query parameter carrying a token.
const DefaultQueryParam = "api_key"

// Credentials are the token sources found on one request. Has* records
// presence, since an empty value is still a supplied (and failing) token.
type Credentials struct {
	Header    string
	HasHeader bool
	Query     string
	HasQuery  bool
}

// CredentialsFromRequest extracts the Authorization header and the query
// token named by param.
func CredentialsFromRequest(r *http.Request, param string) Credentials {
	var c Credentials
	if vals, ok := r.Header["Authorization"]; ok && len(vals) > 0 {
		c.Header, c.HasHeader = vals[0], true
	}
	q := r.URL.Query()
	if q.Has(param) {
		c.Query, c.HasQuery = q.Get(param), true
	}
	return c
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger used for the open-mode warning and
// denials.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.log = logctx.Wrap(l) }
}

// Guard applies one admission policy to every transport entry point.
//
//  1. With no verifier configured every request is admitted.
//  2. A supplied query token decides admission on its own, ignoring the header.
//  3. Otherwise the header must be exactly "Bearer <token>" (scheme is case
//     insensitive) and the token must verify.
//
// A Guard holds no mutable state and is safe for concurrent use.
type Guard struct {
	verifier         Verifier
	log              *slog.Logger
	realm            string
	resourceMetadata string
}

// NewGuard builds a Guard. A nil verifier selects open mode, which is logged
// once here at warning level.
func NewGuard(v Verifier, opts ...GuardOption) *Guard {
	g := &Guard{verifier: v, log: logctx.Wrap(nil)}
	for _, opt := range opts {
		opt(g)
	}
	if g.verifier == nil {
		g.log.Warn("auth.open_mode", slog.String("detail", "no API key configured; all requests are admitted"))
	} else {
		g.log.Info("auth.enabled")
	}
	return g
}

// OpenMode reports whether the guard admits everything.
func (g *Guard) OpenMode() bool { return g.verifier == nil }

// Admit reports whether c is admitted.
func (g *Guard) Admit(ctx context.Context, c Credentials) bool {
	return g.Check(ctx, c) == nil
}

// Check returns nil when c is admitted and an error wrapping ErrUnauthorized
// otherwise.
func (g *Guard) Check(ctx context.Context, c Credentials) error {
	if g.verifier == nil {
		return nil
	}

	var token string
	switch {
	case c.HasQuery:
		token = c.Query
	case c.HasHeader:
		t, ok := parseBearer(c.Header)
		if !ok {
			return fmt.Errorf("%w: malformed authorization header", ErrUnauthorized)
		}
		token = t
	default:
		return fmt.Errorf("%w: no credentials supplied", ErrUnauthorized)
	}

	if err := g.verifier.Verify(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// CheckRequest is Check applied to the credentials on r.
func (g *Guard) CheckRequest(r *http.Request) error {
	return g.Check(r.Context(), CredentialsFromRequest(r, DefaultQueryParam))
}

// parseBearer splits a header of the form "Bearer <token>".
func parseBearer(h string) (string, bool) {
	parts := strings.Fields(h)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
