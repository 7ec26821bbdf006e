package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials
// were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates a token was valid but lacked a required
// scope. The guard treats it as a denial.
var ErrInsufficientScope = errors.New("insufficient scope")

// Verifier decides whether a presented token matches the configured secret.
// Implementations return an error wrapping ErrUnauthorized on mismatch.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// VerifierFunc adapts a function into a Verifier.
type VerifierFunc func(ctx context.Context, token string) error

func (f VerifierFunc) Verify(ctx context.Context, token string) error { return f(ctx, token) }

// StaticKey admits exactly one shared secret.
type StaticKey string

// Verify compares token to the key in constant time.
func (k StaticKey) Verify(_ context.Context, token string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(k)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

var (
	_ Verifier = StaticKey("")
	_ Verifier = VerifierFunc(nil)
)
