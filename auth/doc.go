// Package auth implements the admission policy shared by the REST and SSE
// transports.
//
// A Guard is built once at startup from an optional Verifier. Without a
// verifier the guard runs in open mode and admits every request; this is
// logged once as a warning. With a verifier, a request is admitted when its
// token verifies. The token is taken from the api_key query parameter when
// that parameter is present, and from an "Authorization: Bearer <token>"
// header otherwise.
//
// Two verifiers are provided. StaticKey compares against a shared API key in
// constant time. AccessTokenVerifier validates JWT access tokens against an
// issuer's JWKS, discovered through OpenID Connect or configured directly:
//
//	v, err := auth.NewAccessTokenVerifier(ctx, "https://issuer.example", "https://vault.example/mcp", "")
//	if err != nil { return err }
//	guard := auth.NewGuard(v, auth.WithGuardLogger(log))
//
//	if err := guard.CheckRequest(r); errors.Is(err, auth.ErrUnauthorized) {
//	    // map to 401
//	}
//
// # Errors
//
// Every denial wraps ErrUnauthorized. A JWT that verifies but lacks a
// required scope additionally wraps ErrInsufficientScope. The policy is all
// or nothing, so transports treat both as a 401.
package auth
