package auth

import (
	"fmt"
	"strings"
)

// WithRealm sets the realm advertised in Bearer challenges.
func WithRealm(realm string) GuardOption {
	return func(g *Guard) { g.realm = realm }
}

// WithResourceMetadata advertises the absolute URL of the OAuth protected
// resource metadata document in Bearer challenges.
func WithResourceMetadata(url string) GuardOption {
	return func(g *Guard) { g.resourceMetadata = url }
}

// Challenge renders the WWW-Authenticate value for a request carrying c that
// was denied. error="invalid_token" is only set when a token was supplied.
func (g *Guard) Challenge(c Credentials) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	var pieces []string
	if g.realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(g.realm)))
	}
	if c.HasHeader || c.HasQuery {
		pieces = append(pieces, `error="invalid_token"`)
	}
	if g.resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(g.resourceMetadata)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
