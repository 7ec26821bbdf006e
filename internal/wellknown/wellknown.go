// Package wellknown serves the OAuth 2.0 protected resource metadata
// document (RFC 9728) for deployments that verify JWT access tokens.
package wellknown

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ProtectedResourcePath is the well-known location of the document.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// NewProtectedResource describes resource (the server's public base URL)
// guarded by tokens from issuer. Tokens are accepted in the Authorization
// header and in the api_key query parameter.
func NewProtectedResource(resource, issuer, jwksURI, name string) ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:               strings.TrimRight(resource, "/"),
		AuthorizationServers:   []string{issuer},
		JwksURI:                jwksURI,
		BearerMethodsSupported: []string{"header", "query"},
		ResourceName:           name,
	}
}

// MetadataURL is the absolute URL of the document for m.
func (m ProtectedResourceMetadata) MetadataURL() string {
	return m.Resource + ProtectedResourcePath
}

func (m ProtectedResourceMetadata) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.NewEncoder(w).Encode(m)
}
