package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/ggoodman/mcp-obsidian-go/auth"
	"github.com/ggoodman/mcp-obsidian-go/config"
	"github.com/ggoodman/mcp-obsidian-go/sessions/memoryhost"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func TestToolsCommand(t *testing.T) {
	t.Setenv("OBSIDIAN_API_KEY", "k")
	t.Setenv("MCP_TOOL_PREFIX", "obsidian_")

	out, err := executeCommand(newRootCmd(), "tools", "--env-file", noEnvFile(t))
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 13 {
		t.Fatalf("want 13 tools, got %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "obsidian_append_content") {
		t.Fatalf("want prefixed, sorted names, got %q", lines[0])
	}
}

func TestToolsCommandRequiresVaultKey(t *testing.T) {
	t.Setenv("OBSIDIAN_API_KEY", "")
	_, err := executeCommand(newRootCmd(), "tools", "--env-file", noEnvFile(t))
	if err == nil || !strings.Contains(err.Error(), "OBSIDIAN_API_KEY") {
		t.Fatalf("want missing key error, got %v", err)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Log: config.Log{Level: "debug", Format: "json"}}
	log, err := newLogger(&buf, cfg)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Debug("hello")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("want json record, got %q", buf.String())
	}
	if rec["msg"] != "hello" {
		t.Fatalf("want msg hello, got %v", rec["msg"])
	}
}

func TestBuildVerifier(t *testing.T) {
	ctx := context.Background()

	v, err := buildVerifier(ctx, &config.Config{})
	if err != nil || v != nil {
		t.Fatalf("want open mode, got %v (%v)", v, err)
	}

	v, err = buildVerifier(ctx, &config.Config{HTTP: config.HTTP{APIKey: "secret"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := v.(auth.StaticKey); !ok {
		t.Fatalf("want auth.StaticKey, got %T", v)
	}
}

func TestBuildSessionHostMemory(t *testing.T) {
	h, closeHost, err := buildSessionHost(&config.Config{Sessions: config.Sessions{Backend: "memory"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeHost()
	if _, ok := h.(*memoryhost.Host); !ok {
		t.Fatalf("want memory host, got %T", h)
	}
}

func TestProtectedResource(t *testing.T) {
	cfg := &config.Config{}
	if _, ok := protectedResource(cfg); ok {
		t.Fatalf("want no metadata without an issuer")
	}
	cfg.Auth.Issuer = "https://issuer.example"
	if _, ok := protectedResource(cfg); ok {
		t.Fatalf("want no metadata without a public url")
	}
	cfg.HTTP.PublicURL = "https://mcp.example"
	meta, ok := protectedResource(cfg)
	if !ok {
		t.Fatalf("want metadata")
	}
	if got, want := meta.MetadataURL(), "https://mcp.example/.well-known/oauth-protected-resource"; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestBuildVerifierJWTOptions(t *testing.T) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	jwks, err := json.Marshal(struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	}))
	defer srv.Close()

	sign := func(scope string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":   "https://issuer.example",
			"sub":   "agent",
			"aud":   "https://mcp.example",
			"exp":   exp.Unix(),
			"scope": scope,
		})
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(pk)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := &config.Config{Auth: config.Auth{
		Issuer:   "https://issuer.example",
		Audience: "https://mcp.example",
		JWKSURL:  srv.URL,
		Scopes:   []string{"vault.read", "vault.write"},
		Algs:     []string{"RS256"},
		Leeway:   time.Minute,
	}}
	v, err := buildVerifier(ctx, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := v.(*auth.AccessTokenVerifier); !ok {
		t.Fatalf("want *auth.AccessTokenVerifier, got %T", v)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"all scopes", sign("vault.read vault.write", time.Now().Add(time.Hour)), nil},
		{"missing scope", sign("vault.read", time.Now().Add(time.Hour)), auth.ErrInsufficientScope},
		{"expired within leeway", sign("vault.read vault.write", time.Now().Add(-30*time.Second)), nil},
		{"expired past leeway", sign("vault.read vault.write", time.Now().Add(-2*time.Minute)), auth.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(ctx, tt.token)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("want admitted, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}

	cfg.HTTP.PublicURL = "https://mcp.example"
	meta, ok := protectedResource(cfg)
	if !ok || len(meta.ScopesSupported) != 2 {
		t.Fatalf("want scopes advertised, got %+v", meta)
	}
}
